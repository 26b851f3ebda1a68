package validation

import (
	"regexp"
	"strings"
)

var (
	slugStrip    = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s-]+`)
	slugSeparate = regexp.MustCompile(`[\s-]+`)
)

// Slug derives a URL slug from a title. It is idempotent.
func Slug(title string) string {
	s := strings.ToLower(title)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSeparate.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
