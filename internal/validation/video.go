package validation

import "regexp"

const embedPrefix = "https://www.youtube.com/embed/"

var (
	youtubeEmbed = regexp.MustCompile(`^https?://(?:www\.)?youtube\.com/embed/[A-Za-z0-9_-]+`)
	youtubeWatch = regexp.MustCompile(`^https?://(?:www\.)?youtube\.com/watch\?v=([A-Za-z0-9_-]+)`)
	youtubeShort = regexp.MustCompile(`^https?://(?:www\.)?youtu\.be/([A-Za-z0-9_-]+)`)
)

// NormalizeVideoURL rewrites YouTube watch and short links to the embeddable form.
// Embed links and anything unrecognised are returned unchanged.
func NormalizeVideoURL(raw string) string {
	if youtubeEmbed.MatchString(raw) {
		return raw
	}
	for _, re := range []*regexp.Regexp{youtubeWatch, youtubeShort} {
		if m := re.FindStringSubmatch(raw); m != nil {
			return embedPrefix + m[1]
		}
	}
	return raw
}
