package validation

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedAnswer is returned when a submitted answer has the wrong shape
var ErrMalformedAnswer = errors.New("malformed answer")

// NormalizeAnswer normalizes a text answer for comparison: surrounding
// whitespace is trimmed and the text is case-folded to lower.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// SameAnswer reports whether two text answers match after normalization
func SameAnswer(submitted, expected string) bool {
	return NormalizeAnswer(submitted) == NormalizeAnswer(expected)
}

// ChoiceIndices decodes a choice answer: a single index or a list of indices
func ChoiceIndices(raw json.RawMessage) ([]int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var idx []int
		if err := json.Unmarshal(raw, &idx); err != nil {
			return nil, errors.Wrap(ErrMalformedAnswer, "expected a list of option indices")
		}
		return idx, nil
	}
	var i int
	if err := json.Unmarshal(raw, &i); err != nil {
		return nil, errors.Wrap(ErrMalformedAnswer, "expected an option index")
	}
	return []int{i}, nil
}

// TextAnswer decodes a text_input answer
func TextAnswer(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errors.Wrap(ErrMalformedAnswer, "expected a text answer")
	}
	return s, nil
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
