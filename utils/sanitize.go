package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var plainText = bluemonday.StrictPolicy()

// SanitizeText strips all markup from user supplied free text and trims it to maxRunes.
func SanitizeText(input string, maxRunes int) string {
	out := strings.TrimSpace(plainText.Sanitize(input))
	if maxRunes > 0 {
		if rs := []rune(out); len(rs) > maxRunes {
			out = string(rs[:maxRunes])
		}
	}
	return out
}
