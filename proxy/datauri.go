package proxy

import (
	"regexp"
	"strings"
)

var dataURIPattern = regexp.MustCompile(`^data:[^;]+;base64,(.+)$`)

// ExtractBase64 strips a data-URI wrapper from image content, returning the
// bare base64 payload. Inputs that are already bare pass through unchanged.
func ExtractBase64(content string) string {
	if m := dataURIPattern.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	if strings.HasPrefix(content, "data:") {
		if i := strings.Index(content, ","); i >= 0 {
			return content[i+1:]
		}
	}
	return content
}

// EnsureDataURI wraps bare base64 content as a JPEG data URI for endpoints
// that require one.
func EnsureDataURI(content string) string {
	if strings.HasPrefix(content, "data:") {
		return content
	}
	return "data:image/jpeg;base64," + content
}
