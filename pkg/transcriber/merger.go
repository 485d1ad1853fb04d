package transcriber

import (
	"strings"
)

// segmentSeparator joins consecutive segment texts
const segmentSeparator = " "

// MergeSegments joins segment texts in ordinal order. Failed segments are
// passed as "" and keep their position, so a gap shows as a doubled separator.
func MergeSegments(texts []string) string {
	return strings.Join(texts, segmentSeparator)
}
