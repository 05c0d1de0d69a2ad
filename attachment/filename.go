package attachment

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxFileNameLength = 255

var (
	unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	repeatedDots    = regexp.MustCompile(`\.{2,}`)
)

// SanitizeFileName keeps alphanumerics, dots and dashes, collapses dot runs
// and strips leading dots so the result can never escape its directory.
func SanitizeFileName(name string) string {
	clean := unsafeFileChars.ReplaceAllString(name, "_")
	clean = repeatedDots.ReplaceAllString(clean, ".")
	clean = strings.TrimLeft(clean, ".")
	if len(clean) > maxFileNameLength {
		clean = clean[:maxFileNameLength]
	}
	if clean == "" {
		return "file"
	}
	return clean
}

// BlobKey lays blobs out as {uploader}/{conversation}/{unix-ms}-{name}.
func BlobKey(uploaderID, conversationID string, at time.Time, fileName string) string {
	return fmt.Sprintf("%s/%s/%d-%s",
		SanitizeFileName(uploaderID),
		SanitizeFileName(conversationID),
		at.UnixMilli(),
		SanitizeFileName(fileName),
	)
}
