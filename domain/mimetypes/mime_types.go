package mimetypes

import (
	"mime"
	"strings"
)

type MIME string

const (
	Unknown MIME = "unknown"

	ApplicationPDF MIME = "application/pdf"

	ImagePNG  MIME = "image/png"
	ImageJPEG MIME = "image/jpeg"
	ImageGIF  MIME = "image/gif"
	ImageWebP MIME = "image/webp"
)

// Normalize strips parameters and lower-cases a media type.
// It returns Unknown when the value cannot be parsed.
func Normalize(raw string) MIME {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return Unknown
	}
	return MIME(strings.ToLower(mt))
}

// Matches compares a detected media type, possibly with parameters, to the expected one.
func Matches(detected string, expected MIME) (MIME, bool) {
	mt := Normalize(detected)
	if mt == Unknown {
		return Unknown, false
	}
	return expected, mt == expected
}

func IsImage(m MIME) bool {
	return strings.HasPrefix(string(m), "image/")
}
