// Package attachment validates, stores and describes message attachments.
package attachment

import (
	"fmt"
	"strings"

	"marketplace-inbox/domain"
	"marketplace-inbox/domain/mimetypes"
)

// FileInfo is what the validator needs to know about a candidate file.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Result holds every rejection reason for one file. An empty Reasons means Ok.
type Result struct {
	File    FileInfo `json:"file"`
	Reasons []string `json:"reasons,omitempty"`
}

func (r Result) OK() bool { return len(r.Reasons) == 0 }

func (r Result) Error() string { return strings.Join(r.Reasons, "; ") }

// Validate checks a single file against the plan limits.
// The size and type checks always both run so every reason is reported.
func Validate(file FileInfo, limits domain.PlanLimits) Result {
	result := Result{File: file}
	switch {
	case file.Size <= 0:
		result.Reasons = append(result.Reasons, "File is empty")
	case file.Size > limits.MaxSizeBytes():
		result.Reasons = append(result.Reasons, fmt.Sprintf("Exceeds %dMB limit", limits.MaxSizeMB))
	}
	mt := mimetypes.Normalize(file.MimeType)
	if mt == mimetypes.Unknown || !limits.Allows(string(mt)) {
		result.Reasons = append(result.Reasons, fmt.Sprintf("File type %s is not allowed", displayType(file.MimeType)))
	}
	return result
}

// ValidateBatch validates each file independently. Files past the plan's
// MaxFiles also carry a count reason; earlier files are unaffected.
func ValidateBatch(files []FileInfo, limits domain.PlanLimits) []Result {
	results := make([]Result, len(files))
	for i, f := range files {
		results[i] = Validate(f, limits)
		if limits.MaxFiles > 0 && i >= limits.MaxFiles {
			results[i].Reasons = append(results[i].Reasons, fmt.Sprintf("Maximum %d files per message", limits.MaxFiles))
		}
	}
	return results
}

func displayType(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "unknown"
	}
	return raw
}

// FormatFileSize renders a byte count the way the upload UI shows it.
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.2f", size), "0"), ".0") + " " + units[i]
}
