package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxDisplayNameLength = 80
	PlaceholderName      = "Contact"
)

var invalidAvatarPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^data:[,;]`),
	regexp.MustCompile(`404`),
	regexp.MustCompile(`(?i)not-found`),
	regexp.MustCompile(`localhost`),
	regexp.MustCompile(`127\.0\.0\.1`),
}

// DisplayName picks the first usable candidate in the order
// displayName, name, email local part, and falls back to PlaceholderName.
// A raw identifier is never returned as a name.
func DisplayName(p Profile) string {
	for _, candidate := range []string{p.DisplayName, p.Name, emailLocalPart(p.Email)} {
		if name, ok := usableName(candidate); ok {
			return name
		}
	}
	return PlaceholderName
}

// CleanAvatarURL drops empty data URIs, local addresses, broken links and ids used as avatars.
func CleanAvatarURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || looksLikeID(trimmed) {
		return ""
	}
	for _, pattern := range invalidAvatarPatterns {
		if pattern.MatchString(trimmed) {
			return ""
		}
	}
	return trimmed
}

func usableName(raw string) (string, bool) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" || looksLikeID(name) {
		return "", false
	}
	return truncateOnWord(name, MaxDisplayNameLength), true
}

func emailLocalPart(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found {
		return ""
	}
	return local
}

func looksLikeID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// truncateOnWord cuts at the last space before max runes, or hard cuts when there is none.
func truncateOnWord(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := runes[:max]
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == ' ' {
			return string(cut[:i])
		}
	}
	return string(cut)
}
