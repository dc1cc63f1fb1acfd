package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxUsernameLength = 64
	MinPasswordLength = 6
	MaxContentLength  = 4096
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{4,30}$`)
)

// ValidUsername checks that a username is alphanumeric plus underscore and hyphen
func ValidUsername(s string) bool {
	return s != "" && len(s) <= MaxUsernameLength && usernamePattern.MatchString(s)
}

// ValidPhone accepts international numbers with optional formatting characters.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(strings.TrimSpace(s))
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// ValidateLength checks if string is within bounds (in characters)
func ValidateLength(s string, min, max int) bool {
	l := utf8.RuneCountInString(s)
	return l >= min && l <= max
}
