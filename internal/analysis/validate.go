package analysis

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// MaxNameLen bounds a character name in runes.
const MaxNameLen = 100

// ErrInvalidName is returned for character names that cannot be used in a
// prompt.
var ErrInvalidName = errors.New("invalid character name")

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

// NormalizeName trims a name and checks it is safe to place in a prompt.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if len([]rune(name)) > MaxNameLen {
		return "", ErrInvalidName
	}
	if strings.ContainsFunc(name, unicode.IsControl) {
		return "", ErrInvalidName
	}
	if injectionPattern.MatchString(name) {
		return "", ErrInvalidName
	}
	return name, nil
}
