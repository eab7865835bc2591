package util

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseBool parses the boolean spellings accepted in environment
// variables: 1/0, true/false, yes/no, on/off, y/n, t/f (any case).
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// IsWhitespace reports whether s is non-empty and made only of whitespace.
func IsWhitespace(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
