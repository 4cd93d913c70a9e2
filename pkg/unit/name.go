package unit

import (
	"strings"

	"github.com/core-tools/hsu-extensions/pkg/errors"
)

const (
	// WildcardLoaded selects the loaded units (unload/reload) or the
	// unloaded ones (load).
	WildcardLoaded = "*"
	// WildcardAll selects every registered unit.
	WildcardAll = "**"

	separator = "."
)

// IsWildcard reports whether raw is one of the reserved wildcard markers.
func IsWildcard(raw string) bool {
	return raw == WildcardLoaded || raw == WildcardAll
}

// Canonical returns the canonical lowercase form of a name.
func Canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateName checks that name is a canonical qualified name: at least two
// dot-separated segments of [a-z0-9_-].
func ValidateName(name string) error {
	if name == "" {
		return errors.NewValidationError("unit name cannot be empty", nil)
	}
	if name != Canonical(name) {
		return errors.NewValidationError("unit name must be lowercase: "+name, nil)
	}

	segments := strings.Split(name, separator)
	if len(segments) < 2 {
		return errors.NewValidationError("unit name must be qualified with a namespace: "+name, nil)
	}
	for _, segment := range segments {
		if segment == "" {
			return errors.NewValidationError("unit name contains an empty segment: "+name, nil)
		}
		for _, char := range segment {
			if !isValidNameChar(char) {
				return errors.NewValidationError("unit name contains invalid characters: "+name, nil)
			}
		}
	}
	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= '0' && char <= '9') ||
		char == '_' || char == '-'
}

// Join builds a qualified name from a namespace and a relative name.
func Join(namespace string, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + separator + name
}

// Leaf returns the last segment: "a.b.ping" -> "ping".
func Leaf(name string) string {
	if i := strings.LastIndex(name, separator); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Root returns everything but the last segment: "a.b.ping" -> "a.b".
func Root(name string) string {
	if i := strings.LastIndex(name, separator); i >= 0 {
		return name[:i]
	}
	return ""
}

// Segments splits a qualified name into its segments.
func Segments(name string) []string {
	return strings.Split(name, separator)
}
