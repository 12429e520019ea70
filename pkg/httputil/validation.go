package httputil

import (
	"strings"
)

// IsEmpty checks if a string is empty after trimming whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// IsNotEmpty checks if a string is not empty after trimming whitespace.
func IsNotEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}
