// Package utils holds small, generic helpers shared across layers. Nothing
// in here knows about stories, quotas, or HTTP.
package utils

import "strconv"

// AtoiDefault parses s as an int, falling back to def when s is empty or
// unparsable. Handlers use it for query parameters such as page and
// page_size, where a malformed value should mean "use the default" rather
// than an error.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
