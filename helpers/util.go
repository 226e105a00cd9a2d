package helpers

import (
	"strings"
)

// LastSplitPart returns the last non-empty part of target split by sep
func LastSplitPart(target string, sep string) string {
	parts := strings.Split(strings.TrimSpace(target), sep)
	for i := len(parts) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(parts[i]); p != "" {
			return p
		}
	}
	return ""
}

// IDFromURL derives a listing id from the trailing path segment of link,
// dropping the query string and a ".htm" suffix.
func IDFromURL(link string) string {
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	last := LastSplitPart(link, "/")
	last = strings.TrimSuffix(last, ".html")
	return strings.TrimSuffix(last, ".htm")
}
