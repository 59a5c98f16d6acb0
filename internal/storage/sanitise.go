package storage

import "strings"

// filenameStripped are the characters removed from titles before they become
// path components.
const filenameStripped = `<>:"/\|?*`

// SanitizeTitle turns a display title into a safe filename component.
// Forbidden characters are stripped, whitespace runs collapse, and the
// remaining words are joined with dots: "Fight Club" becomes "Fight.Club".
func SanitizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if !strings.ContainsRune(filenameStripped, r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), ".")
}
