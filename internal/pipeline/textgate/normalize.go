package textgate

import "strings"

// normalize folds full-width ASCII and the ideographic space to their
// half-width forms, then collapses whitespace runs to one space and trims.
func normalize(s string) string {
	folded := strings.Map(func(r rune) rune {
		switch {
		case r == '\u3000':
			return ' '
		case r >= '\uFF01' && r <= '\uFF5E':
			return r - 0xFEE0
		default:
			return r
		}
	}, s)
	return strings.Join(strings.Fields(folded), " ")
}

// stripSpaces removes every space from an already normalized string so word
// segmentation jitter compares equal.
func stripSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "")
}

// grows reports whether cur strictly extends prev.
func grows(prev, cur string) bool {
	return len(cur) > len(prev) && strings.HasPrefix(cur, prev)
}
