package chunk

import "strings"

// Normalize cleans raw extracted text before splitting.
//
// Control characters other than newline and tab are replaced with spaces,
// runs of whitespace within a line collapse to a single space, and blank
// lines are dropped. Normalize is idempotent: applying it to already
// normalized text returns the input unchanged.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
