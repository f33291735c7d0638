package recording

import (
	"strings"
	"time"
)

const maxLabelLen = 64

// FileName returns the default CSV name for a session, e.g.
// "walking-20260301-120000.csv". The label is reduced to characters safe in
// a file name.
func FileName(label string, started time.Time) string {
	return sanitizeLabel(label) + "-" + started.UTC().Format("20060102-150405") + ".csv"
}

func sanitizeLabel(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLabelLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unlabelled"
	}
	return out
}
