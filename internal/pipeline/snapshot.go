package pipeline

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/jonathan/site-deployer/internal/db"
)

const redacted = "[redacted]"

// requestSnapshot returns the audit copy of a raw intake body: the secret
// value replaced and the text cut to db.RawRequestLimit runes.
func requestSnapshot(raw []byte) string {
	text := string(raw)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		if _, ok := fields["secret"]; ok {
			fields["secret"] = json.RawMessage(`"` + redacted + `"`)
			if b, err := json.Marshal(fields); err == nil {
				text = string(b)
			}
		}
	}
	return truncateRunes(text, db.RawRequestLimit)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
