package mediation

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
)

// spotlightMarker replaces whitespace in spotlighted text.
const spotlightMarker = '^'

// Spotlight rewrites untrusted argument text before it is shown to the AI
// reviewer: every whitespace character becomes a marker rune, so natural
// language embedded in the arguments cannot read as instructions to the
// reviewer. The reviewer's prompt explains the encoding.
func Spotlight(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return spotlightMarker
		}
		return r
	}, s)
}

// spotlightArguments spotlights a JSON argument payload while keeping it
// valid JSON: the document is compacted first so the only whitespace left
// to mark sits inside string values. A payload that does not parse is
// spotlighted as one quoted string instead.
func spotlightArguments(args json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, args); err != nil {
		quoted, _ := json.Marshal(Spotlight(string(args)))
		return quoted
	}
	return json.RawMessage(Spotlight(buf.String()))
}
