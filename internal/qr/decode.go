// Package qr turns scanned badge payloads into participant identities and
// runs the frame scan loop over a camera stream.
package qr

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Decode extracts the participant identity from a raw scan or manual entry.
// Badges carry either the bare id or a JSON object with a participant_id
// field. Anything that does not parse as such is returned trimmed, as is.
// An empty result is possible; callers must reject it before a lookup.
func Decode(raw string) string {
	text := strings.TrimSpace(raw)
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return text
	}
	v, ok := payload["participant_id"]
	if !ok || v == nil {
		return text
	}
	switch id := v.(type) {
	case string:
		if id == "" {
			return text
		}
		return id
	case float64:
		if id == 0 {
			return text
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return text
	}
}
