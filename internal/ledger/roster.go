package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"tournament-desk/internal/models"
)

var rosterColumns = []string{"participant_id", "name", "college", "sport"}

// ParseRoster reads a roster CSV. The header row is optional; without one
// the columns are participant_id,name,college,sport. sport may be absent.
func ParseRoster(r io.Reader) ([]models.RosterEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	index := map[string]int{}
	for i, c := range rosterColumns {
		index[c] = i
	}

	var out []models.RosterEntry
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("roster line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "participant_id") {
			index = map[string]int{}
			for i, c := range rec {
				index[strings.ToLower(strings.TrimSpace(c))] = i
			}
			if _, ok := index["participant_id"]; !ok {
				return nil, fmt.Errorf("roster header has no participant_id column")
			}
			continue
		}
		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		e := models.RosterEntry{
			ParticipantID: field("participant_id"),
			Name:          field("name"),
			College:       field("college"),
			Sport:         field("sport"),
		}
		if e.ParticipantID == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
