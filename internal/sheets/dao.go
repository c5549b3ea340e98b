package sheets

import (
	"context"
	"fmt"
	"strings"

	sheetsv4 "google.golang.org/api/sheets/v4"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/models"
	"tournament-desk/internal/util"
)

const (
	SheetParticipants = "Participants"
	SheetSettings     = "Settings"
	SheetMealLog      = "Meal_Log"
)

// Participants columns
const (
	colID = iota
	colName
	colCollege
	colSport
	colRole
	colPhoto
	colRegisteredAt
	colFirstMeal
)

const keyStartDate = "start_date"

var (
	participantHeader = append([]interface{}{
		"participant_id", "name", "college", "sport", "role", "photo", "registered_at",
	}, slotHeaders()...)
	settingsHeader = []interface{}{"key", "value"}
	mealLogHeader  = []interface{}{"participant_id", "name", "day", "meal", "marked_at"}
)

var errNotFound = apperr.New(apperr.CodeNotFound, "Participant not found")

func slotHeaders() []interface{} {
	var out []interface{}
	for _, d := range models.Days {
		for _, m := range models.Meals {
			out = append(out, models.SlotKey(d, m))
		}
	}
	return out
}

// slotColumn is the zero-based column of a meal flag.
func slotColumn(d models.Day, m models.Meal) int {
	di, mi := 0, 0
	for i, v := range models.Days {
		if v == d {
			di = i
		}
	}
	for i, v := range models.Meals {
		if v == m {
			mi = i
		}
	}
	return colFirstMeal + di*len(models.Meals) + mi
}

// colLetter turns a zero-based index into a column letter; the sheets used
// here stay within A..Z.
func colLetter(idx int) string {
	return string(rune('A' + idx))
}

func (c *Client) readAll(ctx context.Context, sheet string) ([][]interface{}, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(c.spreadsheetID, sheet+"!A:Z").Context(ctx).Do()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeNetwork, "read "+sheet, err)
	}
	return resp.Values, nil
}

func (c *Client) appendRows(ctx context.Context, sheet string, rows [][]interface{}) error {
	vr := &sheetsv4.ValueRange{Values: rows}
	_, err := c.srv.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:Z", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return apperr.Wrap(apperr.CodeNetwork, "append "+sheet, err)
	}
	return nil
}

func (c *Client) updateRange(ctx context.Context, sheet, a1 string, row []interface{}) error {
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{row}}
	_, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, sheet+"!"+a1, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return apperr.Wrap(apperr.CodeNetwork, "update "+sheet, err)
	}
	return nil
}

func (c *Client) updateCell(ctx context.Context, sheet, a1 string, value interface{}) error {
	return c.updateRange(ctx, sheet, a1, []interface{}{value})
}

func (c *Client) batchUpdate(ctx context.Context, data []*sheetsv4.ValueRange) error {
	if len(data) == 0 {
		return nil
	}
	req := &sheetsv4.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: data}
	if _, err := c.srv.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return apperr.Wrap(apperr.CodeNetwork, "batch update", err)
	}
	return nil
}

// EnsureHeaders writes the header row of every sheet that is still empty.
func (c *Client) EnsureHeaders(ctx context.Context) error {
	for _, s := range []struct {
		name   string
		header []interface{}
	}{
		{SheetParticipants, participantHeader},
		{SheetSettings, settingsHeader},
		{SheetMealLog, mealLogHeader},
	} {
		values, err := c.readAll(ctx, s.name)
		if err != nil {
			return err
		}
		if len(values) > 0 {
			continue
		}
		if err := c.updateRange(ctx, s.name, "A1", s.header); err != nil {
			return err
		}
	}
	return nil
}

// ---------- Participants ----------

type participantRow struct {
	p        models.Participant
	photoRef string
	rowNum   int
}

func rowParticipant(row []interface{}, rowNum int) participantRow {
	p := models.Participant{
		ID:      strings.TrimSpace(get(row, colID)),
		Name:    get(row, colName),
		College: get(row, colCollege),
		Sport:   get(row, colSport),
		Role:    get(row, colRole),
		Food:    models.EmptyFoodLog(),
	}
	for _, d := range models.Days {
		for _, m := range models.Meals {
			if util.NormalizeBool(get(row, slotColumn(d, m))) {
				p.Food[d][m] = true
			}
		}
	}
	return participantRow{p: p, photoRef: strings.TrimSpace(get(row, colPhoto)), rowNum: rowNum}
}

func (c *Client) findParticipant(ctx context.Context, id string) (participantRow, error) {
	id = strings.TrimSpace(id)
	values, err := c.readAll(ctx, SheetParticipants)
	if err != nil {
		return participantRow{}, err
	}
	// header row at index 0
	for i := 1; i < len(values); i++ {
		if strings.TrimSpace(get(values[i], colID)) == id && id != "" {
			return rowParticipant(values[i], i+1), nil // sheet rows are 1-indexed
		}
	}
	return participantRow{}, errNotFound
}

func (c *Client) Lookup(ctx context.Context, id string) (models.Lookup, error) {
	r, err := c.findParticipant(ctx, id)
	if err != nil {
		return models.Lookup{}, err
	}
	return models.Lookup{
		Name:              r.p.Name,
		College:           r.p.College,
		Sport:             r.p.Sport,
		AlreadyRegistered: r.photoRef != "",
	}, nil
}

func (c *Client) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	r, err := c.findParticipant(ctx, id)
	if err != nil {
		return models.Participant{}, err
	}
	if r.photoRef != "" {
		photo, err := c.loadPhoto(ctx, r.photoRef)
		if err != nil {
			return models.Participant{}, err
		}
		r.p.Photo = photo
	}
	return r.p, nil
}

func (c *Client) Register(ctx context.Context, reg models.Registration) (models.RegisterResult, error) {
	if err := reg.Validate(); err != nil {
		return models.RegisterResult{}, apperr.Wrap(apperr.CodeValidation, err.Error(), err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.findParticipant(ctx, reg.ParticipantID)
	if err != nil {
		return models.RegisterResult{}, err
	}
	if r.photoRef != "" {
		return models.RegisterResult{}, apperr.New(apperr.CodeConflict, "Participant already registered")
	}
	ref, err := c.storePhoto(ctx, reg.ParticipantID, reg.Photo)
	if err != nil {
		return models.RegisterResult{}, err
	}
	// B..G: name, college, sport, role, photo, registered_at
	a1 := fmt.Sprintf("%s%d:%s%d", colLetter(colName), r.rowNum, colLetter(colRegisteredAt), r.rowNum)
	err = c.updateRange(ctx, SheetParticipants, a1, []interface{}{
		strings.TrimSpace(reg.Name), strings.TrimSpace(reg.College), strings.TrimSpace(reg.Sport),
		reg.Role, ref, util.NowISO(),
	})
	if err != nil {
		return models.RegisterResult{}, err
	}
	return models.RegisterResult{OK: true}, nil
}

func (c *Client) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	values, err := c.readAll(ctx, SheetParticipants)
	if err != nil {
		return nil, err
	}
	out := []models.Participant{}
	for i := 1; i < len(values); i++ {
		r := rowParticipant(values[i], i+1)
		if r.p.ID == "" {
			continue
		}
		if r.photoRef != "" {
			// Photo carries the stored reference here, not the image.
			r.p.Photo = []byte(r.photoRef)
		}
		out = append(out, r.p)
	}
	return out, nil
}

// ImportRoster updates listed participants in place and appends new ones.
func (c *Client) ImportRoster(ctx context.Context, entries []models.RosterEntry) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.readAll(ctx, SheetParticipants)
	if err != nil {
		return 0, err
	}
	rows := map[string]int{}
	for i := 1; i < len(values); i++ {
		if id := strings.TrimSpace(get(values[i], colID)); id != "" {
			rows[id] = i + 1
		}
	}

	var updates []*sheetsv4.ValueRange
	var appends [][]interface{}
	if len(values) == 0 {
		appends = append(appends, participantHeader)
	}
	n := 0
	for _, e := range entries {
		id := strings.TrimSpace(e.ParticipantID)
		if id == "" {
			continue
		}
		n++
		vals := []interface{}{id, strings.TrimSpace(e.Name), strings.TrimSpace(e.College), strings.TrimSpace(e.Sport)}
		if rowNum, ok := rows[id]; ok {
			updates = append(updates, &sheetsv4.ValueRange{
				Range:  fmt.Sprintf("%s!A%d:D%d", SheetParticipants, rowNum, rowNum),
				Values: [][]interface{}{vals},
			})
			continue
		}
		rows[id] = -1
		appends = append(appends, vals)
	}
	if err := c.batchUpdate(ctx, updates); err != nil {
		return 0, err
	}
	if len(appends) > 0 {
		if err := c.appendRows(ctx, SheetParticipants, appends); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// ---------- Meals ----------

// MarkMeal flips the slot flag and appends to the audit log. The check and
// the write are serialized within this process only; deployments with more
// than one writer should use the sqlite or http ledger.
func (c *Client) MarkMeal(ctx context.Context, req models.MarkRequest) (models.MarkReceipt, error) {
	if err := req.Validate(); err != nil {
		return models.MarkReceipt{}, apperr.Wrap(apperr.CodeValidation, err.Error(), err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.findParticipant(ctx, req.ParticipantID)
	if err != nil {
		return models.MarkReceipt{}, err
	}
	if r.p.Food.Consumed(req.Day, req.Meal) {
		return models.MarkReceipt{}, apperr.Newf(apperr.CodeConflict, "%s already consumed on %s", req.Meal.Label(), req.Day.Label())
	}
	a1 := fmt.Sprintf("%s%d", colLetter(slotColumn(req.Day, req.Meal)), r.rowNum)
	if err := c.updateCell(ctx, SheetParticipants, a1, "TRUE"); err != nil {
		return models.MarkReceipt{}, err
	}
	// The slot flag is authoritative; Meal_Log is best effort.
	logRow := []interface{}{r.p.ID, r.p.Name, string(req.Day), string(req.Meal), util.NowISO()}
	_ = c.appendRows(ctx, SheetMealLog, [][]interface{}{logRow})
	return models.MarkReceipt{Meal: req.Meal.Label(), ParticipantName: r.p.Name}, nil
}

func (c *Client) MealCounts(ctx context.Context) (models.MealCounts, error) {
	all, err := c.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	counts := models.MealCounts{}
	for _, d := range models.Days {
		for _, m := range models.Meals {
			counts[models.SlotKey(d, m)] = 0
		}
	}
	for _, p := range all {
		for _, d := range models.Days {
			for _, m := range models.Meals {
				if p.Food.Consumed(d, m) {
					counts[models.SlotKey(d, m)]++
				}
			}
		}
	}
	return counts, nil
}

func (c *Client) MealLog(ctx context.Context) ([]models.MealMark, error) {
	values, err := c.readAll(ctx, SheetMealLog)
	if err != nil {
		return nil, err
	}
	out := []models.MealMark{}
	for i := 1; i < len(values); i++ {
		row := values[i]
		if get(row, 0) == "" {
			continue
		}
		out = append(out, models.MealMark{
			ParticipantID: get(row, 0),
			Name:          get(row, 1),
			Day:           models.Day(get(row, 2)),
			Meal:          models.Meal(get(row, 3)),
			MarkedAt:      get(row, 4),
		})
	}
	return out, nil
}

// ---------- Settings ----------

func (c *Client) TournamentSettings(ctx context.Context) (models.Settings, error) {
	values, err := c.readAll(ctx, SheetSettings)
	if err != nil {
		return models.Settings{}, err
	}
	for i := 1; i < len(values); i++ {
		if get(values[i], 0) == keyStartDate {
			return models.Settings{StartDate: strings.TrimSpace(get(values[i], 1))}, nil
		}
	}
	return models.Settings{}, nil
}

func (c *Client) SetStartDate(ctx context.Context, date string) error {
	start, ok, err := models.Settings{StartDate: strings.TrimSpace(date)}.Start()
	if err != nil || !ok {
		return apperr.Validation("start_date must be YYYY-MM-DD")
	}
	value := start.Format(models.DateLayout)

	c.mu.Lock()
	defer c.mu.Unlock()
	values, err := c.readAll(ctx, SheetSettings)
	if err != nil {
		return err
	}
	for i := 1; i < len(values); i++ {
		if get(values[i], 0) == keyStartDate {
			return c.updateCell(ctx, SheetSettings, fmt.Sprintf("B%d", i+1), value)
		}
	}
	rows := [][]interface{}{{keyStartDate, value}}
	if len(values) == 0 {
		rows = append([][]interface{}{settingsHeader}, rows...)
	}
	return c.appendRows(ctx, SheetSettings, rows)
}

// ---------- helpers ----------

func get(row []interface{}, idx int) string {
	if idx < 0 || idx >= len(row) || row[idx] == nil {
		return ""
	}
	return fmt.Sprint(row[idx])
}
