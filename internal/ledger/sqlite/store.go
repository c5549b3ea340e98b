// Package sqlite is the local authoritative ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/models"
	"tournament-desk/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS participants (
	participant_id TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	college        TEXT NOT NULL DEFAULT '',
	sport          TEXT NOT NULL DEFAULT '',
	role           TEXT NOT NULL DEFAULT '',
	photo          BLOB,
	registered_at  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS meal_marks (
	participant_id TEXT NOT NULL REFERENCES participants(participant_id),
	day            TEXT NOT NULL,
	meal           TEXT NOT NULL,
	marked_at      TEXT NOT NULL,
	PRIMARY KEY (participant_id, day, meal)
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const keyStartDate = "start_date"

var errNotFound = apperr.New(apperr.CodeNotFound, "Participant not found")

// Store is a participant ledger in a single SQLite file.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and creates the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Lookup(ctx context.Context, id string) (models.Lookup, error) {
	id = strings.TrimSpace(id)
	var l models.Lookup
	var photo []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT name, college, sport, photo FROM participants WHERE participant_id = ?`, id,
	).Scan(&l.Name, &l.College, &l.Sport, &photo)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Lookup{}, errNotFound
	}
	if err != nil {
		return models.Lookup{}, fmt.Errorf("lookup participant: %w", err)
	}
	l.AlreadyRegistered = len(photo) > 0
	return l, nil
}

// Register completes a roster entry with details and photo. A participant
// that already has a photo is refused.
func (s *Store) Register(ctx context.Context, r models.Registration) (models.RegisterResult, error) {
	if err := r.Validate(); err != nil {
		return models.RegisterResult{}, apperr.Wrap(apperr.CodeValidation, err.Error(), err)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return models.RegisterResult{}, fmt.Errorf("begin register: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var photo []byte
	err = tx.QueryRowContext(ctx, `SELECT photo FROM participants WHERE participant_id = ?`, r.ParticipantID).Scan(&photo)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RegisterResult{}, errNotFound
	}
	if err != nil {
		return models.RegisterResult{}, fmt.Errorf("load participant: %w", err)
	}
	if len(photo) > 0 {
		return models.RegisterResult{}, apperr.New(apperr.CodeConflict, "Participant already registered")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE participants
		 SET name = ?, college = ?, sport = ?, role = ?, photo = ?, registered_at = ?
		 WHERE participant_id = ?`,
		strings.TrimSpace(r.Name), strings.TrimSpace(r.College), strings.TrimSpace(r.Sport),
		r.Role, r.Photo, util.NowISO(), r.ParticipantID,
	)
	if err != nil {
		return models.RegisterResult{}, fmt.Errorf("register participant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.RegisterResult{}, fmt.Errorf("commit register: %w", err)
	}
	return models.RegisterResult{OK: true}, nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	id = strings.TrimSpace(id)
	p := models.Participant{ID: id}
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT name, college, sport, role, photo FROM participants WHERE participant_id = ?`, id,
	).Scan(&p.Name, &p.College, &p.Sport, &p.Role, &p.Photo)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, errNotFound
	}
	if err != nil {
		return models.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	logs, err := s.foodLogs(ctx, id)
	if err != nil {
		return models.Participant{}, err
	}
	p.Food = logs[id]
	if p.Food == nil {
		p.Food = models.EmptyFoodLog()
	}
	return p, nil
}

// foodLogs loads the marks of one participant, or of everyone when id is
// empty.
func (s *Store) foodLogs(ctx context.Context, id string) (map[string]models.FoodLog, error) {
	query := `SELECT participant_id, day, meal FROM meal_marks`
	var args []any
	if id != "" {
		query += ` WHERE participant_id = ?`
		args = append(args, id)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load meal marks: %w", err)
	}
	defer rows.Close()

	out := map[string]models.FoodLog{}
	for rows.Next() {
		var pid, day, meal string
		if err := rows.Scan(&pid, &day, &meal); err != nil {
			return nil, fmt.Errorf("scan meal mark: %w", err)
		}
		log, ok := out[pid]
		if !ok {
			log = models.EmptyFoodLog()
			out[pid] = log
		}
		d, m := models.Day(day), models.Meal(meal)
		if log[d] == nil {
			log[d] = map[models.Meal]bool{}
		}
		log[d][m] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load meal marks: %w", err)
	}
	return out, nil
}

func (s *Store) TournamentSettings(ctx context.Context) (models.Settings, error) {
	var v string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, keyStartDate).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Settings{}, nil
	}
	if err != nil {
		return models.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return models.Settings{StartDate: v}, nil
}

func (s *Store) SetStartDate(ctx context.Context, date string) error {
	set := models.Settings{StartDate: strings.TrimSpace(date)}
	start, ok, err := set.Start()
	if err != nil || !ok {
		return apperr.Validation("start_date must be YYYY-MM-DD")
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		keyStartDate, start.Format(models.DateLayout),
	)
	if err != nil {
		return fmt.Errorf("save start date: %w", err)
	}
	return nil
}

// MarkMeal records a slot once. The primary key on meal_marks turns a second
// mark of the same slot into a Conflict.
func (s *Store) MarkMeal(ctx context.Context, req models.MarkRequest) (models.MarkReceipt, error) {
	if err := req.Validate(); err != nil {
		return models.MarkReceipt{}, apperr.Wrap(apperr.CodeValidation, err.Error(), err)
	}
	var name string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT name FROM participants WHERE participant_id = ?`, req.ParticipantID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MarkReceipt{}, errNotFound
	}
	if err != nil {
		return models.MarkReceipt{}, fmt.Errorf("load participant: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO meal_marks (participant_id, day, meal, marked_at) VALUES (?, ?, ?, ?)`,
		req.ParticipantID, string(req.Day), string(req.Meal), util.NowISO(),
	)
	if isUniqueViolation(err) {
		return models.MarkReceipt{}, apperr.Newf(apperr.CodeConflict, "%s already consumed on %s", req.Meal.Label(), req.Day.Label())
	}
	if err != nil {
		return models.MarkReceipt{}, fmt.Errorf("mark meal: %w", err)
	}
	return models.MarkReceipt{Meal: req.Meal.Label(), ParticipantName: name}, nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT participant_id, name, college, sport, role, photo FROM participants ORDER BY participant_id`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.College, &p.Sport, &p.Role, &p.Photo); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	logs, err := s.foodLogs(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		if f, ok := logs[out[i].ID]; ok {
			out[i].Food = f
		} else {
			out[i].Food = models.EmptyFoodLog()
		}
	}
	return out, nil
}

// ImportRoster inserts or refreshes roster rows. Photos, roles and meal
// marks of existing participants are kept.
func (s *Store) ImportRoster(ctx context.Context, entries []models.RosterEntry) (int, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO participants (participant_id, name, college, sport) VALUES (?, ?, ?, ?)
		 ON CONFLICT(participant_id) DO UPDATE SET
		    name = excluded.name,
		    college = excluded.college,
		    sport = excluded.sport`)
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, e := range entries {
		id := strings.TrimSpace(e.ParticipantID)
		if id == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, strings.TrimSpace(e.Name), strings.TrimSpace(e.College), strings.TrimSpace(e.Sport)); err != nil {
			return 0, fmt.Errorf("import %s: %w", id, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return n, nil
}

// MealCounts has an entry for every slot, zero when nothing was served.
func (s *Store) MealCounts(ctx context.Context) (models.MealCounts, error) {
	counts := models.MealCounts{}
	for _, d := range models.Days {
		for _, m := range models.Meals {
			counts[models.SlotKey(d, m)] = 0
		}
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT day, meal, COUNT(*) FROM meal_marks GROUP BY day, meal`)
	if err != nil {
		return nil, fmt.Errorf("count meals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var day, meal string
		var n int
		if err := rows.Scan(&day, &meal, &n); err != nil {
			return nil, fmt.Errorf("scan meal count: %w", err)
		}
		counts[models.SlotKey(models.Day(day), models.Meal(meal))] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count meals: %w", err)
	}
	return counts, nil
}

// MealLog lists every mark in the order it was recorded.
func (s *Store) MealLog(ctx context.Context) ([]models.MealMark, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT m.participant_id, p.name, m.day, m.meal, m.marked_at
		 FROM meal_marks m JOIN participants p ON p.participant_id = m.participant_id
		 ORDER BY m.marked_at, m.rowid`)
	if err != nil {
		return nil, fmt.Errorf("meal log: %w", err)
	}
	defer rows.Close()

	var out []models.MealMark
	for rows.Next() {
		var mk models.MealMark
		var day, meal string
		if err := rows.Scan(&mk.ParticipantID, &mk.Name, &day, &meal, &mk.MarkedAt); err != nil {
			return nil, fmt.Errorf("scan meal log: %w", err)
		}
		mk.Day, mk.Meal = models.Day(day), models.Meal(meal)
		out = append(out, mk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meal log: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
