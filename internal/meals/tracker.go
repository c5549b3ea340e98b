package meals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/fence"
	"tournament-desk/internal/models"
	"tournament-desk/internal/qr"
)

// Ledger is the authoritative consumption store.
type Ledger interface {
	GetParticipant(ctx context.Context, id string) (models.Participant, error)
	TournamentSettings(ctx context.Context) (models.Settings, error)
	MarkMeal(ctx context.Context, req models.MarkRequest) (models.MarkReceipt, error)
}

// MarkOutcome is the result of a mark call.
type MarkOutcome struct {
	Receipt models.MarkReceipt
	fresh   models.Participant
	// refreshErr is set when the mark succeeded but the re-fetch did not.
	refreshErr error
}

// Tracker is one operator's food counter. Calls it hands out must be
// committed on the same goroutine that drives the tracker.
type Tracker struct {
	ledger Ledger
	now    func() time.Time
	log    *slog.Logger

	gate fence.Gate

	settings  *models.Settings
	start     time.Time
	day       models.Day
	dayPinned bool

	meal     models.Meal
	snapshot *models.Participant
}

func NewTracker(l Ledger, now func() time.Time, log *slog.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{ledger: l, now: now, log: log, day: models.Day1}
}

// LoadSettings fetches the tournament settings once; later calls reuse the
// cached copy and only recompute the active day.
func (t *Tracker) LoadSettings() (*fence.Call[models.Settings], error) {
	cached := t.settings
	return fence.NewCall(&t.gate, func(ctx context.Context) (models.Settings, error) {
		if cached != nil {
			return *cached, nil
		}
		return t.ledger.TournamentSettings(ctx)
	}, func(s models.Settings, err error) error {
		if err != nil {
			return err
		}
		start, ok, perr := s.Start()
		if perr != nil {
			t.log.Warn("ignoring tournament start date", "error", perr)
		}
		if !ok {
			start = time.Time{}
		}
		t.settings = &s
		t.start = start
		t.RefreshDay()
		return nil
	})
}

// RefreshDay recomputes the active day unless the operator picked one.
func (t *Tracker) RefreshDay() {
	if !t.dayPinned {
		t.day = ActiveDay(t.start, t.now())
	}
}

// ActiveDay is the day bucket for today, regardless of the operator's pick.
func (t *Tracker) ActiveDay() models.Day {
	return ActiveDay(t.start, t.now())
}

// StartDate is zero when no start date is configured.
func (t *Tracker) StartDate() time.Time { return t.start }

func (t *Tracker) Day() models.Day { return t.day }

func (t *Tracker) Meal() models.Meal { return t.meal }

// Participant returns the current ledger snapshot.
func (t *Tracker) Participant() (models.Participant, bool) {
	if t.snapshot == nil {
		return models.Participant{}, false
	}
	return *t.snapshot, true
}

// Consumed reads the local snapshot.
func (t *Tracker) Consumed(d models.Day, m models.Meal) bool {
	return t.snapshot != nil && t.snapshot.Food.Consumed(d, m)
}

// SelectDay overrides the active day.
func (t *Tracker) SelectDay(d models.Day) error {
	if t.gate.Busy() {
		return fence.ErrBusy
	}
	if !d.Valid() {
		return apperr.Validation("day must be day1, day2 or day3")
	}
	t.day = d
	t.dayPinned = true
	if t.meal != "" && t.Consumed(d, t.meal) {
		t.meal = ""
	}
	return nil
}

// SelectMeal picks the meal to mark. A meal the snapshot already shows as
// consumed is refused without contacting the ledger.
func (t *Tracker) SelectMeal(m models.Meal) error {
	if t.gate.Busy() {
		return fence.ErrBusy
	}
	if !m.Valid() {
		return apperr.Validation("meal must be breakfast, lunch or dinner")
	}
	if t.snapshot == nil {
		return apperr.Validation("scan a participant first")
	}
	if t.Consumed(t.day, m) {
		return alreadyConsumed(t.day, m)
	}
	t.meal = m
	return nil
}

// ConfirmPrompt is the question shown before marking.
func (t *Tracker) ConfirmPrompt() string {
	name := ""
	if t.snapshot != nil {
		name = t.snapshot.Name
	}
	return fmt.Sprintf("Mark %s on %s for %s? This cannot be undone.", t.meal, t.day.Label(), name)
}

// Fetch starts a new scan: the previous snapshot and meal selection are
// dropped and the participant is loaded from the ledger.
func (t *Tracker) Fetch(raw string) (*fence.Call[models.Participant], error) {
	id := qr.Decode(raw)
	if id == "" {
		return nil, apperr.Validation("enter or scan a participant id")
	}
	call, err := fence.NewCall(&t.gate, func(ctx context.Context) (models.Participant, error) {
		return t.ledger.GetParticipant(ctx, id)
	}, func(p models.Participant, err error) error {
		if err != nil {
			return err
		}
		t.snapshot = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.snapshot = nil
	t.meal = ""
	return call, nil
}

// Mark records the selected slot. On success the snapshot is replaced by a
// fresh ledger read; on any failure it is left untouched.
func (t *Tracker) Mark() (*fence.Call[MarkOutcome], error) {
	if t.snapshot == nil {
		return nil, apperr.Validation("scan a participant first")
	}
	if t.meal == "" {
		return nil, apperr.Validation("please select a meal")
	}
	if t.Consumed(t.day, t.meal) {
		return nil, alreadyConsumed(t.day, t.meal)
	}
	req := models.MarkRequest{ParticipantID: t.snapshot.ID, Day: t.day, Meal: t.meal}

	return fence.NewCall(&t.gate, func(ctx context.Context) (MarkOutcome, error) {
		receipt, err := t.ledger.MarkMeal(ctx, req)
		if err != nil {
			return MarkOutcome{}, err
		}
		out := MarkOutcome{Receipt: receipt}
		out.fresh, out.refreshErr = t.ledger.GetParticipant(ctx, req.ParticipantID)
		return out, nil
	}, func(out MarkOutcome, err error) error {
		if err != nil {
			t.log.Info("meal mark refused",
				"participant_id", req.ParticipantID, "day", req.Day, "meal", req.Meal, "error", err)
			return err
		}
		t.log.Info("meal marked", "participant_id", req.ParticipantID, "day", req.Day, "meal", req.Meal)
		if out.refreshErr != nil {
			return apperr.Wrap(apperr.CodeNetwork, "meal marked, but reloading the participant failed", out.refreshErr)
		}
		t.snapshot = &out.fresh
		t.meal = ""
		return nil
	})
}

// Reset drops the participant and discards any in-flight completion.
// The day selection survives.
func (t *Tracker) Reset() {
	t.gate.Bump()
	t.snapshot = nil
	t.meal = ""
}

func alreadyConsumed(d models.Day, m models.Meal) error {
	return apperr.Newf(apperr.CodeValidation, "%s already consumed on %s!", m, d.Label())
}
