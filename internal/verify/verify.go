// Package verify implements the match-entry identity check: scan a badge,
// show the registered photo and meal history, reset.
package verify

import (
	"context"
	"log/slog"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/fence"
	"tournament-desk/internal/models"
	"tournament-desk/internal/qr"
)

type Directory interface {
	GetParticipant(ctx context.Context, id string) (models.Participant, error)
}

// Result is what the operator sees after a scan.
type Result struct {
	Participant models.Participant
	// Verified is true when a registration photo is on record.
	Verified bool
}

type Verifier struct {
	dir  Directory
	log  *slog.Logger
	gate fence.Gate

	current *Result
}

func New(dir Directory, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{dir: dir, log: log}
}

// Check loads the participant behind a scanned payload or typed id.
func (v *Verifier) Check(raw string) (*fence.Call[models.Participant], error) {
	id := qr.Decode(raw)
	if id == "" {
		return nil, apperr.Validation("enter or scan a participant id")
	}
	call, err := fence.NewCall(&v.gate, func(ctx context.Context) (models.Participant, error) {
		return v.dir.GetParticipant(ctx, id)
	}, func(p models.Participant, err error) error {
		if err != nil {
			v.log.Info("verification lookup failed", "participant_id", id, "error", err)
			if apperr.CodeOf(err) == apperr.CodeUnknown {
				return apperr.Wrap(apperr.CodeNetwork, "Failed to fetch participant", err)
			}
			return err
		}
		v.current = &Result{Participant: p, Verified: p.HasPhoto()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.current = nil
	return call, nil
}

func (v *Verifier) Current() (Result, bool) {
	if v.current == nil {
		return Result{}, false
	}
	return *v.current, true
}

func (v *Verifier) Busy() bool { return v.gate.Busy() }

// Reset clears the result and discards a pending lookup.
func (v *Verifier) Reset() {
	v.gate.Bump()
	v.current = nil
}
