// Package ledger selects the participant ledger the desk runs against.
package ledger

import (
	"context"

	"tournament-desk/internal/models"
)

// Backend is what the desk flows need from a ledger.
type Backend interface {
	Lookup(ctx context.Context, id string) (models.Lookup, error)
	Register(ctx context.Context, r models.Registration) (models.RegisterResult, error)
	GetParticipant(ctx context.Context, id string) (models.Participant, error)
	TournamentSettings(ctx context.Context) (models.Settings, error)
	MarkMeal(ctx context.Context, req models.MarkRequest) (models.MarkReceipt, error)
}

// Store is a ledger this process owns and can administer and serve.
type Store interface {
	Backend
	ListParticipants(ctx context.Context) ([]models.Participant, error)
	ImportRoster(ctx context.Context, entries []models.RosterEntry) (int, error)
	SetStartDate(ctx context.Context, date string) error
	MealCounts(ctx context.Context) (models.MealCounts, error)
	MealLog(ctx context.Context) ([]models.MealMark, error)
	Close() error
}
