package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"tournament-desk/internal/models"
	"tournament-desk/internal/util"
)

// Store is the ledger the server exposes.
type Store interface {
	Lookup(ctx context.Context, id string) (models.Lookup, error)
	Register(ctx context.Context, r models.Registration) (models.RegisterResult, error)
	GetParticipant(ctx context.Context, id string) (models.Participant, error)
	TournamentSettings(ctx context.Context) (models.Settings, error)
	MarkMeal(ctx context.Context, req models.MarkRequest) (models.MarkReceipt, error)

	ListParticipants(ctx context.Context) ([]models.Participant, error)
	SetStartDate(ctx context.Context, date string) error
	MealCounts(ctx context.Context) (models.MealCounts, error)
	MealLog(ctx context.Context) ([]models.MealMark, error)
}

type Options struct {
	Addr string
	// ExportSecret signs the CSV export link.
	ExportSecret string
	Log          *slog.Logger
}

func New(st Store, opts Options) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           NewHandler(st, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type handler struct {
	st     Store
	secret string
	log    *slog.Logger
}

func NewHandler(st Store, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	h := &handler{st: st, secret: opts.ExportSecret, log: log}

	r := mux.NewRouter()
	r.Use(withLogging(log))
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/participants/lookup/{id}", h.lookup).Methods(http.MethodGet)
	api.HandleFunc("/participants/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/participants/{id}", h.participant).Methods(http.MethodGet)
	api.HandleFunc("/food/tournament-settings", h.settings).Methods(http.MethodGet)
	api.HandleFunc("/food/tournament-settings", h.saveSettings).Methods(http.MethodPost)
	api.HandleFunc("/food/mark", h.mark).Methods(http.MethodPost)
	api.HandleFunc("/food/dashboard", h.dashboard).Methods(http.MethodGet)
	api.HandleFunc("/admin/overview", h.overview).Methods(http.MethodGet)

	r.HandleFunc("/export/meals.csv", h.exportMeals).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

const exportScope = "export:meals"

// ExportToken is the token the CSV export link must carry.
func ExportToken(secret string) string {
	return util.HMACSHA256Hex(secret, exportScope)
}

// ExportURL builds the signed export link. Without a public base it points
// at localhost on addr.
func ExportURL(publicBase, addr, secret string) string {
	base := strings.TrimRight(publicBase, "/")
	if base == "" {
		base = "http://localhost" + addr
	}
	return base + "/export/meals.csv?token=" + ExportToken(secret)
}
