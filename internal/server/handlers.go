package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/models"
	"tournament-desk/internal/util"
)

const maxBody = 10 << 20

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{"ok": true, "ts": util.NowISO()})
}

func (h *handler) lookup(w http.ResponseWriter, r *http.Request) {
	l, err := h.st.Lookup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, l)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req models.Registration
	if err := parseJSONBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.st.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

func (h *handler) participant(w http.ResponseWriter, r *http.Request) {
	p, err := h.st.GetParticipant(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

func (h *handler) settings(w http.ResponseWriter, r *http.Request) {
	s, err := h.st.TournamentSettings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, s)
}

func (h *handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	var req models.Settings
	if err := parseJSONBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.st.SetStartDate(r.Context(), req.StartDate); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.st.TournamentSettings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, s)
}

func (h *handler) mark(w http.ResponseWriter, r *http.Request) {
	var req models.MarkRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.st.MarkMeal(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, receipt)
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	counts, err := h.st.MealCounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, counts)
}

func (h *handler) overview(w http.ResponseWriter, r *http.Request) {
	all, err := h.st.ListParticipants(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var ov models.Overview
	for _, p := range all {
		ov.TotalParticipants++
		if p.HasPhoto() {
			ov.RegisteredWithPhoto++
		}
	}
	ov.PendingRegistration = ov.TotalParticipants - ov.RegisteredWithPhoto
	jsonResponse(w, http.StatusOK, ov)
}

var mealLogHeader = []string{"participant_id", "name", "day", "meal", "marked_at"}

func (h *handler) exportMeals(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeDetail(w, http.StatusBadRequest, "token required")
		return
	}
	if h.secret == "" || !util.ValidHMAC(h.secret, exportScope, token) {
		writeDetail(w, http.StatusForbidden, "invalid token")
		return
	}
	marks, err := h.st.MealLog(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="meals.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write(mealLogHeader)
	for _, m := range marks {
		_ = cw.Write([]string{m.ParticipantID, m.Name, string(m.Day), string(m.Meal), m.MarkedAt})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.log.Error("write meal export", "error", err)
	}
}

// fail writes err as a {"detail": ...} body with the status of its code.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := code.HTTPStatus()
	msg := apperr.Message(err, "")
	if code == apperr.CodeUnknown || msg == "" {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	writeDetail(w, status, msg)
}

type detail struct {
	Detail string `json:"detail"`
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, detail{Detail: msg})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func parseJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperr.Validation("request body too large")
		}
		return apperr.Wrap(apperr.CodeValidation, "invalid request body: "+strings.TrimPrefix(err.Error(), "json: "), err)
	}
	return nil
}
