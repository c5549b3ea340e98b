package tgbot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/capture"
	"tournament-desk/internal/ledger/sqlite"
	"tournament-desk/internal/models"
	"tournament-desk/internal/qr"
	"tournament-desk/internal/workflow"
)

const (
	operatorID = 42
	chatID     = 4200
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []tgbotapi.Chattable
	files string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) GetFileDirectURL(fileID string) (string, error) {
	return f.files + "/" + fileID, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.Chattable {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, c := range f.sent {
		out[i] = textOf(c)
	}
	return out
}

func textOf(c tgbotapi.Chattable) string {
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		return m.Text
	case tgbotapi.PhotoConfig:
		return m.Caption
	}
	return ""
}

type harness struct {
	app    *App
	out    *fakeSender
	store  *sqlite.Store
	photos map[string][]byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.ImportRoster(context.Background(), []models.RosterEntry{
		{ParticipantID: "PLY-009", Name: "Asha", College: "NIT Trichy", Sport: "Hockey (W)"},
		{ParticipantID: "PLY-010", Name: "Ravi", College: "NIT Surat"},
	}); err != nil {
		t.Fatalf("import: %v", err)
	}

	h := &harness{store: store, photos: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := h.photos[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	h.out = &fakeSender{files: srv.URL}
	h.app = newApp(h.out, store, Options{
		Operators: map[int64]bool{operatorID: true},
		QR:        qr.Options{FPS: 50},
		Location:  time.UTC,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.app.inline = true
	t.Cleanup(h.app.closeAll)
	return h
}

func (h *harness) message(t *testing.T, m *tgbotapi.Message) {
	t.Helper()
	if m.From == nil {
		m.From = &tgbotapi.User{ID: operatorID}
	}
	m.Chat = &tgbotapi.Chat{ID: chatID}
	if err := h.app.handleMessage(context.Background(), m); err != nil {
		t.Fatalf("handle message: %v", err)
	}
}

func (h *harness) command(t *testing.T, cmd string) {
	t.Helper()
	h.message(t, &tgbotapi.Message{
		Text:     cmd,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	})
}

func (h *harness) text(t *testing.T, s string) {
	t.Helper()
	h.message(t, &tgbotapi.Message{Text: s})
}

func (h *harness) photo(t *testing.T, fileID string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	h.photos[fileID] = buf.Bytes()
	h.message(t, &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{
		{FileID: fileID + "-thumb", Width: 90, Height: 90},
		{FileID: fileID, Width: img.Bounds().Dx(), Height: img.Bounds().Dy()},
	}})
}

func (h *harness) press(t *testing.T, data string) {
	t.Helper()
	q := &tgbotapi.CallbackQuery{
		ID:      "q",
		From:    &tgbotapi.User{ID: operatorID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}
	if err := h.app.handleCallback(context.Background(), q); err != nil {
		t.Fatalf("callback %s: %v", data, err)
	}
}

func (h *harness) expect(t *testing.T, want string) {
	t.Helper()
	if got := textOf(h.out.last(t)); !strings.Contains(got, want) {
		t.Fatalf("last message %q does not contain %q", got, want)
	}
}

// drain runs the next event posted to the loop.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	select {
	case fn := <-h.app.events:
		fn()
	case <-time.After(5 * time.Second):
		t.Fatal("no event posted")
	}
}

func (h *harness) chat() *chatState { return h.app.state[chatID] }

func face() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: 120, B: uint8(y * 5), A: 255})
		}
	}
	return img
}

func badge(t *testing.T, id string) image.Image {
	t.Helper()
	m, err := qrcode.NewQRCodeWriter().Encode(fmt.Sprintf(`{"participant_id":%q}`, id), gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	return m
}

func TestRejectsUnknownUsers(t *testing.T) {
	h := newHarness(t)
	h.message(t, &tgbotapi.Message{From: &tgbotapi.User{ID: 7}, Text: "/register"})
	h.expect(t, "Access denied.")
	if h.chat() != nil {
		t.Fatal("state created for a stranger")
	}

	q := &tgbotapi.CallbackQuery{ID: "q", From: &tgbotapi.User{ID: 7}, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}}, Data: "m:food"}
	if err := h.app.handleCallback(context.Background(), q); err != nil {
		t.Fatalf("callback: %v", err)
	}
	h.expect(t, "Access denied.")
}

func TestRegistrationFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.command(t, "/register")
	h.expect(t, "Registration")
	if !h.chat().scanner.Running() {
		t.Fatal("scanner not running at the scan step")
	}

	h.text(t, "PLY-009")
	h.expect(t, "Name: Asha")
	if h.chat().reg.Step() != workflow.StepDetails || h.chat().scanner.Running() {
		t.Fatalf("step %s, scanner running %v", h.chat().reg.Step(), h.chat().scanner.Running())
	}

	h.text(t, "sport: Cricket")
	h.expect(t, "Sport: Cricket")
	h.press(t, "r:role:Coach")
	h.expect(t, "Role: Coach")

	h.press(t, "r:next")
	h.expect(t, "front camera")
	if !h.chat().cam.Open() {
		t.Fatal("camera not acquired")
	}

	h.photo(t, "face", face())
	h.expect(t, "Preview (mirrored)")
	if _, ok := h.out.last(t).(tgbotapi.PhotoConfig); !ok {
		t.Fatal("preview not sent as a photo")
	}

	h.press(t, "r:use")
	h.expect(t, "Register PLY-009?")
	if h.chat().cam.Open() {
		t.Fatal("camera still held at confirm")
	}

	h.press(t, "r:submit")
	h.expect(t, "PLY-009 registered")
	p, err := h.store.GetParticipant(ctx, "PLY-009")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !p.HasPhoto() || p.Role != "Coach" || p.Sport != "Cricket" {
		t.Fatalf("participant = %+v", p)
	}

	h.press(t, "r:again")
	h.expect(t, "Next participant")
	if h.chat().reg.Step() != workflow.StepScan || !h.chat().scanner.Running() {
		t.Fatal("not back at scan")
	}
}

func TestRegisterAlreadyRegistered(t *testing.T) {
	h := newHarness(t)
	if _, err := h.store.Register(context.Background(), models.Registration{
		ParticipantID: "PLY-010", Name: "Ravi", College: "NIT Surat", Sport: "Hockey (M)", Role: "Player", Photo: []byte{0xff, 0xd8},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h.command(t, "/register")
	h.text(t, "PLY-010")
	h.expect(t, "Already registered with a photo!")
	if h.chat().reg.Step() != workflow.StepScan {
		t.Fatalf("step = %s", h.chat().reg.Step())
	}

	h.text(t, "PLY-404")
	h.expect(t, "⚠️")
}

func TestRegisterDetailsGuard(t *testing.T) {
	h := newHarness(t)
	h.command(t, "/register")
	h.text(t, "PLY-009")

	h.text(t, "name:   ")
	h.press(t, "r:next")
	h.expect(t, "Name is required")
	if h.chat().reg.Step() != workflow.StepDetails {
		t.Fatalf("step = %s", h.chat().reg.Step())
	}

	h.text(t, "name: Asha K")
	h.press(t, "r:college:16")
	h.expect(t, "Type the college name.")
	h.text(t, "IIT Madras")
	h.expect(t, "College: IIT Madras (other)")

	h.press(t, "r:back")
	h.expect(t, "Scan the participant")
	if h.chat().reg.Identity() != "PLY-009" || !h.chat().scanner.Running() {
		t.Fatal("back to scan should keep the identity and restart scanning")
	}
}

func TestCancelReleasesCamera(t *testing.T) {
	h := newHarness(t)
	h.command(t, "/register")
	h.text(t, "PLY-009")
	h.press(t, "r:next")
	if !h.chat().cam.Open() {
		t.Fatal("camera not acquired")
	}

	h.command(t, "/cancel")
	h.expect(t, "Cancelled.")
	st := h.chat()
	if st.cam.Open() || st.scanner.Running() || st.reg != nil || st.flow != "" {
		t.Fatalf("chat not torn down: %+v", st)
	}

	h.press(t, "r:next")
	h.expect(t, "That button has expired.")
}

func TestVerifyByBadgeScan(t *testing.T) {
	h := newHarness(t)
	if _, err := h.store.Register(context.Background(), models.Registration{
		ParticipantID: "PLY-009", Name: "Asha", College: "NIT Trichy", Sport: "Hockey (W)", Role: "Player", Photo: []byte{0xff, 0xd8},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h.command(t, "/verify")
	h.expect(t, "Verification")

	h.photo(t, "badge-010", badge(t, "PLY-010"))
	h.drain(t)
	h.expect(t, "Not Registered")
	h.expect(t, "Ravi (PLY-010)")

	h.press(t, "v:next")
	h.expect(t, "Verification")
	if _, ok := h.chat().ver.Current(); ok {
		t.Fatal("result kept after reset")
	}

	h.text(t, "PLY-009")
	h.expect(t, "Verified, photo registered")
	if _, ok := h.out.last(t).(tgbotapi.PhotoConfig); !ok {
		t.Fatal("registered photo not shown")
	}
}

func TestFoodCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SetStartDate(ctx, "2026-03-10"); err != nil {
		t.Fatalf("start date: %v", err)
	}
	h.app.now = func() time.Time { return time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC) }

	h.command(t, "/food")
	h.expect(t, "Day 2 today")

	h.text(t, "PLY-010")
	h.expect(t, "Ravi (PLY-010)")
	h.expect(t, "Marking Day 2")

	h.press(t, "f:meal:lunch")
	h.expect(t, "for Ravi?")

	h.press(t, "f:confirm")
	texts := h.out.texts()
	if got := texts[len(texts)-2]; got != "✅ Lunch marked for Ravi." {
		t.Fatalf("receipt = %q", got)
	}
	h.expect(t, "✅ Lunch")

	h.press(t, "f:meal:lunch")
	h.expect(t, "already consumed on Day 2!")

	h.press(t, "f:day:day1")
	h.expect(t, "Marking Day 1")

	counts, err := h.store.MealCounts(ctx)
	if err != nil || counts["day2_lunch"] != 1 {
		t.Fatalf("counts = %v, %v", counts, err)
	}

	h.press(t, "f:next")
	if _, ok := h.chat().food.Participant(); ok {
		t.Fatal("participant kept after next")
	}
}

func TestFoodReopensOnActiveDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.app.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }

	h.command(t, "/food")
	h.expect(t, "Day 1 today")
	h.text(t, "PLY-009")
	h.press(t, "f:day:day1")
	h.command(t, "/cancel")

	if err := h.store.SetStartDate(ctx, "2026-03-10"); err != nil {
		t.Fatalf("start date: %v", err)
	}
	h.app.now = func() time.Time { return time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC) }

	h.command(t, "/food")
	h.expect(t, "Day 3 today")
	if d := h.chat().food.Day(); d != models.Day3 {
		t.Fatalf("day = %s, want day3", d)
	}

	h.text(t, "PLY-009")
	h.expect(t, "Marking Day 3")
	h.press(t, "f:meal:breakfast")
	h.press(t, "f:confirm")
	p, err := h.store.GetParticipant(ctx, "PLY-009")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !p.Food.Consumed(models.Day3, models.Breakfast) || p.Food.Consumed(models.Day1, models.Breakfast) {
		t.Fatalf("food = %v", p.Food)
	}
}

func TestUnexpectedPhoto(t *testing.T) {
	h := newHarness(t)
	h.command(t, "/register")
	h.text(t, "PLY-009")
	h.photo(t, "face", face())
	h.expect(t, "Not expecting a photo right now.")
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	h.command(t, "/export")
	h.expect(t, "not configured")

	h.app.opts.ExportURL = "http://desk.local/export/meals.csv?token=abc"
	h.command(t, "/export")
	h.expect(t, "token=abc")
}

func TestChatCameraIsExclusive(t *testing.T) {
	var cam chatCamera
	ctx := context.Background()

	s, err := cam.RequestStream(ctx, capture.FacingRear, capture.PreferredResolution)
	if err != nil {
		t.Fatalf("first stream: %v", err)
	}
	if _, err := cam.RequestStream(ctx, capture.FacingFront, capture.PreferredResolution); !errors.Is(err, apperr.ErrDevice) {
		t.Fatalf("second stream = %v", err)
	}
	if _, err := s.Frame(); !errors.Is(err, apperr.ErrDevice) {
		t.Fatalf("empty frame = %v", err)
	}
	if !cam.Push(face()) {
		t.Fatal("push refused")
	}
	if seq := s.(qr.Sequenced).Seq(); seq != 1 {
		t.Fatalf("seq = %d", seq)
	}
	if _, err := s.Frame(); err != nil {
		t.Fatalf("frame: %v", err)
	}

	s.Stop()
	s.Stop()
	if cam.Open() || cam.Push(face()) {
		t.Fatal("stream still open after stop")
	}
	if _, err := cam.RequestStream(ctx, capture.FacingFront, capture.PreferredResolution); err != nil {
		t.Fatalf("stream after stop: %v", err)
	}
}
