// Package tgbot is the operator console: registration, verification and the
// food counter driven from a Telegram chat. Photos sent to the chat act as
// the camera.
package tgbot

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tournament-desk/internal/ledger"
	"tournament-desk/internal/meals"
	"tournament-desk/internal/qr"
	"tournament-desk/internal/verify"
	"tournament-desk/internal/workflow"
)

const (
	flowRegister = "register"
	flowVerify   = "verify"
	flowFood     = "food"

	defaultTimeout = 20 * time.Second
)

// sender is the part of the Bot API the console uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Options struct {
	Operators map[int64]bool
	QR        qr.Options
	Location  *time.Location
	Log       *slog.Logger

	// Timeout bounds every ledger call.
	Timeout time.Duration
	// ExportURL is the signed meal log link handed out by /export.
	ExportURL string
}

type App struct {
	bot    *tgbotapi.BotAPI
	api    sender
	ledger ledger.Backend
	opts   Options
	log    *slog.Logger
	det    qr.Detector
	http   *http.Client
	now    func() time.Time

	events chan func()
	// inline runs ledger calls on the calling goroutine.
	inline bool

	// per-chat state, touched only by the event loop
	state map[int64]*chatState
}

type chatState struct {
	flow string
	// awaiting names the free-text field the next message fills.
	awaiting string

	cam     *chatCamera
	scanner *qr.Scanner
	reg     *workflow.Session
	food    *meals.Tracker
	ver     *verify.Verifier
}

func New(token string, backend ledger.Backend, opts Options) (*App, error) {
	b, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	b.Debug = false
	a := newApp(b, backend, opts)
	a.bot = b
	return a, nil
}

func newApp(api sender, backend ledger.Backend, opts Options) *App {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	loc := opts.Location
	return &App{
		api:    api,
		ledger: backend,
		opts:   opts,
		log:    opts.Log,
		det:    qr.NewZXing(),
		http:   &http.Client{Timeout: opts.Timeout},
		now:    func() time.Time { return time.Now().In(loc) },
		events: make(chan func(), 64),
		state:  map[int64]*chatState{},
	}
}

// Run polls Telegram and drives every chat from this goroutine until ctx
// ends.
func (a *App) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)
	defer a.bot.StopReceivingUpdates()
	defer a.closeAll()

	a.log.Info("bot started", "account", a.bot.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			a.handleUpdate(ctx, upd)
		case fn := <-a.events:
			fn()
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	var err error
	switch {
	case upd.Message != nil:
		err = a.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		err = a.handleCallback(ctx, upd.CallbackQuery)
	}
	if err != nil {
		a.log.Error("handle update", "update_id", upd.UpdateID, "error", err)
	}
}

func (a *App) isOperator(tgID int64) bool {
	return a.opts.Operators[tgID]
}

func (a *App) chat(chatID int64) *chatState {
	st := a.state[chatID]
	if st == nil {
		st = &chatState{cam: &chatCamera{}}
		st.scanner = qr.NewScanner(a.det, a.opts.QR, a.log.With("chat", chatID))
		a.state[chatID] = st
	}
	return st
}

// leaveFlow tears down whatever the chat was doing.
func (a *App) leaveFlow(st *chatState) {
	st.scanner.Stop()
	if st.reg != nil {
		st.reg.Close()
		st.reg = nil
	}
	if st.ver != nil {
		st.ver.Reset()
	}
	if st.food != nil {
		st.food.Reset()
	}
	st.flow = ""
	st.awaiting = ""
}

func (a *App) closeAll() {
	for _, st := range a.state {
		a.leaveFlow(st)
	}
}

// ---------- Message handling ----------

func (a *App) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	chatID := m.Chat.ID
	if m.From == nil || !a.isOperator(m.From.ID) {
		return a.SendText(chatID, "Access denied.")
	}

	if m.IsCommand() {
		switch m.Command() {
		case "start", "help":
			a.leaveFlow(a.chat(chatID))
			return a.showMenu(chatID)
		case "register":
			return a.startRegister(ctx, chatID)
		case "verify":
			return a.startVerify(ctx, chatID)
		case "food":
			return a.startFood(ctx, chatID)
		case "export":
			return a.sendExport(chatID)
		case "cancel":
			a.leaveFlow(a.chat(chatID))
			return a.SendText(chatID, "Cancelled. /register /verify /food")
		default:
			return a.showMenu(chatID)
		}
	}

	st := a.state[chatID]
	if st == nil || st.flow == "" {
		return a.showMenu(chatID)
	}
	if len(m.Photo) > 0 {
		return a.handlePhoto(ctx, chatID, st, m.Photo)
	}

	txt := strings.TrimSpace(m.Text)
	switch st.flow {
	case flowRegister:
		return a.registerText(ctx, chatID, st, txt)
	case flowVerify:
		return a.verifyCheck(ctx, chatID, st, txt)
	case flowFood:
		return a.foodFetch(ctx, chatID, st, txt)
	}
	return nil
}

// handlePhoto downloads the largest size and feeds it to the chat camera.
func (a *App) handlePhoto(ctx context.Context, chatID int64, st *chatState, sizes []tgbotapi.PhotoSize) error {
	if !st.cam.Open() {
		return a.SendText(chatID, "Not expecting a photo right now.")
	}
	fileID := sizes[len(sizes)-1].FileID
	background(a, ctx, func(ctx context.Context) (frame, error) {
		return a.fetchFrame(ctx, fileID)
	}, func(f frame, err error) {
		if err != nil {
			a.sendErr(chatID, err)
			return
		}
		if a.state[chatID] != st || !st.cam.Push(f.img) {
			return
		}
		if st.flow == flowRegister && st.reg != nil && st.reg.Step() == workflow.StepPhoto {
			a.registerPhoto(chatID, st)
		}
	})
	return nil
}

// onScanned receives a decoded QR payload on the event loop.
func (a *App) onScanned(ctx context.Context, chatID int64, text string) {
	st := a.state[chatID]
	if st == nil {
		return
	}
	var err error
	switch st.flow {
	case flowRegister:
		if st.reg == nil || st.reg.Step() != workflow.StepScan || st.reg.Busy() {
			return
		}
		err = a.submitIdentity(ctx, chatID, st, text)
	case flowVerify:
		if st.ver.Busy() {
			return
		}
		err = a.verifyCheck(ctx, chatID, st, text)
	case flowFood:
		err = a.foodFetch(ctx, chatID, st, text)
	}
	if err != nil {
		a.log.Error("handle scan", "chat", chatID, "error", err)
	}
}

// startScan runs the QR loop on the chat camera; decodes come back through
// the event loop.
func (a *App) startScan(ctx context.Context, chatID int64, st *chatState) error {
	if st.scanner.Running() {
		return nil
	}
	return st.scanner.Start(ctx, st.cam, func(text string) {
		a.tryPost(func() { a.onScanned(ctx, chatID, text) })
	})
}

// ---------- Callback handling ----------

func (a *App) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	_, _ = a.api.Request(tgbotapi.NewCallback(q.ID, ""))
	if q.Message == nil || q.Message.Chat == nil {
		return nil
	}
	chatID := q.Message.Chat.ID
	if q.From == nil || !a.isOperator(q.From.ID) {
		return a.SendText(chatID, "Access denied.")
	}

	prefix, rest, _ := strings.Cut(q.Data, ":")
	if prefix == "m" {
		switch rest {
		case flowRegister:
			return a.startRegister(ctx, chatID)
		case flowVerify:
			return a.startVerify(ctx, chatID)
		case flowFood:
			return a.startFood(ctx, chatID)
		}
		return nil
	}

	st := a.state[chatID]
	if st == nil {
		return a.showMenu(chatID)
	}
	switch {
	case prefix == "r" && st.flow == flowRegister:
		return a.registerCallback(ctx, chatID, st, rest)
	case prefix == "f" && st.flow == flowFood:
		return a.foodCallback(ctx, chatID, st, rest)
	case prefix == "v" && st.flow == flowVerify:
		return a.verifyCallback(ctx, chatID, st, rest)
	}
	return a.SendText(chatID, "That button has expired. /register /verify /food")
}

func (a *App) sendExport(chatID int64) error {
	if a.opts.ExportURL == "" {
		return a.SendText(chatID, "Meal log export is not configured.")
	}
	return a.SendText(chatID, "📄 Meal log (CSV):\n"+a.opts.ExportURL)
}
