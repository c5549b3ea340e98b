package tgbot

import (
	"context"

	"tournament-desk/internal/verify"
)

const verifyPrompt = "🔍 Verification\n" + scanPrompt

func (a *App) startVerify(ctx context.Context, chatID int64) error {
	st := a.chat(chatID)
	a.leaveFlow(st)
	st.flow = flowVerify
	if st.ver == nil {
		st.ver = verify.New(a.ledger, a.log.With("chat", chatID))
	}
	return a.promptScan(ctx, chatID, st, verifyPrompt)
}

func (a *App) verifyCheck(ctx context.Context, chatID int64, st *chatState, raw string) error {
	call, err := st.ver.Check(raw)
	if err != nil {
		a.sendErr(chatID, err)
		return nil
	}
	dispatch(a, ctx, call, func(err error) {
		if err != nil {
			a.sendErr(chatID, err)
			return
		}
		_ = a.showVerify(chatID, st)
	})
	return nil
}

func (a *App) showVerify(chatID int64, st *chatState) error {
	res, ok := st.ver.Current()
	if !ok {
		return nil
	}
	p := res.Participant
	kb := scanNextKeyboard("v:next")
	body := participantHeader(p) + "\nRole: " + orDash(p.Role) + "\n\n" + mealGrid(p.Food, "")
	if !res.Verified {
		return a.sendKeyboard(chatID, "❌ Not Registered (no photo)\n"+body, kb)
	}
	return a.sendPhoto(chatID, p.Photo, "✅ Verified, photo registered\n"+body, &kb)
}

func (a *App) verifyCallback(ctx context.Context, chatID int64, st *chatState, data string) error {
	if data != "next" {
		return nil
	}
	st.ver.Reset()
	return a.promptScan(ctx, chatID, st, verifyPrompt)
}
