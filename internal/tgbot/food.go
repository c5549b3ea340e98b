package tgbot

import (
	"context"
	"fmt"
	"strings"

	"tournament-desk/internal/meals"
	"tournament-desk/internal/models"
)

func (a *App) startFood(ctx context.Context, chatID int64) error {
	st := a.chat(chatID)
	a.leaveFlow(st)
	st.flow = flowFood
	// Each counter session reads the settings again and starts on the active day.
	st.food = meals.NewTracker(a.ledger, a.now, a.log.With("chat", chatID))
	call, err := st.food.LoadSettings()
	if err != nil {
		a.sendErr(chatID, err)
		return nil
	}
	dispatch(a, ctx, call, func(err error) {
		if err != nil {
			a.sendErr(chatID, err)
		}
		text := "🍽 Food counter, " + st.food.ActiveDay().Label() + " today.\n" + scanPrompt
		_ = a.promptScan(ctx, chatID, st, text)
	})
	return nil
}

func (a *App) foodFetch(ctx context.Context, chatID int64, st *chatState, raw string) error {
	call, err := st.food.Fetch(raw)
	if err != nil {
		a.sendErr(chatID, err)
		return nil
	}
	st.food.RefreshDay()
	dispatch(a, ctx, call, func(err error) {
		if err != nil {
			a.sendErr(chatID, err)
			return
		}
		_ = a.showFood(chatID, st)
	})
	return nil
}

func (a *App) showFood(chatID int64, st *chatState) error {
	p, ok := st.food.Participant()
	if !ok {
		return a.SendText(chatID, scanPrompt)
	}
	day := st.food.Day()
	text := fmt.Sprintf("%s\n\nMarking %s\n%s", participantHeader(p), day.Label(), mealGrid(p.Food, day))
	return a.sendKeyboard(chatID, text, foodKeyboard(day, st.food.ActiveDay(), p.Food))
}

func (a *App) foodCallback(ctx context.Context, chatID int64, st *chatState, data string) error {
	action, arg, _ := strings.Cut(data, ":")
	var err error
	switch action {
	case "day":
		if err = st.food.SelectDay(models.Day(arg)); err == nil {
			return a.showFood(chatID, st)
		}
	case "meal":
		if err = st.food.SelectMeal(models.Meal(arg)); err == nil {
			m := st.food.Meal()
			return a.sendKeyboard(chatID, st.food.ConfirmPrompt()+"\n"+m.Label()+" is served "+m.Window()+".", markKeyboard())
		}
	case "cancel":
		return a.showFood(chatID, st)
	case "confirm":
		return a.markMeal(ctx, chatID, st)
	case "next":
		st.food.Reset()
		return a.SendText(chatID, scanPrompt)
	}
	if err != nil {
		a.sendErr(chatID, err)
	}
	return nil
}

func (a *App) markMeal(ctx context.Context, chatID int64, st *chatState) error {
	call, err := st.food.Mark()
	if err != nil {
		a.sendErr(chatID, err)
		return nil
	}
	dispatch(a, ctx, call, func(err error) {
		receipt := call.Value().Receipt
		if err != nil {
			a.sendErr(chatID, err)
			if receipt.ParticipantName != "" {
				// Marked, but the refreshed record could not be loaded.
				return
			}
		} else {
			_ = a.SendText(chatID, fmt.Sprintf("✅ %s marked for %s.", receipt.Meal, receipt.ParticipantName))
		}
		_ = a.showFood(chatID, st)
	})
	return nil
}
