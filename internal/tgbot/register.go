package tgbot

import (
	"context"
	"strconv"
	"strings"

	"tournament-desk/internal/capture"
	"tournament-desk/internal/workflow"
)

const scanPrompt = "Scan the participant's QR badge (send a photo of it) or type the participant ID."

func (a *App) startRegister(ctx context.Context, chatID int64) error {
	st := a.chat(chatID)
	a.leaveFlow(st)
	st.flow = flowRegister
	st.reg = workflow.NewSession(a.ledger, st.cam, nil, a.log.With("chat", chatID))
	return a.promptScan(ctx, chatID, st, "📝 Registration\n"+scanPrompt)
}

func (a *App) promptScan(ctx context.Context, chatID int64, st *chatState, text string) error {
	if err := a.startScan(ctx, chatID, st); err != nil {
		a.sendErr(chatID, err)
	}
	return a.SendText(chatID, text)
}

func (a *App) submitIdentity(ctx context.Context, chatID int64, st *chatState, raw string) error {
	reg := st.reg
	call, err := reg.SubmitIdentity(raw)
	if err != nil {
		a.sendErr(chatID, err)
		return nil
	}
	dispatch(a, ctx, call, func(err error) {
		if err != nil {
			a.sendErr(chatID, err)
			return
		}
		st.scanner.Stop()
		_ = a.showDetails(chatID, st)
	})
	return nil
}

func (a *App) showDetails(chatID int64, st *chatState) error {
	d := st.reg.Details()
	return a.sendKeyboard(chatID, detailsText(st.reg.Identity(), d), detailsKeyboard(d))
}

func (a *App) registerText(ctx context.Context, chatID int64, st *chatState, txt string) error {
	switch st.reg.Step() {
	case workflow.StepScan:
		return a.submitIdentity(ctx, chatID, st, txt)
	case workflow.StepDetails:
		return a.editDetails(chatID, st, txt)
	case workflow.StepPhoto:
		return a.SendText(chatID, "Send the participant's photo, or use the buttons above.")
	case workflow.StepDone:
		return a.sendKeyboard(chatID, "Registration finished.", scanNextKeyboard("r:again"))
	}
	return a.SendText(chatID, "Use the buttons above.")
}

// editDetails applies a "field: value" line, or the custom college the
// operator was asked for.
func (a *App) editDetails(chatID int64, st *chatState, txt string) error {
	var err error
	if st.awaiting == "college" {
		st.awaiting = ""
		err = st.reg.SetCustomCollege(txt)
	} else {
		key, value, ok := strings.Cut(txt, ":")
		if !ok {
			return a.SendText(chatID, "Edit a field with \"name: …\", \"college: …\", \"sport: …\" or \"role: …\".")
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			err = st.reg.SetName(value)
		case "college":
			err = st.reg.SetCollege(value)
		case "sport":
			err = st.reg.SetSport(value)
		case "role":
			err = st.reg.SetRole(matchRole(value))
		default:
			return a.SendText(chatID, "Unknown field "+strconv.Quote(key)+".")
		}
	}
	if err != nil {
		a.sendErr(chatID, err)
		return nil
	}
	return a.showDetails(chatID, st)
}

func matchRole(v string) string {
	for _, r := range workflow.Roles {
		if strings.EqualFold(r, v) {
			return r
		}
	}
	return v
}

func (a *App) registerCallback(ctx context.Context, chatID int64, st *chatState, data string) error {
	reg := st.reg
	action, arg, _ := strings.Cut(data, ":")
	var err error
	switch action {
	case "role":
		if err = reg.SetRole(arg); err == nil {
			return a.showDetails(chatID, st)
		}
	case "college":
		if arg == "" {
			return a.sendKeyboard(chatID, "Choose the college:", collegeKeyboard())
		}
		i, perr := strconv.Atoi(arg)
		if perr != nil || i < 0 || i >= len(workflow.Colleges) {
			return nil
		}
		if workflow.Colleges[i] == workflow.OtherCollege {
			if err = reg.SetCustomCollege(reg.Details().CustomCollege); err == nil {
				st.awaiting = "college"
				return a.SendText(chatID, "Type the college name.")
			}
			break
		}
		if err = reg.SetCollege(workflow.Colleges[i]); err == nil {
			return a.showDetails(chatID, st)
		}
	case "next":
		if err = reg.Next(); err == nil {
			st.awaiting = ""
			st.scanner.Stop()
			return a.openCamera(ctx, chatID, st, capture.FacingFront)
		}
	case "camera":
		return a.openCamera(ctx, chatID, st, reg.Facing())
	case "toggle":
		if err = reg.ToggleCamera(ctx); err == nil {
			return a.sendKeyboard(chatID, "📷 Now using the "+string(reg.Facing())+" camera. Send a photo.", cameraKeyboard())
		}
	case "back":
		if err = reg.Back(); err == nil {
			st.awaiting = ""
			if reg.Step() == workflow.StepScan {
				return a.promptScan(ctx, chatID, st, scanPrompt)
			}
			return a.showDetails(chatID, st)
		}
	case "reshoot":
		if err = reg.Reshoot(); err == nil {
			return a.SendText(chatID, "📷 Send another photo.")
		}
	case "use":
		if err = reg.UsePhoto(); err == nil {
			return a.showConfirm(chatID, st)
		}
	case "retake":
		if err = reg.Retake(ctx); err == nil {
			return a.sendKeyboard(chatID, "📷 Send a new photo.", cameraKeyboard())
		}
		if reg.Step() == workflow.StepPhoto {
			a.sendErr(chatID, err)
			return a.sendKeyboard(chatID, "The camera did not start.", cameraRetryKeyboard())
		}
	case "submit":
		return a.submitRegistration(ctx, chatID, st)
	case "again":
		if err = reg.RegisterNext(); err == nil {
			return a.promptScan(ctx, chatID, st, "📝 Next participant\n"+scanPrompt)
		}
	}
	if err != nil {
		a.sendErr(chatID, err)
	}
	return nil
}

func (a *App) openCamera(ctx context.Context, chatID int64, st *chatState, facing capture.Facing) error {
	if err := st.reg.StartCamera(ctx, facing); err != nil {
		a.sendErr(chatID, err)
		return a.sendKeyboard(chatID, "The camera did not start.", cameraRetryKeyboard())
	}
	return a.sendKeyboard(chatID, "📷 Photo ("+string(facing)+" camera). Send the participant's photo.", cameraKeyboard())
}

// registerPhoto takes the frame just pushed as the preview still.
func (a *App) registerPhoto(chatID int64, st *chatState) {
	if _, ok := st.reg.Preview(); ok {
		if err := st.reg.Reshoot(); err != nil {
			a.sendErr(chatID, err)
			return
		}
	}
	still, err := st.reg.Snap()
	if err != nil {
		a.sendErr(chatID, err)
		return
	}
	kb := previewKeyboard()
	caption := "Preview"
	if still.Facing == capture.FacingFront {
		caption += " (mirrored)"
	}
	_ = a.sendPhoto(chatID, still.Payload, caption, &kb)
}

func (a *App) showConfirm(chatID int64, st *chatState) error {
	img, ok := st.reg.Image()
	if !ok {
		return nil
	}
	kb := confirmKeyboard()
	return a.sendPhoto(chatID, img.Payload, confirmCaption(st.reg.Identity(), st.reg.Details()), &kb)
}

func (a *App) submitRegistration(ctx context.Context, chatID int64, st *chatState) error {
	reg := st.reg
	call, err := reg.Submit()
	if err != nil {
		a.sendErr(chatID, err)
		return nil
	}
	id := reg.Identity()
	dispatch(a, ctx, call, func(err error) {
		if err != nil {
			a.sendErr(chatID, err)
			_ = a.sendKeyboard(chatID, "Registration not saved.", confirmKeyboard())
			return
		}
		_ = a.sendKeyboard(chatID, "✅ "+id+" registered.", scanNextKeyboard("r:again"))
	})
	return nil
}
