package tgbot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/models"
	"tournament-desk/internal/workflow"
)

func (a *App) SendText(chatID int64, text string) error {
	return a.send(tgbotapi.NewMessage(chatID, text))
}

func (a *App) sendKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	return a.send(msg)
}

func (a *App) sendPhoto(chatID int64, jpeg []byte, caption string, kb *tgbotapi.InlineKeyboardMarkup) error {
	p := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "photo.jpg", Bytes: jpeg})
	p.Caption = caption
	if kb != nil {
		p.ReplyMarkup = *kb
	}
	return a.send(p)
}

func (a *App) send(c tgbotapi.Chattable) error {
	if _, err := a.api.Send(c); err != nil {
		a.log.Error("telegram send", "error", err)
		return err
	}
	return nil
}

// sendErr shows the operator-facing part of err.
func (a *App) sendErr(chatID int64, err error) {
	if apperr.CodeOf(err) == apperr.CodeUnknown {
		a.log.Error("unexpected error", "chat", chatID, "error", err)
	}
	_ = a.SendText(chatID, "⚠️ "+apperr.Message(err, "Something went wrong, please try again."))
}

func (a *App) showMenu(chatID int64) error {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📝 Register", "m:"+flowRegister),
			tgbotapi.NewInlineKeyboardButtonData("🔍 Verify", "m:"+flowVerify),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🍽 Food counter", "m:"+flowFood),
		),
	)
	return a.sendKeyboard(chatID, "Tournament desk. What are we doing?\n/register /verify /food /export /cancel", kb)
}

// ---------- Registration ----------

func detailsText(id string, d workflow.Details) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🪪 %s\n", id)
	fmt.Fprintf(&b, "Name: %s\n", orDash(d.Name))
	college := d.ResolvedCollege()
	if d.College == workflow.OtherCollege {
		college += " (other)"
	}
	fmt.Fprintf(&b, "College: %s\n", orDash(strings.TrimSpace(college)))
	fmt.Fprintf(&b, "Sport: %s\n", orDash(d.Sport))
	fmt.Fprintf(&b, "Role: %s\n\n", orDash(d.Role))
	b.WriteString("Edit with \"name: …\", \"college: …\" or \"sport: …\".")
	return b.String()
}

func detailsKeyboard(d workflow.Details) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, r := range workflow.Roles {
		label := r
		if r == d.Role {
			label = "• " + r
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, "r:role:"+r))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🏫 Choose college", "r:college")),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "r:back"),
			tgbotapi.NewInlineKeyboardButtonData("➡️ Next: photo", "r:next"),
		),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func collegeKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(workflow.Colleges); i += 2 {
		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(workflow.Colleges[i], "r:college:"+strconv.Itoa(i)),
		}
		if i+1 < len(workflow.Colleges) {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(workflow.Colleges[i+1], "r:college:"+strconv.Itoa(i+1)))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cameraKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Switch camera", "r:toggle"),
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "r:back"),
		),
	)
}

func cameraRetryKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔁 Retry camera", "r:camera"),
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "r:back"),
		),
	)
}

func previewKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Use photo", "r:use"),
			tgbotapi.NewInlineKeyboardButtonData("🔁 Retake", "r:reshoot"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Switch camera", "r:toggle"),
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "r:back"),
		),
	)
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Register", "r:submit"),
			tgbotapi.NewInlineKeyboardButtonData("📷 Retake", "r:retake"),
		),
	)
}

func confirmCaption(id string, d workflow.Details) string {
	return fmt.Sprintf("Register %s?\n%s · %s\n%s · %s", id, strings.TrimSpace(d.Name), d.ResolvedCollege(), orDash(d.Sport), d.Role)
}

// ---------- Meals ----------

// mealGrid is the day by meal consumption table.
func mealGrid(f models.FoodLog, highlight models.Day) string {
	var b strings.Builder
	for _, d := range models.Days {
		marker := "  "
		if d == highlight {
			marker = "▶ "
		}
		fmt.Fprintf(&b, "%s%s:", marker, d.Label())
		for _, m := range models.Meals {
			mark := "⬜"
			if f.Consumed(d, m) {
				mark = "✅"
			}
			fmt.Fprintf(&b, " %s %s", mark, m.Label())
		}
		b.WriteString("\n")
	}
	return b.String()
}

func participantHeader(p models.Participant) string {
	return fmt.Sprintf("%s (%s)\n%s · %s", p.Name, p.ID, orDash(p.College), orDash(p.Sport))
}

func foodKeyboard(day, active models.Day, food models.FoodLog) tgbotapi.InlineKeyboardMarkup {
	var days []tgbotapi.InlineKeyboardButton
	for _, d := range models.Days {
		label := d.Label()
		if d == active {
			label += " (today)"
		}
		if d == day {
			label = "• " + label
		}
		days = append(days, tgbotapi.NewInlineKeyboardButtonData(label, "f:day:"+string(d)))
	}
	var mealRow []tgbotapi.InlineKeyboardButton
	for _, m := range models.Meals {
		label := m.Label()
		if food.Consumed(day, m) {
			label = "✅ " + label
		}
		mealRow = append(mealRow, tgbotapi.NewInlineKeyboardButtonData(label, "f:meal:"+string(m)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		days,
		mealRow,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➡️ Next participant", "f:next")),
	)
}

func markKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", "f:confirm"),
			tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", "f:cancel"),
		),
	)
}

func scanNextKeyboard(data string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➡️ Scan next", data)),
	)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
