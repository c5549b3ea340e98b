package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Day string

const (
	Day1 Day = "day1"
	Day2 Day = "day2"
	Day3 Day = "day3"
)

// Days is the ordinal list of tournament day buckets.
var Days = []Day{Day1, Day2, Day3}

func (d Day) Valid() bool {
	return d == Day1 || d == Day2 || d == Day3
}

// Label renders "day2" as "Day 2".
func (d Day) Label() string {
	return strings.Replace(string(d), "day", "Day ", 1)
}

type Meal string

const (
	Breakfast Meal = "breakfast"
	Lunch     Meal = "lunch"
	Dinner    Meal = "dinner"
)

var Meals = []Meal{Breakfast, Lunch, Dinner}

func (m Meal) Valid() bool {
	return m == Breakfast || m == Lunch || m == Dinner
}

func (m Meal) Label() string {
	if m == "" {
		return ""
	}
	return strings.ToUpper(string(m[:1])) + string(m[1:])
}

// Window is the serving time shown next to the meal.
func (m Meal) Window() string {
	switch m {
	case Breakfast:
		return "7:00 – 9:00 AM"
	case Lunch:
		return "12:30 – 2:30 PM"
	case Dinner:
		return "7:30 – 9:30 PM"
	}
	return ""
}

// FoodLog maps day bucket -> meal -> consumed.
type FoodLog map[Day]map[Meal]bool

func (f FoodLog) Consumed(d Day, m Meal) bool {
	if f == nil {
		return false
	}
	return f[d][m]
}

// Count returns the number of consumed slots.
func (f FoodLog) Count() int {
	n := 0
	for _, meals := range f {
		for _, v := range meals {
			if v {
				n++
			}
		}
	}
	return n
}

// Set returns a copy of f with the slot flag set.
func (f FoodLog) Set(d Day, m Meal, v bool) FoodLog {
	out := FoodLog{}
	for day, meals := range f {
		out[day] = map[Meal]bool{}
		for meal, flag := range meals {
			out[day][meal] = flag
		}
	}
	if out[d] == nil {
		out[d] = map[Meal]bool{}
	}
	out[d][m] = v
	return out
}

// EmptyFoodLog has every slot present and unconsumed.
func EmptyFoodLog() FoodLog {
	f := FoodLog{}
	for _, d := range Days {
		f[d] = map[Meal]bool{}
		for _, m := range Meals {
			f[d][m] = false
		}
	}
	return f
}

// Participant is a read-only snapshot of a ledger record.
type Participant struct {
	ID      string  `json:"participant_id"`
	Name    string  `json:"name"`
	College string  `json:"college"`
	Sport   string  `json:"sport"`
	Role    string  `json:"role,omitempty"`
	Photo   []byte  `json:"photo_base64,omitempty"`
	Food    FoodLog `json:"food"`
}

func (p Participant) HasPhoto() bool {
	return len(p.Photo) > 0
}

// Lookup is the registration-desk view of a participant.
type Lookup struct {
	Name              string `json:"name,omitempty"`
	College           string `json:"college,omitempty"`
	Sport             string `json:"sport,omitempty"`
	AlreadyRegistered bool   `json:"already_registered"`
}

// Registration is the register call payload.
type Registration struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	College       string `json:"college"`
	Sport         string `json:"sport"`
	Role          string `json:"role,omitempty"`
	Photo         []byte `json:"photo_base64"`
}

// Validate checks the fields every ledger requires before a write.
func (r Registration) Validate() error {
	switch {
	case strings.TrimSpace(r.ParticipantID) == "":
		return errors.New("participant_id is required")
	case strings.TrimSpace(r.Name) == "":
		return errors.New("Name is required")
	case strings.TrimSpace(r.College) == "":
		return errors.New("College is required")
	case len(r.Photo) == 0:
		return errors.New("photo is required")
	}
	return nil
}

type RegisterResult struct {
	OK bool `json:"ok"`
}

// Settings are the process-wide tournament settings.
type Settings struct {
	StartDate string `json:"start_date,omitempty"`
}

// DateLayout is the wire format of Settings.StartDate.
const DateLayout = "2006-01-02"

// Start parses StartDate. ok is false when no start date is configured.
func (s Settings) Start() (t time.Time, ok bool, err error) {
	raw := strings.TrimSpace(s.StartDate)
	if raw == "" {
		return time.Time{}, false, nil
	}
	if t, err = time.Parse(DateLayout, raw); err == nil {
		return t, true, nil
	}
	if t, err = time.Parse(time.RFC3339, raw); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("tournament start date %q: expected YYYY-MM-DD", raw)
}

type MarkRequest struct {
	ParticipantID string `json:"participant_id"`
	Day           Day    `json:"day"`
	Meal          Meal   `json:"meal"`
}

func (r MarkRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ParticipantID) == "":
		return errors.New("participant_id is required")
	case !r.Day.Valid():
		return fmt.Errorf("invalid day %q", r.Day)
	case !r.Meal.Valid():
		return fmt.Errorf("invalid meal %q", r.Meal)
	}
	return nil
}

type MarkReceipt struct {
	Meal            string `json:"meal"`
	ParticipantName string `json:"participant_name"`
}

// MealCounts is keyed "day1_breakfast" as the dashboard endpoint returns it.
type MealCounts map[string]int

func SlotKey(d Day, m Meal) string {
	return string(d) + "_" + string(m)
}

// RosterEntry is one row of the pre-registration roster.
type RosterEntry struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	College       string `json:"college"`
	Sport         string `json:"sport"`
}

// Overview summarises registration progress for the admin dashboard.
type Overview struct {
	TotalParticipants   int `json:"total_participants"`
	RegisteredWithPhoto int `json:"registered_with_photo"`
	PendingRegistration int `json:"pending_registration"`
}

// MealMark is one entry of the meal audit log.
type MealMark struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"participant_name"`
	Day           Day    `json:"day"`
	Meal          Meal   `json:"meal"`
	MarkedAt      string `json:"marked_at"`
}
