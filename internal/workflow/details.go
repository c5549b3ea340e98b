package workflow

import (
	"strings"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/models"
)

const (
	DefaultSport = "Hockey (M)"
	DefaultRole  = "Player"
	// OtherCollege selects the free-text college field.
	OtherCollege = "Other"
)

var Colleges = []string{
	"NIT Trichy", "NIT Raipur", "NIT Calicut", "NIT Puducherry",
	"NITK Surathkal", "NIT Jamshedpur", "NIT Warangal", "NIT Kurukshetra",
	"NIT Silchar", "NIT Durgapur", "NIT Surat", "NIT Bhopal",
	"NIT Patna", "NIT Rourkela", "NIT Allahabad", "NIT Agartala",
	OtherCollege,
}

var Roles = []string{"Player", "Manager", "Coach", "Referee", "Support Staff"}

// Details is the draft form filled at the Details step.
type Details struct {
	Name          string
	College       string
	CustomCollege string
	Sport         string
	Role          string
}

func prefill(l models.Lookup) Details {
	d := Details{
		Name:    l.Name,
		College: l.College,
		Sport:   l.Sport,
		Role:    DefaultRole,
	}
	if d.Sport == "" {
		d.Sport = DefaultSport
	}
	return d
}

// ResolvedCollege is the college that will be registered.
func (d Details) ResolvedCollege() string {
	if d.College == OtherCollege {
		return strings.TrimSpace(d.CustomCollege)
	}
	return strings.TrimSpace(d.College)
}

func (d Details) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return apperr.Validation("Name is required")
	}
	if d.ResolvedCollege() == "" {
		return apperr.Validation("College is required")
	}
	return nil
}

func (d Details) registration(id string, photo []byte) models.Registration {
	sport := strings.TrimSpace(d.Sport)
	if sport == "" {
		sport = DefaultSport
	}
	return models.Registration{
		ParticipantID: id,
		Name:          strings.TrimSpace(d.Name),
		College:       d.ResolvedCollege(),
		Sport:         sport,
		Role:          d.Role,
		Photo:         photo,
	}
}

func validRole(r string) bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}
