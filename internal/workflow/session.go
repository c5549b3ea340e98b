// Package workflow is the registration desk: scan a badge, complete the
// details, take a photo, confirm and register.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/capture"
	"tournament-desk/internal/fence"
	"tournament-desk/internal/models"
	"tournament-desk/internal/qr"
)

type Step int

const (
	StepScan Step = iota
	StepDetails
	StepPhoto
	StepConfirm
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepScan:
		return "scan"
	case StepDetails:
		return "details"
	case StepPhoto:
		return "photo"
	case StepConfirm:
		return "confirm"
	case StepDone:
		return "done"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Directory is the participant directory the desk registers against.
type Directory interface {
	Lookup(ctx context.Context, id string) (models.Lookup, error)
	Register(ctx context.Context, r models.Registration) (models.RegisterResult, error)
}

// Session is one onboarding run. It is driven from a single goroutine;
// the remote half of a fence.Call may run elsewhere but Commit must come
// back to the driving goroutine.
type Session struct {
	dir Directory
	log *slog.Logger

	id       uuid.UUID
	step     Step
	identity string
	details  Details
	image    *capture.Still
	camera   *capture.Pipeline
	gate     fence.Gate
}

// NewSession creates a session at the Scan step.
func NewSession(dir Directory, cam capture.Camera, surface capture.Surface, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{dir: dir, log: log}
	s.camera = capture.NewPipeline(cam, surface, log)
	s.renew()
	return s
}

func (s *Session) renew() {
	s.id = uuid.New()
	s.step = StepScan
	s.identity = ""
	s.details = Details{}
	s.image = nil
	s.log.Debug("registration session created", "session", s.id)
}

func (s *Session) ID() uuid.UUID { return s.id }
func (s *Session) Step() Step { return s.step }
func (s *Session) Identity() string { return s.identity }
func (s *Session) Details() Details { return s.details }
func (s *Session) Busy() bool { return s.gate.Busy() }
func (s *Session) Camera() capture.State { return s.camera.State() }
func (s *Session) Facing() capture.Facing { return s.camera.Facing() }

// Image is the confirmed capture, present from Confirm onwards.
func (s *Session) Image() (capture.Still, bool) {
	if s.image == nil {
		return capture.Still{}, false
	}
	return *s.image, true
}

// Preview is the captured still awaiting Use or Retake at the Photo step.
func (s *Session) Preview() (capture.Still, bool) {
	return s.camera.Still()
}

func (s *Session) setStep(next Step) {
	if next == s.step {
		return
	}
	s.log.Debug("registration step", "session", s.id, "from", s.step, "to", next)
	s.step = next
	s.gate.Bump()
}

func (s *Session) expect(step Step) error {
	if s.gate.Busy() {
		return fence.ErrBusy
	}
	if s.step != step {
		return apperr.Newf(apperr.CodeValidation, "not available at the %s step", s.step)
	}
	return nil
}

// SubmitIdentity runs a scanned payload or a manual entry through the
// decoder and prepares the lookup. A participant already registered with a
// photo keeps the session at Scan.
func (s *Session) SubmitIdentity(raw string) (*fence.Call[models.Lookup], error) {
	if err := s.expect(StepScan); err != nil {
		return nil, err
	}
	id := qr.Decode(raw)
	if id == "" {
		return nil, apperr.Validation("enter or scan a participant id")
	}
	return fence.NewCall(&s.gate, func(ctx context.Context) (models.Lookup, error) {
		return s.dir.Lookup(ctx, id)
	}, func(res models.Lookup, err error) error {
		if err != nil {
			s.log.Info("lookup failed", "session", s.id, "participant_id", id, "error", err)
			if apperr.CodeOf(err) == apperr.CodeUnknown {
				return apperr.Wrap(apperr.CodeNetwork, "Lookup failed, please try again", err)
			}
			return err
		}
		if res.AlreadyRegistered {
			return apperr.New(apperr.CodeConflict, "Already registered with a photo!")
		}
		if s.identity != "" && s.identity != id {
			// A different badge starts a new session; identities never change
			// within one.
			s.renew()
		}
		s.identity = id
		s.details = prefill(res)
		s.setStep(StepDetails)
		return nil
	})
}

func (s *Session) editDetails(fn func(*Details)) error {
	if err := s.expect(StepDetails); err != nil {
		return err
	}
	fn(&s.details)
	return nil
}

func (s *Session) SetName(v string) error {
	return s.editDetails(func(d *Details) { d.Name = v })
}

// SetCollege accepts a listed college, OtherCollege, or any other name,
// which is stored as a custom college.
func (s *Session) SetCollege(v string) error {
	v = strings.TrimSpace(v)
	return s.editDetails(func(d *Details) {
		for _, c := range Colleges {
			if strings.EqualFold(c, v) {
				d.College = c
				return
			}
		}
		d.College = OtherCollege
		d.CustomCollege = v
	})
}

func (s *Session) SetCustomCollege(v string) error {
	return s.editDetails(func(d *Details) {
		d.College = OtherCollege
		d.CustomCollege = v
	})
}

func (s *Session) SetSport(v string) error {
	return s.editDetails(func(d *Details) { d.Sport = strings.TrimSpace(v) })
}

func (s *Session) SetRole(v string) error {
	if !validRole(v) {
		return apperr.Newf(apperr.CodeValidation, "role must be one of %s", strings.Join(Roles, ", "))
	}
	return s.editDetails(func(d *Details) { d.Role = v })
}

// Next moves from Details to Photo once name and college are present.
func (s *Session) Next() error {
	if err := s.expect(StepDetails); err != nil {
		return err
	}
	if err := s.details.Validate(); err != nil {
		return err
	}
	s.setStep(StepPhoto)
	return nil
}

// Back regresses one step. From Details the bound identity is kept; from
// Photo the camera is released.
func (s *Session) Back() error {
	if s.gate.Busy() {
		return fence.ErrBusy
	}
	switch s.step {
	case StepDetails:
		s.setStep(StepScan)
	case StepPhoto:
		s.camera.Release()
		s.setStep(StepDetails)
	default:
		return apperr.Newf(apperr.CodeValidation, "cannot go back from the %s step", s.step)
	}
	return nil
}

// StartCamera acquires the camera for the Photo step. Retry it after a
// permission or device error, with the same or the other facing.
func (s *Session) StartCamera(ctx context.Context, facing capture.Facing) error {
	if err := s.expect(StepPhoto); err != nil {
		return err
	}
	return s.camera.Acquire(ctx, facing)
}

func (s *Session) ToggleCamera(ctx context.Context) error {
	if err := s.expect(StepPhoto); err != nil {
		return err
	}
	return s.camera.Toggle(ctx)
}

// Snap captures the live frame for review.
func (s *Session) Snap() (capture.Still, error) {
	if err := s.expect(StepPhoto); err != nil {
		return capture.Still{}, err
	}
	return s.camera.Capture()
}

// Reshoot discards an unconfirmed capture and keeps the preview running.
func (s *Session) Reshoot() error {
	if err := s.expect(StepPhoto); err != nil {
		return err
	}
	return s.camera.Retake()
}

// UsePhoto confirms the capture, releases the camera and moves to Confirm.
func (s *Session) UsePhoto() error {
	if err := s.expect(StepPhoto); err != nil {
		return err
	}
	still, err := s.camera.Confirm()
	if err != nil {
		return err
	}
	s.image = &still
	s.setStep(StepConfirm)
	return nil
}

// Retake drops the confirmed image and re-enters live preview with the
// last facing. If the camera cannot be acquired the session stays at Photo
// and StartCamera can be retried.
func (s *Session) Retake(ctx context.Context) error {
	if err := s.expect(StepConfirm); err != nil {
		return err
	}
	s.image = nil
	s.setStep(StepPhoto)
	return s.camera.Acquire(ctx, s.camera.Facing())
}

// Submit prepares the register call. Until it commits, no other call or
// transition is accepted.
func (s *Session) Submit() (*fence.Call[models.RegisterResult], error) {
	if err := s.expect(StepConfirm); err != nil {
		return nil, err
	}
	if s.image == nil {
		return nil, apperr.Validation("capture a photo first")
	}
	req := s.details.registration(s.identity, s.image.Payload)
	return fence.NewCall(&s.gate, func(ctx context.Context) (models.RegisterResult, error) {
		return s.dir.Register(ctx, req)
	}, func(res models.RegisterResult, err error) error {
		if err != nil {
			s.log.Info("register failed", "session", s.id, "participant_id", req.ParticipantID, "error", err)
			return err
		}
		s.log.Info("participant registered", "session", s.id, "participant_id", req.ParticipantID)
		s.setStep(StepDone)
		return nil
	})
}

// RegisterNext ends a finished session and starts over at Scan.
func (s *Session) RegisterNext() error {
	if err := s.expect(StepDone); err != nil {
		return err
	}
	s.Reset()
	return nil
}

// Reset clears the whole session, releases the camera and discards any
// in-flight completion.
func (s *Session) Reset() {
	s.camera.Release()
	s.gate.Bump()
	s.renew()
}

// Close releases the camera; call on every teardown path.
func (s *Session) Close() {
	s.camera.Release()
	s.gate.Bump()
}

// Check reports a broken session invariant.
func (s *Session) Check() error {
	hasImage := s.image != nil
	pastPhoto := s.step == StepConfirm || s.step == StepDone
	if hasImage != pastPhoto {
		return fmt.Errorf("image present=%v at step %s", hasImage, s.step)
	}
	if s.step != StepScan && s.identity == "" {
		return fmt.Errorf("no identity at step %s", s.step)
	}
	if s.step != StepPhoto && s.camera.State() != capture.StateIdle {
		return fmt.Errorf("camera %s outside the photo step", s.camera.State())
	}
	return nil
}
