package workflow

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"testing"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/capture"
	"tournament-desk/internal/fence"
	"tournament-desk/internal/models"
)

type fakeDirectory struct {
	lookups     map[string]models.Lookup
	lookupErr   error
	registerErr error
	registered  []models.Registration
	lookupCalls int
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{lookups: map[string]models.Lookup{
		"PLY-009": {Name: "Asha", College: "NIT Trichy", Sport: "Hockey (W)"},
		"PLY-010": {Name: "Ravi"},
		"PLY-001": {Name: "Meera", College: "NIT Surat", AlreadyRegistered: true},
	}}
}

func (d *fakeDirectory) Lookup(_ context.Context, id string) (models.Lookup, error) {
	d.lookupCalls++
	if d.lookupErr != nil {
		return models.Lookup{}, d.lookupErr
	}
	l, ok := d.lookups[id]
	if !ok {
		return models.Lookup{}, apperr.New(apperr.CodeNotFound, "Participant not found")
	}
	return l, nil
}

func (d *fakeDirectory) Register(_ context.Context, r models.Registration) (models.RegisterResult, error) {
	if d.registerErr != nil {
		return models.RegisterResult{}, d.registerErr
	}
	d.registered = append(d.registered, r)
	return models.RegisterResult{OK: true}, nil
}

type stubStream struct {
	cam     *stubCamera
	stopped bool
}

func (s *stubStream) Frame() (image.Image, error) { return image.NewRGBA(image.Rect(0, 0, 32, 24)), nil }

func (s *stubStream) Stop() {
	if !s.stopped {
		s.stopped = true
		s.cam.active--
	}
}

type stubCamera struct {
	active   int
	requests int
	fail     error
}

func (c *stubCamera) RequestStream(context.Context, capture.Facing, capture.Resolution) (capture.Stream, error) {
	c.requests++
	if c.fail != nil {
		return nil, c.fail
	}
	c.active++
	return &stubStream{cam: c}, nil
}

func mustRun[T any](t *testing.T, call *fence.Call[T], err error) error {
	t.Helper()
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return fence.Run(context.Background(), call)
}

func toConfirm(t *testing.T, s *Session, id string) {
	t.Helper()
	ctx := context.Background()
	call, err := s.SubmitIdentity(id)
	if err := mustRun(t, call, err); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.SetCollege("NIT Calicut"); err != nil {
		t.Fatalf("college: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.StartCamera(ctx, capture.FacingFront); err != nil {
		t.Fatalf("camera: %v", err)
	}
	if _, err := s.Snap(); err != nil {
		t.Fatalf("snap: %v", err)
	}
	if err := s.UsePhoto(); err != nil {
		t.Fatalf("use photo: %v", err)
	}
}

func TestHappyPath(t *testing.T) {
	dir := newDirectory()
	cam := &stubCamera{}
	s := NewSession(dir, cam, nil, nil)
	first := s.ID()

	call, err := s.SubmitIdentity(`{"participant_id":"PLY-009"}`)
	if err := mustRun(t, call, err); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.Step() != StepDetails || s.Identity() != "PLY-009" {
		t.Fatalf("step=%s identity=%q", s.Step(), s.Identity())
	}
	d := s.Details()
	if d.Name != "Asha" || d.College != "NIT Trichy" || d.Sport != "Hockey (W)" || d.Role != DefaultRole {
		t.Fatalf("prefill = %+v", d)
	}
	if err := s.SetRole("Coach"); err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.StartCamera(context.Background(), capture.FacingFront); err != nil {
		t.Fatalf("camera: %v", err)
	}
	if _, err := s.Snap(); err != nil {
		t.Fatalf("snap: %v", err)
	}
	if err := s.UsePhoto(); err != nil {
		t.Fatalf("use: %v", err)
	}
	if cam.active != 0 {
		t.Fatal("camera must be released once the photo is used")
	}
	if s.Step() != StepConfirm {
		t.Fatalf("step = %s", s.Step())
	}

	reg, err := s.Submit()
	if err := mustRun(t, reg, err); err != nil {
		t.Fatalf("register: %v", err)
	}
	if s.Step() != StepDone || len(dir.registered) != 1 {
		t.Fatalf("step=%s registered=%d", s.Step(), len(dir.registered))
	}
	got := dir.registered[0]
	if got.ParticipantID != "PLY-009" || got.Name != "Asha" || got.College != "NIT Trichy" || got.Role != "Coach" || len(got.Photo) == 0 {
		t.Fatalf("registration = %+v", got)
	}

	if err := s.RegisterNext(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if s.Step() != StepScan || s.Identity() != "" || s.ID() == first {
		t.Fatalf("reset left step=%s identity=%q", s.Step(), s.Identity())
	}
	if _, ok := s.Image(); ok {
		t.Fatal("image survived the reset")
	}
}

func TestAlreadyRegisteredStaysAtScan(t *testing.T) {
	s := NewSession(newDirectory(), &stubCamera{}, nil, nil)
	call, err := s.SubmitIdentity("PLY-001")
	err = mustRun(t, call, err)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("submit = %v", err)
	}
	if s.Step() != StepScan || s.Identity() != "" {
		t.Fatalf("step=%s identity=%q", s.Step(), s.Identity())
	}
}

func TestLookupFailuresStayAtScan(t *testing.T) {
	dir := newDirectory()
	s := NewSession(dir, &stubCamera{}, nil, nil)

	if _, err := s.SubmitIdentity("  "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty = %v", err)
	}
	if dir.lookupCalls != 0 {
		t.Fatal("empty identity reached the directory")
	}

	call, err := s.SubmitIdentity("PLY-404")
	if err := mustRun(t, call, err); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("not found = %v", err)
	}

	dir.lookupErr = errors.New("connection reset")
	call, err = s.SubmitIdentity("PLY-009")
	err = mustRun(t, call, err)
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("network = %v", err)
	}
	if s.Step() != StepScan {
		t.Fatalf("step = %s", s.Step())
	}

	dir.lookupErr = nil
	call, err = s.SubmitIdentity("PLY-009")
	if err := mustRun(t, call, err); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestDetailsGuards(t *testing.T) {
	s := NewSession(newDirectory(), &stubCamera{}, nil, nil)
	call, err := s.SubmitIdentity("PLY-010")
	if err := mustRun(t, call, err); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Next(); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("missing college = %v", err)
	}
	if err := s.SetCustomCollege("  "); err != nil {
		t.Fatalf("custom: %v", err)
	}
	if err := s.Next(); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("blank custom college = %v", err)
	}
	if err := s.SetCollege("IIT Madras"); err != nil {
		t.Fatalf("college: %v", err)
	}
	if d := s.Details(); d.College != OtherCollege || d.ResolvedCollege() != "IIT Madras" {
		t.Fatalf("details = %+v", d)
	}
	if err := s.SetName(" "); err != nil {
		t.Fatalf("name: %v", err)
	}
	if err := s.Next(); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("blank name = %v", err)
	}
	if err := s.SetRole("Mascot"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("bad role = %v", err)
	}
	if err := s.SetName("Ravi"); err != nil {
		t.Fatalf("name: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.SetName("Other"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("edit outside details = %v", err)
	}
}

func TestBackKeepsIdentityAndReleasesCamera(t *testing.T) {
	cam := &stubCamera{}
	s := NewSession(newDirectory(), cam, nil, nil)
	call, err := s.SubmitIdentity("PLY-009")
	if err := mustRun(t, call, err); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.StartCamera(context.Background(), capture.FacingRear); err != nil {
		t.Fatalf("camera: %v", err)
	}
	if err := s.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if cam.active != 0 || s.Step() != StepDetails {
		t.Fatalf("active=%d step=%s", cam.active, s.Step())
	}
	if err := s.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if s.Step() != StepScan || s.Identity() != "PLY-009" {
		t.Fatalf("step=%s identity=%q", s.Step(), s.Identity())
	}
	if err := s.Back(); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("back from scan = %v", err)
	}

	before := s.ID()
	call, err = s.SubmitIdentity("PLY-010")
	if err := mustRun(t, call, err); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if s.Identity() != "PLY-010" || s.ID() == before {
		t.Fatal("a different identity must start a new session")
	}
}

func TestConfirmRetakeAndFailedRegister(t *testing.T) {
	dir := newDirectory()
	cam := &stubCamera{}
	s := NewSession(dir, cam, nil, nil)
	toConfirm(t, s, "PLY-009")

	if err := s.Retake(context.Background()); err != nil {
		t.Fatalf("retake: %v", err)
	}
	if s.Step() != StepPhoto || cam.active != 1 {
		t.Fatalf("step=%s active=%d", s.Step(), cam.active)
	}
	if _, ok := s.Image(); ok {
		t.Fatal("retake must drop the image")
	}
	if _, err := s.Snap(); err != nil {
		t.Fatalf("snap: %v", err)
	}
	if err := s.UsePhoto(); err != nil {
		t.Fatalf("use: %v", err)
	}

	dir.registerErr = apperr.New(apperr.CodeValidation, "Participant ID already registered")
	call, err := s.Submit()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.Submit(); !errors.Is(err, fence.ErrBusy) {
		t.Fatalf("concurrent submit = %v", err)
	}
	if err := s.Retake(context.Background()); !errors.Is(err, fence.ErrBusy) {
		t.Fatalf("retake while submitting = %v", err)
	}
	err = fence.Run(context.Background(), call)
	if apperr.Message(err, "") != "Participant ID already registered" {
		t.Fatalf("register = %v", err)
	}
	if s.Step() != StepConfirm {
		t.Fatalf("step = %s", s.Step())
	}

	dir.registerErr = nil
	call, err = s.Submit()
	if err := mustRun(t, call, err); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if s.Step() != StepDone {
		t.Fatalf("step = %s", s.Step())
	}
}

func TestCameraFailureIsRetryableAtPhoto(t *testing.T) {
	cam := &stubCamera{fail: apperr.New(apperr.CodePermission, "Camera access denied")}
	s := NewSession(newDirectory(), cam, nil, nil)
	call, err := s.SubmitIdentity("PLY-009")
	if err := mustRun(t, call, err); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.StartCamera(context.Background(), capture.FacingFront); !errors.Is(err, apperr.ErrPermission) {
		t.Fatalf("camera = %v", err)
	}
	if s.Step() != StepPhoto {
		t.Fatalf("step = %s", s.Step())
	}
	if err := s.UsePhoto(); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("use without capture = %v", err)
	}
	cam.fail = nil
	if err := s.StartCamera(context.Background(), capture.FacingFront); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestResetDiscardsLateLookup(t *testing.T) {
	s := NewSession(newDirectory(), &stubCamera{}, nil, nil)
	call, err := s.SubmitIdentity("PLY-009")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	call.Do(context.Background())
	s.Reset()
	if err := call.Commit(); !errors.Is(err, apperr.ErrStale) {
		t.Fatalf("commit = %v", err)
	}
	if s.Step() != StepScan || s.Identity() != "" {
		t.Fatalf("stale lookup applied: step=%s identity=%q", s.Step(), s.Identity())
	}
}

// TestRandomWalkInvariants drives random events and checks after each one
// that Confirm is only ever reached with a confirmed image and that the
// camera is never held outside the photo step.
func TestRandomWalkInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()
	ids := []string{"PLY-009", "PLY-010", "PLY-001", "PLY-404", ""}

	for walk := 0; walk < 200; walk++ {
		cam := &stubCamera{}
		s := NewSession(newDirectory(), cam, nil, nil)
		for i := 0; i < 40; i++ {
			prev := s.Step()
			usedPhoto := false
			switch rng.Intn(12) {
			case 0:
				if call, err := s.SubmitIdentity(ids[rng.Intn(len(ids))]); err == nil {
					_ = fence.Run(ctx, call)
				}
			case 1:
				_ = s.SetCollege("NIT Warangal")
			case 2:
				_ = s.Next()
			case 3:
				_ = s.Back()
			case 4:
				_ = s.StartCamera(ctx, capture.FacingFront)
			case 5:
				_ = s.ToggleCamera(ctx)
			case 6:
				_, _ = s.Snap()
			case 7:
				_ = s.Reshoot()
			case 8:
				usedPhoto = s.UsePhoto() == nil
			case 9:
				_ = s.Retake(ctx)
			case 10:
				if call, err := s.Submit(); err == nil {
					_ = fence.Run(ctx, call)
				}
			case 11:
				_ = s.RegisterNext()
			}
			if err := s.Check(); err != nil {
				t.Fatalf("walk %d event %d: %v", walk, i, err)
			}
			if s.Step() == StepConfirm && prev != StepConfirm {
				if prev != StepPhoto || !usedPhoto {
					t.Fatalf("walk %d: reached confirm from %s without using a photo", walk, prev)
				}
			}
			if cam.active > 1 {
				t.Fatalf("walk %d: %d streams active", walk, cam.active)
			}
		}
		s.Close()
		if cam.active != 0 {
			t.Fatalf("walk %d: camera held after close", walk)
		}
	}
}
