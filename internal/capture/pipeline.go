package capture

import (
	"context"
	"errors"
	"log/slog"

	"tournament-desk/internal/apperr"
)

type State int

const (
	StateIdle State = iota
	StateLive
	StateCaptured
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateCaptured:
		return "captured"
	default:
		return "idle"
	}
}

// Pipeline owns at most one stream at a time and materializes one still.
// It is not safe for concurrent use; callers drive it from one loop.
type Pipeline struct {
	cam     Camera
	surface Surface
	log     *slog.Logger

	facing Facing
	stream Stream
	still  *Still
}

// NewPipeline returns an idle pipeline. surface may be nil.
func NewPipeline(cam Camera, surface Surface, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cam: cam, surface: surface, log: log, facing: FacingFront}
}

func (p *Pipeline) State() State {
	switch {
	case p.stream == nil:
		return StateIdle
	case p.still != nil:
		return StateCaptured
	default:
		return StateLive
	}
}

func (p *Pipeline) Facing() Facing { return p.facing }

// Still returns the pending capture, if any.
func (p *Pipeline) Still() (Still, bool) {
	if p.still == nil {
		return Still{}, false
	}
	return *p.still, true
}

// Acquire requests a stream for facing and binds it to the preview surface.
// An owned stream is released first, so two streams are never held at once.
// Failures are retryable: the pipeline is left idle.
func (p *Pipeline) Acquire(ctx context.Context, facing Facing) error {
	if !facing.Valid() {
		return apperr.Validation("facing mode must be front or rear")
	}
	p.Release()
	p.facing = facing

	s, err := p.cam.RequestStream(ctx, facing, PreferredResolution)
	if err != nil {
		return cameraError(err)
	}
	if p.surface != nil {
		if err := p.surface.Attach(s, facing); err != nil {
			s.Stop()
			return apperr.Wrap(apperr.CodeDevice, "camera preview could not start, try again", err)
		}
	}
	p.stream = s
	p.log.Debug("camera acquired", "facing", facing)
	return nil
}

// Toggle switches between front and rear cameras.
func (p *Pipeline) Toggle(ctx context.Context) error {
	return p.Acquire(ctx, p.facing.Flip())
}

// Capture reads the live frame into a still.
func (p *Pipeline) Capture() (Still, error) {
	switch p.State() {
	case StateIdle:
		return Still{}, apperr.Validation("camera is not running")
	case StateCaptured:
		return Still{}, apperr.Validation("a photo is already captured, retake or use it")
	}
	frame, err := p.stream.Frame()
	if err != nil {
		return Still{}, cameraError(err)
	}
	still, err := encodeStill(frame, p.facing)
	if err != nil {
		return Still{}, apperr.Wrap(apperr.CodeDevice, "could not read the camera frame", err)
	}
	p.still = &still
	return still, nil
}

// Retake drops the captured still and returns to live preview on the same
// stream.
func (p *Pipeline) Retake() error {
	if p.State() != StateCaptured {
		return apperr.Validation("nothing to retake")
	}
	p.still = nil
	return nil
}

// Confirm hands out the captured still and releases the camera.
func (p *Pipeline) Confirm() (Still, error) {
	if p.State() != StateCaptured {
		return Still{}, apperr.Validation("capture a photo first")
	}
	still := *p.still
	p.Release()
	return still, nil
}

// Release stops every track of the owned stream. Idempotent.
func (p *Pipeline) Release() {
	p.still = nil
	if p.stream == nil {
		return
	}
	if p.surface != nil {
		p.surface.Detach()
	}
	p.stream.Stop()
	p.stream = nil
	p.log.Debug("camera released", "facing", p.facing)
}

// With acquires a stream, runs fn, and releases the stream on every exit
// path, including panics.
func With(ctx context.Context, cam Camera, facing Facing, fn func(*Pipeline) error) error {
	p := NewPipeline(cam, nil, nil)
	defer p.Release()
	if err := p.Acquire(ctx, facing); err != nil {
		return err
	}
	return fn(p)
}

func cameraError(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Wrap(apperr.CodeDevice, "camera unavailable, check the device and try again", err)
}
