package qr

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/capture"
)

// ErrNoCode is returned by a Detector when the frame holds no readable code.
var ErrNoCode = errors.New("no code in frame")

// Detector is the decoding engine.
type Detector interface {
	Detect(img image.Image) (string, error)
}

// Sequenced is implemented by streams that number their frames, letting the
// loop skip frames it has already tried.
type Sequenced interface {
	Seq() uint64
}

type Options struct {
	// FPS is the number of frames read per second.
	FPS int
	// Box is the side of the centered square searched first, in pixels.
	// Zero searches only the whole frame.
	Box int
}

var DefaultOptions = Options{FPS: 10, Box: 250}

// Scanner runs a continuous scan loop over one camera stream.
type Scanner struct {
	det  Detector
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScanner(det Detector, opts Options, log *slog.Logger) *Scanner {
	if opts.FPS <= 0 {
		opts.FPS = DefaultOptions.FPS
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{det: det, opts: opts, log: log}
}

// Start acquires a rear stream from cam and calls onDecode with the raw text
// of every successful read. Frames without a match are ignored. onDecode runs
// on the scan goroutine: it must not block and must not call Stop.
func (s *Scanner) Start(ctx context.Context, cam capture.Camera, onDecode func(text string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return apperr.Validation("scanner is already running")
	}
	stream, err := cam.RequestStream(ctx, capture.FacingRear, capture.PreferredResolution)
	if err != nil {
		var e *apperr.Error
		if errors.As(err, &e) {
			return err
		}
		return apperr.Wrap(apperr.CodeDevice, "camera unavailable for scanning", err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.loop(loopCtx, stream, onDecode, done)
	return nil
}

// Running reports whether the loop is active.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stop ends the loop, waits for it to exit and releases the stream.
// Safe to call when not running.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scanner) loop(ctx context.Context, stream capture.Stream, onDecode func(string), done chan struct{}) {
	defer close(done)
	defer stream.Stop()

	ticker := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
	defer ticker.Stop()

	seq, sequenced := stream.(Sequenced)
	var last uint64
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if sequenced {
			cur := seq.Seq()
			if !first && cur == last {
				continue
			}
			last, first = cur, false
		}
		frame, err := stream.Frame()
		if err != nil || frame == nil {
			continue
		}
		text, err := s.detect(frame)
		if err != nil {
			if !errors.Is(err, ErrNoCode) {
				s.log.Debug("qr detect", "error", err)
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		onDecode(text)
	}
}

// detect searches the detection box first. Box is sized for a viewfinder,
// so a larger native frame is searched whole when the box finds nothing.
func (s *Scanner) detect(frame image.Image) (string, error) {
	box := s.crop(frame)
	text, err := s.det.Detect(box)
	if errors.Is(err, ErrNoCode) && box.Bounds().Size() != frame.Bounds().Size() {
		return s.det.Detect(frame)
	}
	return text, err
}

func (s *Scanner) crop(frame image.Image) image.Image {
	b := frame.Bounds()
	if s.opts.Box <= 0 || (s.opts.Box >= b.Dx() && s.opts.Box >= b.Dy()) {
		return frame
	}
	w, h := s.opts.Box, s.opts.Box
	if w > b.Dx() {
		w = b.Dx()
	}
	if h > b.Dy() {
		h = b.Dy()
	}
	return imaging.CropCenter(frame, w, h)
}
