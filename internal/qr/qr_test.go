package qr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"tournament-desk/internal/capture"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "json payload", raw: `{"participant_id":"PLY-009"}`, want: "PLY-009"},
		{name: "json with extra fields", raw: ` {"participant_id":"PLY-010","name":"Ravi"} `, want: "PLY-010"},
		{name: "bare id", raw: "PLY-009", want: "PLY-009"},
		{name: "bare id with whitespace", raw: "  PLY-009\n", want: "PLY-009"},
		{name: "json without field", raw: `{"id":"PLY-009"}`, want: `{"id":"PLY-009"}`},
		{name: "json with empty field", raw: `{"participant_id":""}`, want: `{"participant_id":""}`},
		{name: "numeric id", raw: `{"participant_id":1042}`, want: "1042"},
		{name: "broken json", raw: `{"participant_id":`, want: `{"participant_id":`},
		{name: "json array", raw: `["PLY-009"]`, want: `["PLY-009"]`},
		{name: "empty", raw: "   ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decode(tt.raw); got != tt.want {
				t.Fatalf("Decode(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func qrImage(t *testing.T, text string) image.Image {
	t.Helper()
	m, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	return m
}

func TestZXingDetect(t *testing.T) {
	z := NewZXing()
	got, err := z.Detect(qrImage(t, `{"participant_id":"PLY-009"}`))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if Decode(got) != "PLY-009" {
		t.Fatalf("decoded %q", got)
	}

	blank := image.NewGray(image.Rect(0, 0, 120, 120))
	if _, err := z.Detect(blank); !errors.Is(err, ErrNoCode) {
		t.Fatalf("blank frame = %v", err)
	}
}

type scriptedDetector struct {
	mu    sync.Mutex
	calls int
	hitAt int
}

func (d *scriptedDetector) Detect(image.Image) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls >= d.hitAt {
		return "PLY-011", nil
	}
	return "", ErrNoCode
}

type loopStream struct {
	stopped atomic.Bool
}

func (s *loopStream) Frame() (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 400, 400)), nil
}

func (s *loopStream) Stop() { s.stopped.Store(true) }

type loopCamera struct {
	stream  *loopStream
	facings []capture.Facing
}

func (c *loopCamera) RequestStream(_ context.Context, f capture.Facing, _ capture.Resolution) (capture.Stream, error) {
	c.facings = append(c.facings, f)
	return c.stream, nil
}

func TestScannerEmitsAndStops(t *testing.T) {
	det := &scriptedDetector{hitAt: 3}
	cam := &loopCamera{stream: &loopStream{}}
	s := NewScanner(det, Options{FPS: 200, Box: 250}, nil)

	got := make(chan string, 16)
	if err := s.Start(context.Background(), cam, func(text string) {
		select {
		case got <- text:
		default:
		}
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background(), cam, func(string) {}); err == nil {
		t.Fatal("second start should fail while running")
	}

	select {
	case text := <-got:
		if text != "PLY-011" {
			t.Fatalf("text = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no decode event")
	}

	s.Stop()
	if !cam.stream.stopped.Load() {
		t.Fatal("stream not released on stop")
	}
	if s.Running() {
		t.Fatal("scanner still running")
	}
	if cam.facings[0] != capture.FacingRear {
		t.Fatalf("facing = %s", cam.facings[0])
	}
	s.Stop()
}

func TestCropUsesDetectionBox(t *testing.T) {
	s := NewScanner(&scriptedDetector{}, Options{Box: 100}, nil)
	out := s.crop(image.NewGray(image.Rect(0, 0, 400, 300)))
	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 100 {
		t.Fatalf("crop = %v", out.Bounds())
	}
	whole := NewScanner(&scriptedDetector{}, Options{}, nil)
	if b := whole.crop(image.NewGray(image.Rect(0, 0, 400, 300))).Bounds(); b.Dx() != 400 {
		t.Fatalf("box 0 should keep the frame, got %v", b)
	}
}

func TestDetectFallsBackToWholeFrame(t *testing.T) {
	badge, err := qrcode.NewQRCodeWriter().Encode(`{"participant_id":"PLY-009"}`, gozxing.BarcodeFormat_QR_CODE, 500, 500, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	// A phone photo of a badge held close: the code is wider than the box.
	photo := imaging.PasteCenter(imaging.New(1280, 960, color.White), badge)
	s := NewScanner(NewZXing(), DefaultOptions, nil)
	got, err := s.detect(photo)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if Decode(got) != "PLY-009" {
		t.Fatalf("decoded %q", got)
	}

	blank := imaging.New(1280, 960, color.White)
	if _, err := s.detect(blank); !errors.Is(err, ErrNoCode) {
		t.Fatalf("blank photo = %v", err)
	}
}
