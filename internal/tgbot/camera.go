package tgbot

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"

	"github.com/disintegration/imaging"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/capture"
)

// maxPhotoBytes caps a downloaded chat photo.
const maxPhotoBytes = 20 << 20

var errNoFrame = apperr.New(apperr.CodeDevice, "No photo yet: send one from the chat camera.")

// chatCamera turns the photos an operator sends into camera frames. It hands
// out one stream at a time, like a real device.
type chatCamera struct {
	mu     sync.Mutex
	active *chatStream
}

func (c *chatCamera) RequestStream(_ context.Context, facing capture.Facing, _ capture.Resolution) (capture.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, apperr.New(apperr.CodeDevice, "camera is in use")
	}
	s := &chatStream{cam: c, facing: facing}
	c.active = s
	return s, nil
}

// Open reports whether a stream is waiting for frames.
func (c *chatCamera) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Push delivers a frame to the open stream.
func (c *chatCamera) Push(img image.Image) bool {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return false
	}
	return s.set(img)
}

type chatStream struct {
	cam    *chatCamera
	facing capture.Facing

	mu      sync.Mutex
	frame   image.Image
	seq     uint64
	stopped bool
}

func (s *chatStream) set(img image.Image) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.frame = img
	s.seq++
	return true
}

func (s *chatStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, apperr.New(apperr.CodeDevice, "camera stopped")
	}
	if s.frame == nil {
		return nil, errNoFrame
	}
	return s.frame, nil
}

func (s *chatStream) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *chatStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.frame = nil
	s.mu.Unlock()

	s.cam.mu.Lock()
	if s.cam.active == s {
		s.cam.active = nil
	}
	s.cam.mu.Unlock()
}

type frame struct {
	img image.Image
}

// fetchFrame downloads a chat photo and decodes it upright.
func (a *App) fetchFrame(ctx context.Context, fileID string) (frame, error) {
	url, err := a.api.GetFileDirectURL(fileID)
	if err != nil {
		return frame{}, apperr.Wrap(apperr.CodeNetwork, "Could not fetch the photo from Telegram", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return frame{}, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return frame{}, apperr.Wrap(apperr.CodeNetwork, "Could not fetch the photo from Telegram", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return frame{}, apperr.Wrap(apperr.CodeNetwork, "Could not fetch the photo from Telegram",
			fmt.Errorf("file download: %s", resp.Status))
	}
	img, err := imaging.Decode(io.LimitReader(resp.Body, maxPhotoBytes), imaging.AutoOrientation(true))
	if err != nil {
		return frame{}, apperr.Wrap(apperr.CodeValidation, "Could not read that photo", err)
	}
	return frame{img: img}, nil
}
