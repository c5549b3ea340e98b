package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const (
	displayQuality = 92
	payloadQuality = 85
	payloadMaxEdge = 960
)

// Still is one captured frame in its two encodings.
type Still struct {
	// Display is a data URL for inline preview.
	Display string
	// Payload is the compact JPEG sent to the ledger.
	Payload []byte
	Facing  Facing
	Width   int
	Height  int
}

// PayloadBase64 is the payload as sent in the register request body.
func (s Still) PayloadBase64() string {
	return base64.StdEncoding.EncodeToString(s.Payload)
}

// rasterize copies frame into an offscreen buffer at native resolution,
// mirrored horizontally for the front camera so the still keeps real-world
// left/right.
func rasterize(frame image.Image, facing Facing) *image.NRGBA {
	if facing == FacingFront {
		return imaging.FlipH(frame)
	}
	return imaging.Clone(frame)
}

func encodeStill(frame image.Image, facing Facing) (Still, error) {
	buf := rasterize(frame, facing)
	b := buf.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return Still{}, fmt.Errorf("empty frame")
	}

	var display bytes.Buffer
	if err := imaging.Encode(&display, buf, imaging.JPEG, imaging.JPEGQuality(displayQuality)); err != nil {
		return Still{}, fmt.Errorf("encode display still: %w", err)
	}

	compact := image.Image(buf)
	if b.Dx() > payloadMaxEdge || b.Dy() > payloadMaxEdge {
		compact = imaging.Fit(buf, payloadMaxEdge, payloadMaxEdge, imaging.Lanczos)
	}
	var payload bytes.Buffer
	if err := imaging.Encode(&payload, compact, imaging.JPEG, imaging.JPEGQuality(payloadQuality)); err != nil {
		return Still{}, fmt.Errorf("encode payload still: %w", err)
	}

	return Still{
		Display: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(display.Bytes()),
		Payload: payload.Bytes(),
		Facing:  facing,
		Width:   b.Dx(),
		Height:  b.Dy(),
	}, nil
}
