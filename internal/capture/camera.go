// Package capture owns the camera stream used at the photo desk and turns a
// live frame into a stored still.
package capture

import (
	"context"
	"image"
)

type Facing string

const (
	FacingFront Facing = "front"
	FacingRear  Facing = "rear"
)

func (f Facing) Valid() bool {
	return f == FacingFront || f == FacingRear
}

// Flip returns the other camera.
func (f Facing) Flip() Facing {
	if f == FacingFront {
		return FacingRear
	}
	return FacingFront
}

// Resolution is a preferred frame size hint; devices may deliver another.
type Resolution struct {
	Width  int
	Height int
}

// PreferredResolution is the hint sent with every stream request.
var PreferredResolution = Resolution{Width: 1280, Height: 720}

// Camera hands out video streams. Implementations report an unavailable
// camera as apperr.CodePermission or apperr.CodeDevice.
type Camera interface {
	RequestStream(ctx context.Context, facing Facing, hint Resolution) (Stream, error)
}

// Stream is one owned video resource.
type Stream interface {
	// Frame returns the current frame at native resolution.
	Frame() (image.Image, error)
	// Stop releases the hardware tracks. Repeated calls are no-ops.
	Stop()
}

// Surface is where the live preview is shown.
type Surface interface {
	Attach(s Stream, facing Facing) error
	Detach()
}
