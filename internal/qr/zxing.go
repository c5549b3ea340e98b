package qr

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ZXing detects QR codes with the gozxing engine.
type ZXing struct {
	hints map[gozxing.DecodeHintType]interface{}
}

func NewZXing() *ZXing {
	return &ZXing{hints: map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

// Detect returns the decoded text or ErrNoCode.
func (z *ZXing) Detect(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	// Readers keep per-decode state, so one is made per frame.
	res, err := qrcode.NewQRCodeReader().Decode(bmp, z.hints)
	if err != nil {
		return "", ErrNoCode
	}
	return res.GetText(), nil
}
