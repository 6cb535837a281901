package encode

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/bryanchriswhite/stillframe/internal/yuv"
)

const (
	// DefaultQuality is used for the intermediate (pre-rotation) JPEG
	DefaultQuality = 90
	// FinalQuality is used when re-encoding after rotation
	FinalQuality = 100
)

// Encoder compresses an interleaved YUV buffer into an image file
type Encoder interface {
	Encode(buf *yuv.NV21, quality int) ([]byte, error)
}

// JPEG encodes NV21 buffers as baseline JPEG
type JPEG struct{}

// Encode implements Encoder
func (JPEG) Encode(buf *yuv.NV21, quality int) ([]byte, error) {
	if buf == nil || buf.Width <= 0 || buf.Height <= 0 {
		return nil, fmt.Errorf("cannot encode empty buffer")
	}
	if buf.Size() < yuv.BufferSize(buf.Width, buf.Height) {
		return nil, fmt.Errorf("buffer has %d bytes, need %d", buf.Size(), yuv.BufferSize(buf.Width, buf.Height))
	}
	return Image(buf.YCbCr(), quality)
}

// Image encodes an arbitrary raster as JPEG
func Image(img image.Image, quality int) ([]byte, error) {
	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(clamp(quality))); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return out.Bytes(), nil
}

func clamp(quality int) int {
	switch {
	case quality < 1:
		return 1
	case quality > 100:
		return 100
	}
	return quality
}
