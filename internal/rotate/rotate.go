package rotate

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"github.com/bryanchriswhite/stillframe/internal/encode"
)

// Reader exposes the current device orientation (0, 90 or -90)
type Reader interface {
	Value() int
}

// Corrector rotates captured stills so they appear upright for the current
// device orientation.
type Corrector struct {
	orientation Reader
	quality     int
}

// New creates a corrector that re-encodes at encode.FinalQuality
func New(orientation Reader) *Corrector {
	return &Corrector{orientation: orientation, quality: encode.FinalQuality}
}

// Angle returns the clockwise rotation to apply to a frame.
//
// The frame's own rotation hint is accepted but does not take part in the
// decision; only the device orientation selects the angle.
func (c *Corrector) Angle(hint int) int {
	_ = hint
	device := 0
	if c.orientation != nil {
		device = c.orientation.Value()
	}
	switch device {
	case 90:
		return 180
	case -90:
		return 0
	default:
		return 90
	}
}

// Correct decodes an image from r, rotates it by Angle(hint) and writes the
// re-encoded JPEG to w. It returns the applied angle.
func (c *Corrector) Correct(r io.Reader, w io.Writer, hint int) (int, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}

	angle := c.Angle(hint)
	rotated, err := Apply(img, angle)
	if err != nil {
		return 0, err
	}

	data, err := encode.Image(rotated, c.quality)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write rotated image: %w", err)
	}
	return angle, nil
}

// Apply rotates img clockwise by a multiple of 90 degrees.
// 90 and 270 swap the output width and height.
func Apply(img image.Image, degrees int) (image.Image, error) {
	// imaging rotates counter-clockwise
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return img, nil
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	}
	return nil, fmt.Errorf("unsupported rotation %d", degrees)
}
