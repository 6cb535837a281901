package capture

import (
	"fmt"
	"io"

	"github.com/bryanchriswhite/stillframe/internal/frame"
	"github.com/bryanchriswhite/stillframe/internal/logger"
)

// process turns a frame into a rotated JPEG artifact:
// NV21 conversion, intermediate JPEG, rotation, final JPEG.
// The intermediate file is always removed, on success and failure alike.
func (c *Capturer) process(f *frame.Frame) (artifact Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during conversion: %v", ErrConversion, r)
		}
	}()

	buf, err := c.opts.Convert(f)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	data, err := c.opts.Encoder.Encode(buf, c.opts.EncodeQuality)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	intermediate, err := c.opts.Store.Create(data)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrIO, err)
	}

	defer func() {
		rmErr := c.opts.Store.Remove(intermediate)
		if rmErr == nil {
			return
		}
		logger.WithComponent("capturer").Warn().
			Err(rmErr).
			Str("path", intermediate).
			Msg("Failed to remove intermediate artifact")
		if err == nil {
			if artifact.Path != "" {
				c.opts.Store.Remove(artifact.Path)
			}
			artifact = Artifact{}
			err = fmt.Errorf("%w: %w", ErrIO, rmErr)
		}
	}()

	final, angle, err := c.rotate(intermediate, f.Rotation)
	if err != nil {
		return Artifact{}, err
	}

	width, height := f.Width, f.Height
	if angle == 90 || angle == 270 {
		width, height = height, width
	}

	return Artifact{
		Path:       final,
		Width:      width,
		Height:     height,
		Rotation:   angle,
		Sequence:   f.Sequence,
		CapturedAt: f.Timestamp,
	}, nil
}

// rotate reads the intermediate artifact back and writes the corrected one
func (c *Capturer) rotate(intermediate string, hint int) (string, int, error) {
	src, err := c.opts.Store.Open(intermediate)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer src.Close()

	var (
		angle      int
		correctErr error
	)
	final, err := c.opts.Store.CreateFrom(func(w io.Writer) error {
		angle, correctErr = c.opts.Corrector.Correct(src, w, hint)
		return correctErr
	})
	if correctErr != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrConversion, correctErr)
	}
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return final, angle, nil
}
