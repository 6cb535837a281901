package frame

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrInvalidFrame is returned by Validate for frames whose planes cannot be read safely
var ErrInvalidFrame = errors.New("invalid frame")

// Plane is a single image plane with its row stride
type Plane struct {
	Data   []byte
	Stride int
}

// Frame is a decoded I420 video frame.
//
// A Frame starts with one reference owned by whoever created it. Ownership is
// handed over by passing the frame on (e.g. to Capturer.Ingest); additional
// holders call Retain and must balance it with Release.
type Frame struct {
	Width  int
	Height int

	Y Plane
	U Plane
	V Plane

	// Rotation describes how the raw pixels must be rotated to appear upright (0/90/180/270)
	Rotation int

	Timestamp time.Time
	Sequence  uint64

	refs    atomic.Int32
	release func()
}

// New wraps existing planes in a Frame. release runs once when the last
// reference is dropped and may be nil.
func New(width, height int, y, u, v Plane, rotation int, release func()) *Frame {
	f := &Frame{
		Width:     width,
		Height:    height,
		Y:         y,
		U:         u,
		V:         v,
		Rotation:  rotation,
		Timestamp: time.Now(),
		release:   release,
	}
	f.refs.Store(1)
	return f
}

// NewI420 allocates a frame with tightly packed planes
func NewI420(width, height int) *Frame {
	cw, ch := (width+1)/2, (height+1)/2
	return New(width, height,
		Plane{Data: make([]byte, width*height), Stride: width},
		Plane{Data: make([]byte, cw*ch), Stride: cw},
		Plane{Data: make([]byte, cw*ch), Stride: cw},
		0, nil)
}

// ChromaWidth returns the width of the U and V planes
func (f *Frame) ChromaWidth() int {
	return (f.Width + 1) / 2
}

// ChromaHeight returns the height of the U and V planes
func (f *Frame) ChromaHeight() int {
	return (f.Height + 1) / 2
}

// Retain adds a reference and returns the frame for chaining
func (f *Frame) Retain() *Frame {
	if f.refs.Add(1) <= 1 {
		panic("frame: retain of released frame")
	}
	return f
}

// TryRetain adds a reference unless the frame has already been fully
// released. It is the safe way to pick up a frame another goroutine may be
// releasing concurrently.
func (f *Frame) TryRetain() bool {
	for {
		n := f.refs.Load()
		if n <= 0 {
			return false
		}
		if f.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The release callback runs when the count reaches zero.
func (f *Frame) Release() {
	n := f.refs.Add(-1)
	switch {
	case n == 0:
		if f.release != nil {
			f.release()
		}
	case n < 0:
		panic("frame: release of released frame")
	}
}

// Released reports whether every reference has been dropped
func (f *Frame) Released() bool {
	return f.refs.Load() <= 0
}

// Validate checks that every plane covers the bytes a reader will touch
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	switch f.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotation %d", ErrInvalidFrame, f.Rotation)
	}
	if err := checkPlane("Y", f.Y, f.Width, f.Height); err != nil {
		return err
	}
	if err := checkPlane("U", f.U, f.ChromaWidth(), f.ChromaHeight()); err != nil {
		return err
	}
	return checkPlane("V", f.V, f.ChromaWidth(), f.ChromaHeight())
}

func checkPlane(name string, p Plane, width, rows int) error {
	if p.Stride < width {
		return fmt.Errorf("%w: %s stride %d < width %d", ErrInvalidFrame, name, p.Stride, width)
	}
	need := p.Stride*(rows-1) + width
	if len(p.Data) < need {
		return fmt.Errorf("%w: %s plane has %d bytes, need %d", ErrInvalidFrame, name, len(p.Data), need)
	}
	return nil
}
