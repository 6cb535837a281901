package yuv

import (
	"errors"
	"fmt"
	"image"

	"github.com/bryanchriswhite/stillframe/internal/frame"
)

// ErrConversion is returned when a frame cannot be converted
var ErrConversion = errors.New("color conversion failed")

// NV21 is a two-plane 4:2:0 buffer: a packed luma plane followed by one
// chroma plane holding a V byte then a U byte per chroma sample.
type NV21 struct {
	Width  int
	Height int
	// Data holds Width*Height luma bytes followed by the interleaved VU plane
	Data []byte
}

// BufferSize returns the number of bytes an NV21 buffer of the given size occupies
func BufferSize(width, height int) int {
	return width*height + 2*((width+1)/2)*((height+1)/2)
}

// ToNV21 converts a planar I420 frame into an NV21 buffer.
//
// Source strides may exceed the logical width; only the logical pixels are copied.
func ToNV21(f *frame.Frame) (*NV21, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrConversion)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	width, height := f.Width, f.Height
	cw, ch := f.ChromaWidth(), f.ChromaHeight()

	out := &NV21{
		Width:  width,
		Height: height,
		Data:   make([]byte, BufferSize(width, height)),
	}

	luma := out.Luma()
	for row := 0; row < height; row++ {
		src := f.Y.Data[row*f.Y.Stride : row*f.Y.Stride+width]
		copy(luma[row*width:], src)
	}

	// V before U; swapping them produces blue/red inverted output
	chroma := out.Chroma()
	for row := 0; row < ch; row++ {
		u := f.U.Data[row*f.U.Stride : row*f.U.Stride+cw]
		v := f.V.Data[row*f.V.Stride : row*f.V.Stride+cw]
		dst := chroma[row*cw*2 : (row+1)*cw*2]
		for col := 0; col < cw; col++ {
			dst[2*col] = v[col]
			dst[2*col+1] = u[col]
		}
	}

	return out, nil
}

// Luma returns the packed Y region
func (b *NV21) Luma() []byte {
	return b.Data[:b.Width*b.Height]
}

// Chroma returns the interleaved VU region
func (b *NV21) Chroma() []byte {
	return b.Data[b.Width*b.Height:]
}

// Size returns the buffer length in bytes
func (b *NV21) Size() int {
	return len(b.Data)
}

// Planes splits the buffer back into packed Y, U and V planes
func (b *NV21) Planes() (y, u, v []byte) {
	chroma := b.Chroma()
	n := len(chroma) / 2
	u = make([]byte, n)
	v = make([]byte, n)
	for i := 0; i < n; i++ {
		v[i] = chroma[2*i]
		u[i] = chroma[2*i+1]
	}
	y = append([]byte(nil), b.Luma()...)
	return y, u, v
}

// YCbCr returns a 4:2:0 image for encoders that understand image.YCbCr.
// The luma plane is shared with the buffer; chroma is de-interleaved into new slices.
func (b *NV21) YCbCr() *image.YCbCr {
	_, cb, cr := b.Planes()
	return &image.YCbCr{
		Y:              b.Luma(),
		Cb:             cb,
		Cr:             cr,
		YStride:        b.Width,
		CStride:        (b.Width + 1) / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, b.Width, b.Height),
	}
}
