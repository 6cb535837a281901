package frame

import "sync"

// Pool recycles I420 plane storage for producers that emit frames at a fixed
// size. Frames obtained from Get hand their buffer back on final Release.
//
// A frame of a different size than the pooled buffer simply allocates, so a
// resolution change degrades to plain allocation rather than failing.
type Pool struct {
	buffers sync.Pool // stores *[]byte
}

// Get returns a tightly packed I420 frame backed by a pooled buffer
func (p *Pool) Get(width, height int) *Frame {
	cw, ch := (width+1)/2, (height+1)/2
	lumaSize := width * height
	chromaSize := cw * ch
	needed := lumaSize + 2*chromaSize

	var buf *[]byte
	if v := p.buffers.Get(); v != nil {
		buf = v.(*[]byte)
	}
	if buf == nil || cap(*buf) < needed {
		b := make([]byte, needed)
		buf = &b
	}
	data := (*buf)[:needed]

	return New(width, height,
		Plane{Data: data[:lumaSize], Stride: width},
		Plane{Data: data[lumaSize : lumaSize+chromaSize], Stride: cw},
		Plane{Data: data[lumaSize+chromaSize:], Stride: cw},
		0,
		func() { p.buffers.Put(buf) },
	)
}
