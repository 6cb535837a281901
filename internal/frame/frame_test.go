package frame

import (
	"errors"
	"testing"
)

func TestReleaseRunsCallbackOnce(t *testing.T) {
	calls := 0
	f := New(2, 2,
		Plane{Data: make([]byte, 4), Stride: 2},
		Plane{Data: make([]byte, 1), Stride: 1},
		Plane{Data: make([]byte, 1), Stride: 1},
		0, func() { calls++ })

	f.Retain()
	f.Release()
	if calls != 0 {
		t.Fatalf("release callback ran with a reference outstanding")
	}
	if f.Released() {
		t.Fatalf("frame reported released with a reference outstanding")
	}

	f.Release()
	if calls != 1 {
		t.Fatalf("expected 1 release callback, got %d", calls)
	}
	if !f.Released() {
		t.Fatalf("frame not reported released")
	}
}

func TestReleaseTwicePanics(t *testing.T) {
	f := NewI420(2, 2)
	f.Release()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double release")
		}
	}()
	f.Release()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *Frame)
		wantErr bool
	}{
		{"packed", func(f *Frame) {}, false},
		{"padded strides", func(f *Frame) {
			f.Y = Plane{Data: make([]byte, 8*4), Stride: 8}
			f.U = Plane{Data: make([]byte, 4*2), Stride: 4}
		}, false},
		{"short luma stride", func(f *Frame) { f.Y.Stride = 3 }, true},
		{"short chroma data", func(f *Frame) { f.V.Data = f.V.Data[:3] }, true},
		{"zero width", func(f *Frame) { f.Width = 0 }, true},
		{"odd rotation", func(f *Frame) { f.Rotation = 45 }, true},
		{"last row without padding", func(f *Frame) {
			// stride*(rows-1)+width is enough, the final row needs no padding
			f.Y = Plane{Data: make([]byte, 8*3+4), Stride: 8}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewI420(4, 4)
			tt.mutate(f)
			err := f.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidFrame) {
				t.Fatalf("expected ErrInvalidFrame, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestOddDimensionsRoundChromaUp(t *testing.T) {
	f := NewI420(5, 3)
	if f.ChromaWidth() != 3 || f.ChromaHeight() != 2 {
		t.Fatalf("chroma size = %dx%d, want 3x2", f.ChromaWidth(), f.ChromaHeight())
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPoolReusesBuffers(t *testing.T) {
	var p Pool
	f := p.Get(4, 2)
	if err := f.Validate(); err != nil {
		t.Fatalf("pooled frame invalid: %v", err)
	}
	if len(f.Y.Data) != 8 || len(f.U.Data) != 2 || len(f.V.Data) != 2 {
		t.Fatalf("unexpected plane sizes %d/%d/%d", len(f.Y.Data), len(f.U.Data), len(f.V.Data))
	}
	f.Release()

	// a bigger frame must not reuse the smaller buffer
	g := p.Get(8, 8)
	if err := g.Validate(); err != nil {
		t.Fatalf("pooled frame invalid: %v", err)
	}
	g.Release()
}

func TestTryRetain(t *testing.T) {
	f := NewI420(2, 2)
	if !f.TryRetain() {
		t.Fatalf("TryRetain failed on a live frame")
	}
	f.Release()
	f.Release()
	if f.TryRetain() {
		t.Fatalf("TryRetain succeeded on a released frame")
	}
}
