package preview

import (
	"bufio"
	"bytes"
	"context"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/stillframe/internal/frame"
)

type stubSource struct {
	mu sync.Mutex
	f  *frame.Frame
}

func (s *stubSource) set(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		s.f.Release()
	}
	s.f = f
}

func (s *stubSource) LastFrame() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Retain()
}

func grayFrame(width, height int, luma byte, seq uint64) *frame.Frame {
	f := frame.NewI420(width, height)
	for i := range f.Y.Data {
		f.Y.Data[i] = luma
	}
	for i := range f.U.Data {
		f.U.Data[i] = 128
		f.V.Data[i] = 128
	}
	f.Sequence = seq
	return f
}

func TestRenderDownscales(t *testing.T) {
	f := grayFrame(64, 32, 100, 1)
	defer f.Release()

	data, err := Render(f, RenderOptions{Width: 16, Quality: 80})
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("rendered %dx%d, want 16x8", b.Dx(), b.Dy())
	}
}

func TestRenderKeepsSmallFrames(t *testing.T) {
	f := grayFrame(8, 8, 100, 1)
	defer f.Release()

	data, err := Render(f, RenderOptions{Width: 640, Quality: 80})
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if cfg.Width != 8 || cfg.Height != 8 {
		t.Fatalf("rendered %dx%d, want 8x8", cfg.Width, cfg.Height)
	}
}

func TestRenderRejectsInvalidFrame(t *testing.T) {
	f := frame.New(4, 4, frame.Plane{Data: make([]byte, 3), Stride: 4}, frame.Plane{}, frame.Plane{}, 0, nil)
	if _, err := Render(f, RenderOptions{Quality: 80}); err == nil {
		t.Fatalf("expected error for short planes")
	}
}

func TestRenderLabel(t *testing.T) {
	f := grayFrame(160, 40, 200, 7)
	defer f.Release()

	data, err := Render(f, RenderOptions{Quality: 95, Label: true})
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 160 || b.Dy() != 40 {
		t.Fatalf("rendered %dx%d, want 160x40", b.Dx(), b.Dy())
	}

	luma := func(x, y int) uint32 {
		r, g, b, _ := img.At(x, y).RGBA()
		return (r + g + b) / 3 >> 8
	}
	// padding inside the caption box is darkened, the far corner is not
	if corner := luma(1, 1); corner > 120 {
		t.Errorf("caption box luma = %d, want darkened", corner)
	}
	if far := luma(155, 35); far < 180 {
		t.Errorf("uncaptioned luma = %d, want about 200", far)
	}
}

func TestFrameLabel(t *testing.T) {
	f := grayFrame(8, 6, 0, 42)
	f.Rotation = 90
	if got := frameLabel(f); !strings.HasPrefix(got, "#42 8x6 rot 90 ") {
		t.Fatalf("frameLabel() = %q", got)
	}
}

func TestSampleSkipsRepeatedFrames(t *testing.T) {
	m := NewMJPEG(Config{FPS: 10, Quality: 50})
	src := &stubSource{}

	if err := m.sample(src); err != nil {
		t.Fatalf("sample() with no frame failed: %v", err)
	}
	if m.Stats().Frames != 0 {
		t.Fatalf("frame counted without a source frame")
	}

	src.set(grayFrame(8, 8, 50, 1))
	m.sample(src)
	m.sample(src)
	if got := m.Stats().Frames; got != 1 {
		t.Fatalf("frames = %d after repeated sample, want 1", got)
	}

	src.set(grayFrame(8, 8, 60, 2))
	m.sample(src)
	if got := m.Stats().Frames; got != 2 {
		t.Fatalf("frames = %d after new frame, want 2", got)
	}

	src.set(nil)
}

func TestSampleReleasesFrame(t *testing.T) {
	released := false
	f := grayFrame(8, 8, 50, 1)
	src := &stubSource{}
	src.set(frame.New(f.Width, f.Height, f.Y, f.U, f.V, 0, func() { released = true }))

	m := NewMJPEG(Config{})
	m.sample(src)
	src.set(nil)

	if !released {
		t.Fatalf("frame reference leaked by sample")
	}
}

func TestHandlerStreamsFrames(t *testing.T) {
	m := NewMJPEG(Config{FPS: 50})
	src := &stubSource{}
	src.set(grayFrame(16, 16, 128, 1))
	defer src.set(nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// response headers are only flushed with the first part, so publish
	// continuously until the client has read one
	if err := m.Start(ctx, src); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer m.Stop()
	go func() {
		for i := uint64(2); ctx.Err() == nil; i++ {
			src.set(grayFrame(16, 16, 128, i))
			time.Sleep(20 * time.Millisecond)
		}
	}()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read part: %v", err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Fatalf("first line = %q", line)
	}
	if m.Stats().Clients != 1 {
		t.Fatalf("clients = %d, want 1", m.Stats().Clients)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m := NewMJPEG(Config{})
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() before Start failed: %v", err)
	}
	if err := m.Start(context.Background(), &stubSource{}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := m.Start(context.Background(), &stubSource{}); err == nil {
		t.Fatalf("second Start() should fail")
	}
	if !m.IsRunning() {
		t.Fatalf("not running after Start")
	}
	m.Stop()
	m.Stop()
	if m.IsRunning() {
		t.Fatalf("still running after Stop")
	}
}
