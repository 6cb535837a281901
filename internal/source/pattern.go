package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/stillframe/internal/frame"
	"github.com/bryanchriswhite/stillframe/internal/logger"
)

// Pattern produces synthetic I420 frames at a fixed rate: a diagonal luma
// gradient that shifts every frame over static chroma bars.
type Pattern struct {
	width    int
	height   int
	fps      int
	rotation int
	pool     frame.Pool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPattern creates a test pattern source
func NewPattern(width, height, fps, rotation int) *Pattern {
	if fps <= 0 {
		fps = 30
	}
	return &Pattern{width: width, height: height, fps: fps, rotation: rotation}
}

// Name returns the source name
func (p *Pattern) Name() string {
	return "Test pattern"
}

// Start begins emitting frames
func (p *Pattern) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pattern source already running")
	}
	if p.width <= 0 || p.height <= 0 {
		return fmt.Errorf("invalid pattern size %dx%d", p.width, p.height)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true

	go p.run(ctx, sink, p.done)

	logger.WithComponent("pattern-source").Info().
		Int("width", p.width).
		Int("height", p.height).
		Int("fps", p.fps).
		Msg("Test pattern started")
	return nil
}

func (p *Pattern) run(ctx context.Context, sink Sink, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(p.fps))
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f := p.pool.Get(p.width, p.height)
			FillPattern(f, n)
			f.Rotation = p.rotation
			f.Timestamp = time.Now()
			sink.Ingest(f)
			n++
		}
	}
}

// Stop halts frame emission
func (p *Pattern) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

// FillPattern draws pattern frame n into f
func FillPattern(f *frame.Frame, n int) {
	for y := 0; y < f.Height; y++ {
		row := f.Y.Data[y*f.Y.Stride:]
		for x := 0; x < f.Width; x++ {
			row[x] = byte(x + y + n*4)
		}
	}

	cw, ch := f.ChromaWidth(), f.ChromaHeight()
	for y := 0; y < ch; y++ {
		u := f.U.Data[y*f.U.Stride:]
		v := f.V.Data[y*f.V.Stride:]
		for x := 0; x < cw; x++ {
			bar := x * 8 / cw
			u[x] = byte(bar * 32)
			v[x] = byte(255 - bar*32)
		}
	}
}
