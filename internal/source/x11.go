package source

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/stillframe/internal/frame"
	"github.com/bryanchriswhite/stillframe/internal/logger"
)

// X11 grabs the root window of the X display at a fixed rate
type X11 struct {
	fps      int
	rotation int
	pool     frame.Pool

	mu      sync.Mutex
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewX11 creates a screen grab source. The X connection is opened on Start.
func NewX11(fps, rotation int) *X11 {
	if fps <= 0 {
		fps = 10
	}
	return &X11{fps: fps, rotation: rotation}
}

// Name returns the source name
func (s *X11) Name() string {
	return "X11"
}

// Start connects to the X server and begins grabbing frames
func (s *X11) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("x11 source already running")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}

	s.conn = conn
	s.screen = screen
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, sink, s.done)

	logger.WithComponent("x11-source").Info().
		Uint16("width", screen.WidthInPixels).
		Uint16("height", screen.HeightInPixels).
		Int("fps", s.fps).
		Msg("X11 capture started")
	return nil
}

func (s *X11) run(ctx context.Context, sink Sink, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("x11-source")

	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	width := int(s.screen.WidthInPixels)
	height := int(s.screen.HeightInPixels)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reply, err := xproto.GetImage(
				s.conn,
				xproto.ImageFormatZPixmap,
				xproto.Drawable(s.screen.Root),
				0, 0,
				uint16(width), uint16(height),
				0xffffffff,
			).Reply()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to get image")
				continue
			}

			f := s.pool.Get(width, height)
			BGRAToI420(reply.Data, width, height, f)
			f.Rotation = s.rotation
			f.Timestamp = time.Now()
			sink.Ingest(f)
		}
	}
}

// Stop halts grabbing and closes the X connection
func (s *X11) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.conn.Close()
	return nil
}

// BGRAToI420 converts a ZPixmap BGRX buffer into the planes of f. Chroma is
// the average of each 2x2 block; pixels past the end of data read as black.
func BGRAToI420(data []byte, width, height int, f *frame.Frame) {
	pixel := func(x, y int) (uint8, uint8, uint8) {
		i := (y*width + x) * 4
		if i+3 >= len(data) {
			return 0, 0, 0
		}
		return data[i+2], data[i+1], data[i]
	}

	for y := 0; y < height; y++ {
		row := f.Y.Data[y*f.Y.Stride:]
		for x := 0; x < width; x++ {
			r, g, b := pixel(x, y)
			row[x], _, _ = color.RGBToYCbCr(r, g, b)
		}
	}

	for cy := 0; cy < f.ChromaHeight(); cy++ {
		u := f.U.Data[cy*f.U.Stride:]
		v := f.V.Data[cy*f.V.Stride:]
		for cx := 0; cx < f.ChromaWidth(); cx++ {
			var sumCb, sumCr, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := cx*2+dx, cy*2+dy
					if x >= width || y >= height {
						continue
					}
					r, g, b := pixel(x, y)
					_, cb, cr := color.RGBToYCbCr(r, g, b)
					sumCb += int(cb)
					sumCr += int(cr)
					n++
				}
			}
			u[cx] = uint8(sumCb / n)
			v[cx] = uint8(sumCr / n)
		}
	}
}
