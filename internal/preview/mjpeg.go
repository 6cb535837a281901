package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/stillframe/internal/encode"
	"github.com/bryanchriswhite/stillframe/internal/frame"
	"github.com/bryanchriswhite/stillframe/internal/logger"
	"github.com/bryanchriswhite/stillframe/internal/yuv"
)

// FrameSource hands out the most recent frame with a reference the caller must release
type FrameSource interface {
	LastFrame() *frame.Frame
}

// Config holds preview stream settings
type Config struct {
	FPS     int
	Width   int
	Quality int
	// Label stamps sequence, size and time onto each preview frame
	Label bool
}

// RenderOptions controls Render
type RenderOptions struct {
	// Width downscales frames wider than this; zero keeps the frame size
	Width   int
	Quality int
	Label   bool
}

// Stats describes the preview stream
type Stats struct {
	Running    bool      `json:"running"`
	FPS        float64   `json:"fps"`
	TargetFPS  int       `json:"target_fps"`
	Frames     uint64    `json:"frames"`
	Clients    int       `json:"clients"`
	LastUpdate time.Time `json:"last_update"`
	Uptime     string    `json:"uptime"`
}

// MJPEG streams the most recent ingested frame as Motion JPEG over HTTP.
// It samples the frame source at its own rate and never holds a frame
// longer than one render.
type MJPEG struct {
	config Config

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastSeq    uint64
	lastUpdate time.Time
	frameCount uint64
	startTime  time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
}

// NewMJPEG creates a preview stream
func NewMJPEG(config Config) *MJPEG {
	if config.FPS <= 0 {
		config.FPS = 5
	}
	if config.Quality <= 0 {
		config.Quality = 75
	}
	return &MJPEG{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start begins sampling src
func (m *MJPEG) Start(ctx context.Context, src FrameSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG preview already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx, src, m.done)

	logger.WithComponent("preview").Info().
		Int("fps", m.config.FPS).
		Int("width", m.config.Width).
		Msg("MJPEG preview started")
	return nil
}

func (m *MJPEG) run(ctx context.Context, src FrameSource, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("preview")

	ticker := time.NewTicker(time.Second / time.Duration(m.config.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.sample(src); err != nil {
				log.Debug().Err(err).Msg("Skipping preview frame")
			}
		}
	}
}

// sample renders and broadcasts the latest frame if it is new
func (m *MJPEG) sample(src FrameSource) error {
	f := src.LastFrame()
	if f == nil {
		return nil
	}
	defer f.Release()

	m.mu.RLock()
	seen := f.Sequence == m.lastSeq
	m.mu.RUnlock()
	if seen {
		return nil
	}

	data, err := Render(f, RenderOptions{
		Width:   m.config.Width,
		Quality: m.config.Quality,
		Label:   m.config.Label,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSeq = f.Sequence
	m.mu.Unlock()

	m.WriteFrame(data)
	return nil
}

// Stop halts sampling and disconnects all clients
func (m *MJPEG) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel, done := m.cancel, m.done
	frames := m.frameCount
	m.mu.Unlock()

	cancel()
	<-done

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("preview").Info().Uint64("frames", frames).Msg("MJPEG preview stopped")
	return nil
}

// WriteFrame sends an encoded JPEG to all connected clients
func (m *MJPEG) WriteFrame(jpegData []byte) {
	m.mu.Lock()
	m.lastUpdate = time.Now()
	m.frameCount++
	m.mu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()
}

// IsRunning returns true if the preview is active
func (m *MJPEG) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Stats returns a snapshot of stream statistics
func (m *MJPEG) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Running:    m.running,
		TargetFPS:  m.config.FPS,
		Frames:     m.frameCount,
		LastUpdate: m.lastUpdate,
	}
	startTime := m.startTime
	m.mu.RUnlock()

	m.clientsMu.RLock()
	s.Clients = len(m.clients)
	m.clientsMu.RUnlock()

	if s.Running && !startTime.IsZero() {
		elapsed := time.Since(startTime)
		if elapsed > 0 {
			s.FPS = float64(s.Frames) / elapsed.Seconds()
		}
		s.Uptime = elapsed.Round(time.Second).String()
	}
	return s
}

// Handler returns an http.Handler for the MJPEG stream
func (m *MJPEG) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("preview")
		log.Info().Int("clients", clientCount).Msg("Preview client connected")

		defer func() {
			m.clientsMu.Lock()
			// Stop may already have closed and dropped the channel
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Preview client disconnected")
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
					return
				}
				if _, err := w.Write(jpegData); err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

// StatsHandler serves Stats as JSON
func (m *MJPEG) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Stats())
	}
}

// Render encodes f as JPEG, downscaling to opts.Width when the frame is
// wider. The pixels are not rotated.
func Render(f *frame.Frame, opts RenderOptions) ([]byte, error) {
	buf, err := yuv.ToNV21(f)
	if err != nil {
		return nil, err
	}

	var img image.Image = buf.YCbCr()
	if (opts.Width > 0 && opts.Width < f.Width) || opts.Label {
		width, height := f.Width, f.Height
		if opts.Width > 0 && opts.Width < f.Width {
			width = opts.Width
			height = f.Height * width / f.Width
			if height < 1 {
				height = 1
			}
		}
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		if width == f.Width {
			draw.Draw(rgba, rgba.Bounds(), img, image.Point{}, draw.Src)
		} else {
			draw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), img, img.Bounds(), draw.Src, nil)
		}
		if opts.Label {
			drawLabel(rgba, frameLabel(f))
		}
		img = rgba
	}

	return encode.Image(img, opts.Quality)
}
