package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/stillframe/internal/frame"
	"github.com/bryanchriswhite/stillframe/internal/logger"
)

// DefaultPipeline is the gst-launch element chain used when none is configured
const DefaultPipeline = "videotestsrc is-live=true"

// GStreamer reads raw I420 frames from a gst-launch-1.0 subprocess.
// Running GStreamer out of process keeps cgo out of the binary.
type GStreamer struct {
	pipeline string
	width    int
	height   int
	rotation int
	pool     frame.Pool

	mu       sync.Mutex
	cmd      *exec.Cmd
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewGStreamer creates a subprocess source. pipeline is the element chain up
// to (not including) the raw I420 caps filter, e.g. "v4l2src device=/dev/video0".
func NewGStreamer(pipeline string, width, height, rotation int) *GStreamer {
	if pipeline == "" {
		pipeline = DefaultPipeline
	}
	return &GStreamer{
		pipeline: pipeline,
		width:    width,
		height:   height,
		rotation: rotation,
	}
}

// Name returns the source name
func (g *GStreamer) Name() string {
	return "GStreamer"
}

// LaunchLine returns the full gst-launch pipeline description
func (g *GStreamer) LaunchLine() string {
	return fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! "+
			"video/x-raw,format=I420,width=%d,height=%d ! "+
			"fdsink fd=1 sync=false",
		g.pipeline, g.width, g.height,
	)
}

// Start launches the subprocess and begins reading frames
func (g *GStreamer) Start(ctx context.Context, sink Sink) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}

	log := logger.WithComponent("gstreamer-source")

	pipelineStr := g.LaunchLine()
	log.Debug().Str("pipeline", pipelineStr).Msg("Starting GStreamer subprocess")

	// sh -c so the ! separators and quoting in the pipeline survive
	g.cmd = exec.CommandContext(ctx, "sh", "-c", "gst-launch-1.0 -q "+pipelineStr)

	stdout, err := g.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := g.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := g.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}

	g.running = true
	g.stopChan = make(chan struct{})
	g.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		n, err := ReadI420(stdout, g.width, g.height, g.rotation, &g.pool, sink, stop)
		if err != nil {
			log.Error().Err(err).Int("frames", n).Msg("Frame reader failed")
			return
		}
		log.Debug().Int("frames", n).Msg("Frame reader finished")
	}(g.stopChan, g.done)

	go logStderr(stderr)

	log.Info().Int("pid", g.cmd.Process.Pid).Msg("GStreamer subprocess started")
	return nil
}

// Stop kills the subprocess and waits for the reader to exit
func (g *GStreamer) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}

	log := logger.WithComponent("gstreamer-source")

	close(g.stopChan)

	if g.cmd != nil && g.cmd.Process != nil {
		log.Debug().Int("pid", g.cmd.Process.Pid).Msg("Killing GStreamer subprocess")
		g.cmd.Process.Kill()
		g.cmd.Wait()
	}
	<-g.done

	g.running = false
	log.Info().Msg("GStreamer subprocess stopped")
	return nil
}

// ReadI420 reads tightly packed I420 frames of the given size from r and
// pushes them to sink until r is exhausted or stop is closed. It returns the
// number of frames delivered. A clean end of stream is not an error.
func ReadI420(r io.Reader, width, height, rotation int, pool *frame.Pool, sink Sink, stop <-chan struct{}) (int, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	frameSize := width*height + 2*((width+1)/2)*((height+1)/2)
	reader := bufio.NewReaderSize(r, frameSize*2)

	count := 0
	for {
		select {
		case <-stop:
			return count, nil
		default:
		}

		f := pool.Get(width, height)
		// pooled planes are contiguous Y, U, V in one buffer
		buf := f.Y.Data[:frameSize]
		n, err := io.ReadFull(reader, buf)
		if err != nil {
			f.Release()
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				logger.WithComponent("gstreamer-source").Debug().
					Int("bytes_read", n).
					Msg("Discarding truncated final frame")
				return count, nil
			}
			return count, fmt.Errorf("failed to read frame: %w", err)
		}

		f.Rotation = rotation
		f.Timestamp = time.Now()
		sink.Ingest(f)
		count++
	}
}

// logStderr forwards subprocess diagnostics to the log
func logStderr(stderr io.Reader) {
	log := logger.WithComponent("gstreamer-source")
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}
