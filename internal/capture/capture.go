package capture

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/stillframe/internal/encode"
	"github.com/bryanchriswhite/stillframe/internal/frame"
	"github.com/bryanchriswhite/stillframe/internal/logger"
	"github.com/bryanchriswhite/stillframe/internal/yuv"
)

// Corrector rotates an encoded still and re-encodes it, returning the applied angle
type Corrector interface {
	Correct(r io.Reader, w io.Writer, hint int) (int, error)
}

// Store persists artifacts
type Store interface {
	Create(data []byte) (string, error)
	CreateFrom(write func(w io.Writer) error) (string, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

// Options configures a Capturer
type Options struct {
	Encoder   encode.Encoder
	Corrector Corrector
	Store     Store

	// Convert turns a frame into the encoder's input; defaults to yuv.ToNV21
	Convert func(*frame.Frame) (*yuv.NV21, error)

	// EncodeQuality is the pre-rotation JPEG quality; defaults to encode.DefaultQuality
	EncodeQuality int

	// Timeout resolves an armed request with ErrCaptureTimeout when no frame
	// arrives in time. Zero waits forever.
	Timeout time.Duration

	// DropUnarmed releases frames immediately unless a capture is armed, so
	// LastFrame and SaveLastFrame have nothing to work with.
	DropUnarmed bool
}

// Stats is a point-in-time snapshot of capturer counters
type Stats struct {
	Ingested  uint64 `json:"ingested"`
	Dropped   uint64 `json:"dropped"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Armed     bool   `json:"armed"`
	HasFrame  bool   `json:"has_frame"`
}

// Capturer holds the most recent frame of a live pipeline and turns the
// next frame after a request into a still image.
//
// Producer and consumer never share a lock: a request is handed over through
// a single atomic slot which exactly one Ingest empties, and the retained
// frame is swapped atomically. Conversion runs on its own goroutine so the
// producer is never held up by encoding or disk I/O.
type Capturer struct {
	opts Options

	armed atomic.Pointer[Request]
	last  atomic.Pointer[frame.Frame]
	seq   atomic.Uint64

	dropped   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64

	// lifecycle orders Close against in-flight Ingest/RequestCapture calls
	lifecycle sync.RWMutex
	closed    bool
	inflight  sync.WaitGroup
}

// New creates a capturer. Encoder, Corrector and Store are required.
func New(opts Options) (*Capturer, error) {
	if opts.Encoder == nil || opts.Corrector == nil || opts.Store == nil {
		return nil, fmt.Errorf("capturer requires an encoder, a corrector and a store")
	}
	if opts.Convert == nil {
		opts.Convert = yuv.ToNV21
	}
	if opts.EncodeQuality == 0 {
		opts.EncodeQuality = encode.DefaultQuality
	}
	return &Capturer{opts: opts}, nil
}

// Ingest accepts a frame from the producer. It never fails and never waits
// on conversion work; ownership of f passes to the capturer.
func (c *Capturer) Ingest(f *frame.Frame) {
	if f == nil {
		c.dropped.Add(1)
		return
	}

	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed {
		c.dropped.Add(1)
		f.Release()
		return
	}

	f.Sequence = c.seq.Add(1)

	if req := c.armed.Swap(nil); req != nil {
		c.inflight.Add(1)
		go c.fulfill(req, f.Retain())
	}

	if c.opts.DropUnarmed {
		f.Release()
		return
	}
	if prev := c.last.Swap(f); prev != nil {
		prev.Release()
	}
}

// RequestCapture arms capture of the next ingested frame. It fails with
// ErrAlreadyCapturing if a request is already armed, leaving that request untouched.
func (c *Capturer) RequestCapture() (*Request, error) {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}

	req := newRequest()
	if timeout := c.opts.Timeout; timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			if c.armed.CompareAndSwap(req, nil) {
				c.failed.Add(1)
				logger.WithComponent("capturer").Warn().
					Dur("timeout", timeout).
					Msg("No frame arrived for armed capture")
				req.resolve(Artifact{}, fmt.Errorf("%w after %s", ErrCaptureTimeout, timeout))
			}
		})
	}

	if !c.armed.CompareAndSwap(nil, req) {
		if req.timer != nil {
			req.timer.Stop()
		}
		return nil, ErrAlreadyCapturing
	}

	logger.WithComponent("capturer").Debug().Msg("Capture armed")
	return req, nil
}

// LastFrame returns the most recently ingested frame with an extra reference
// the caller must Release, or nil if none is retained.
func (c *Capturer) LastFrame() *frame.Frame {
	for {
		f := c.last.Load()
		if f == nil {
			return nil
		}
		if f.TryRetain() {
			return f
		}
		// replaced and released between Load and TryRetain; look again
		if c.last.Load() == f {
			return nil
		}
	}
}

// SaveLastFrame converts the retained frame synchronously, without waiting
// for a new one.
func (c *Capturer) SaveLastFrame() (Artifact, error) {
	c.lifecycle.RLock()
	if c.closed {
		c.lifecycle.RUnlock()
		return Artifact{}, ErrClosed
	}
	f := c.LastFrame()
	if f == nil {
		c.lifecycle.RUnlock()
		return Artifact{}, ErrNoFrameAvailable
	}
	c.inflight.Add(1)
	c.lifecycle.RUnlock()

	defer c.inflight.Done()
	defer f.Release()

	artifact, err := c.process(f)
	c.record(artifact, err)
	return artifact, err
}

// Stats returns a snapshot of the counters
func (c *Capturer) Stats() Stats {
	return Stats{
		Ingested:  c.seq.Load(),
		Dropped:   c.dropped.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Armed:     c.armed.Load() != nil,
		HasFrame:  c.last.Load() != nil,
	}
}

// Close rejects an armed request, waits for running conversions and
// releases the retained frame. Frames ingested afterwards are released
// immediately.
func (c *Capturer) Close() error {
	c.lifecycle.Lock()
	if c.closed {
		c.lifecycle.Unlock()
		return nil
	}
	c.closed = true
	req := c.armed.Swap(nil)
	last := c.last.Swap(nil)
	c.lifecycle.Unlock()

	if req != nil {
		err := ErrClosed
		if c.seq.Load() == 0 {
			err = ErrNoFrameAvailable
		}
		c.failed.Add(1)
		req.resolve(Artifact{}, err)
	}

	c.inflight.Wait()

	if last != nil {
		last.Release()
	}
	return nil
}

func (c *Capturer) fulfill(req *Request, f *frame.Frame) {
	defer c.inflight.Done()

	artifact, err := c.process(f)
	f.Release()

	c.record(artifact, err)
	req.resolve(artifact, err)
}

func (c *Capturer) record(artifact Artifact, err error) {
	log := logger.WithComponent("capturer")
	if err != nil {
		c.failed.Add(1)
		log.Warn().Err(err).Msg("Capture failed")
		return
	}
	c.succeeded.Add(1)
	log.Info().
		Str("path", artifact.Path).
		Uint64("sequence", artifact.Sequence).
		Int("rotation", artifact.Rotation).
		Msg("Frame captured")
}
