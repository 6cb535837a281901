package orientation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/stillframe/internal/logger"
)

// Undetectable is the raw reading a sensor reports when it cannot tell the orientation
const Undetectable = -1

// Tracked orientation values
const (
	Portrait       = 0
	LandscapeLeft  = 90
	LandscapeRight = -90
)

// Next returns the tracked orientation after observing raw sensor degrees d.
// Readings outside the snap windows leave the current value unchanged.
func Next(current, d int) int {
	switch {
	case d == Undetectable:
		return Portrait
	case d > 355 || d < 5:
		return Portrait
	case d > 85 && d < 95:
		return LandscapeLeft
	case d > 175 && d < 185:
		// upside down is treated as portrait
		return Portrait
	case d > 265 && d < 275:
		return LandscapeRight
	}
	return current
}

// Tracker turns a stream of raw sensor degrees into a discrete orientation
// value readable from any goroutine without locking.
type Tracker struct {
	src   Source
	value atomic.Int32

	mu      sync.Mutex
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a tracker reading from src. A nil src yields a tracker that
// only changes through Update.
func New(src Source) *Tracker {
	return &Tracker{src: src}
}

// Start begins consuming sensor readings. If the source cannot detect
// orientation the tracker stays disabled and Start returns nil.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enabled {
		return fmt.Errorf("orientation tracker already started")
	}

	log := logger.WithComponent("orientation")

	if t.src == nil || !t.src.CanDetect() {
		log.Warn().Msg("Orientation sensor cannot detect orientation, tracker disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.enabled = true

	go t.run(ctx, t.src.Degrees(), t.done)

	log.Info().Msg("Orientation tracker started")
	return nil
}

func (t *Tracker) run(ctx context.Context, readings <-chan int, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-readings:
			if !ok {
				logger.WithComponent("orientation").Debug().Msg("Orientation source closed")
				return
			}
			t.Update(d)
		}
	}
}

// Stop ends tracking and waits for the reader goroutine to exit.
// The last tracked value remains readable.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
}

// Enabled reports whether the tracker is consuming a sensor
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Update applies one raw reading
func (t *Tracker) Update(degrees int) {
	for {
		cur := t.value.Load()
		next := int32(Next(int(cur), degrees))
		if next == cur || t.value.CompareAndSwap(cur, next) {
			if next != cur {
				logger.WithComponent("orientation").Debug().
					Int("raw", degrees).
					Int32("orientation", next).
					Msg("Orientation changed")
			}
			return
		}
	}
}

// Value returns the current tracked orientation (0, 90 or -90)
func (t *Tracker) Value() int {
	return int(t.value.Load())
}
