package source

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/stillframe/internal/config"
	"github.com/bryanchriswhite/stillframe/internal/frame"
)

// Sink receives frames pushed by a source. Implementations must not block
// for long; sources call Ingest from their own read loop.
type Sink interface {
	Ingest(f *frame.Frame)
}

// Source defines the interface for frame producers
type Source interface {
	// Start begins pushing frames to sink until ctx ends or Stop is called
	Start(ctx context.Context, sink Sink) error

	// Stop releases resources and waits for the producer goroutine to exit
	Stop() error

	// Name returns a human-readable name for this source
	Name() string
}

// New builds the source selected by cfg.Kind
func New(cfg config.SourceConfig) (Source, error) {
	switch cfg.Kind {
	case "pattern", "":
		return NewPattern(cfg.Width, cfg.Height, cfg.FPS, cfg.Rotation), nil
	case "gstreamer":
		return NewGStreamer(cfg.Pipeline, cfg.Width, cfg.Height, cfg.Rotation), nil
	case "x11":
		return NewX11(cfg.FPS, cfg.Rotation), nil
	case "portal":
		return NewPortal(cfg.Width, cfg.Height, cfg.Rotation), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
}
