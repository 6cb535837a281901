package capture

import (
	"context"
	"sync"
	"time"
)

// Artifact describes a saved still image
type Artifact struct {
	Path       string    `json:"path"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Rotation   int       `json:"rotation"`
	Sequence   uint64    `json:"sequence"`
	CapturedAt time.Time `json:"captured_at"`
}

// Request is the handle for one armed capture. It is resolved exactly once,
// either with an Artifact or with an error.
//
// There is no way to cancel a request: a context passed to Wait only stops
// the wait, the request stays armed until a frame arrives, the capturer's
// timeout fires, or the capturer is closed.
type Request struct {
	armedAt time.Time
	timer   *time.Timer

	once     sync.Once
	done     chan struct{}
	artifact Artifact
	err      error
}

func newRequest() *Request {
	return &Request{
		armedAt: time.Now(),
		done:    make(chan struct{}),
	}
}

// resolve stores the outcome; later calls are ignored
func (r *Request) resolve(artifact Artifact, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.artifact = artifact
		r.err = err
		resolved = true
		close(r.done)
	})
	if resolved && r.timer != nil {
		r.timer.Stop()
	}
	return resolved
}

// ArmedAt returns when the request was created
func (r *Request) ArmedAt() time.Time {
	return r.armedAt
}

// Done is closed once the request is resolved
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Result blocks until the request is resolved and returns the outcome
func (r *Request) Result() (Artifact, error) {
	<-r.done
	return r.artifact, r.err
}

// Wait blocks until the request is resolved or ctx ends
func (r *Request) Wait(ctx context.Context) (Artifact, error) {
	select {
	case <-r.done:
		return r.artifact, r.err
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	}
}
