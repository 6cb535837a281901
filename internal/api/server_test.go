package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/stillframe/internal/capture"
	"github.com/bryanchriswhite/stillframe/internal/encode"
	"github.com/bryanchriswhite/stillframe/internal/frame"
	"github.com/bryanchriswhite/stillframe/internal/rotate"
	"github.com/bryanchriswhite/stillframe/internal/storage"
)

func grayFrame(width, height int) *frame.Frame {
	f := frame.NewI420(width, height)
	for i := range f.Y.Data {
		f.Y.Data[i] = 128
	}
	for i := range f.U.Data {
		f.U.Data[i] = 128
		f.V.Data[i] = 128
	}
	return f
}

func newTestServer(t *testing.T, timeout time.Duration) (*Server, *capture.Capturer) {
	t.Helper()

	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New() failed: %v", err)
	}
	c, err := capture.New(capture.Options{
		Encoder:   encode.JPEG{},
		Corrector: rotate.New(nil),
		Store:     store,
		Timeout:   timeout,
	})
	if err != nil {
		t.Fatalf("capture.New() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return NewServer(Deps{Capturer: c}), c
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestCaptureReturnsArtifact(t *testing.T) {
	s, c := newTestServer(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			c.Ingest(grayFrame(8, 4))
			time.Sleep(5 * time.Millisecond)
		}
	}()

	rec := do(t, s, http.MethodPost, "/api/capture")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var artifact capture.Artifact
	if err := json.NewDecoder(rec.Body).Decode(&artifact); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if artifact.Path == "" || artifact.Sequence == 0 {
		t.Fatalf("incomplete artifact %+v", artifact)
	}
	// no orientation reading rotates by 90, swapping dimensions
	if artifact.Width != 4 || artifact.Height != 8 || artifact.Rotation != 90 {
		t.Fatalf("artifact %dx%d rot %d", artifact.Width, artifact.Height, artifact.Rotation)
	}
}

func TestCaptureAsJPEG(t *testing.T) {
	s, c := newTestServer(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			c.Ingest(grayFrame(8, 8))
			time.Sleep(5 * time.Millisecond)
		}
	}()

	rec := do(t, s, http.MethodPost, "/api/capture?format=jpeg")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if _, err := jpeg.Decode(rec.Body); err != nil {
		t.Fatalf("body is not a JPEG: %v", err)
	}
}

func TestCaptureConflictWhileArmed(t *testing.T) {
	s, c := newTestServer(t, 0)

	if _, err := c.RequestCapture(); err != nil {
		t.Fatalf("RequestCapture() failed: %v", err)
	}

	rec := do(t, s, http.MethodPost, "/api/capture")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCaptureTimeout(t *testing.T) {
	s, _ := newTestServer(t, 20*time.Millisecond)

	rec := do(t, s, http.MethodPost, "/api/capture")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "timed out") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestCaptureAfterClose(t *testing.T) {
	s, c := newTestServer(t, 0)
	c.Close()

	rec := do(t, s, http.MethodPost, "/api/capture")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCaptureLast(t *testing.T) {
	s, c := newTestServer(t, 0)

	if rec := do(t, s, http.MethodPost, "/api/capture/last"); rec.Code != http.StatusNotFound {
		t.Fatalf("status without frame = %d, want 404", rec.Code)
	}

	c.Ingest(grayFrame(8, 8))

	rec := do(t, s, http.MethodPost, "/api/capture/last")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var artifact capture.Artifact
	if err := json.NewDecoder(rec.Body).Decode(&artifact); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if artifact.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", artifact.Sequence)
	}
}

func TestLatestFrame(t *testing.T) {
	s, c := newTestServer(t, 0)

	if rec := do(t, s, http.MethodGet, "/api/frame/latest"); rec.Code != http.StatusNotFound {
		t.Fatalf("status without frame = %d, want 404", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/frame/latest?width=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status for bad width = %d, want 400", rec.Code)
	}

	c.Ingest(grayFrame(32, 16))

	rec := do(t, s, http.MethodGet, "/api/frame/latest?width=8")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("body is not a JPEG: %v", err)
	}
	if cfg.Width != 8 || cfg.Height != 4 {
		t.Fatalf("preview %dx%d, want 8x4", cfg.Width, cfg.Height)
	}
}

type stubOrientation int

func (o stubOrientation) Value() int    { return int(o) }
func (o stubOrientation) Enabled() bool { return true }

func TestStatus(t *testing.T) {
	s, c := newTestServer(t, 0)
	s.deps.Orientation = stubOrientation(-90)
	c.Ingest(grayFrame(4, 4))
	c.Ingest(nil)

	rec := do(t, s, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Capture     capture.Stats     `json:"capture"`
		Orientation orientationStatus `json:"orientation"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body.Capture.Ingested != 1 || body.Capture.Dropped != 1 || !body.Capture.HasFrame {
		t.Fatalf("capture stats %+v", body.Capture)
	}
	if body.Orientation.Value != -90 || !body.Orientation.Enabled {
		t.Fatalf("orientation %+v", body.Orientation)
	}
}

func TestHealthAndCORS(t *testing.T) {
	s, _ := newTestServer(t, 0)

	rec := do(t, s, http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	if rec := do(t, s, http.MethodOptions, "/api/capture"); rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/capture"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/capture status = %d, want 405", rec.Code)
	}
}

type recordingSensor struct {
	mu       sync.Mutex
	readings []int
}

func (r *recordingSensor) Push(degrees int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, degrees)
	return true
}

func TestOrientationStream(t *testing.T) {
	s, _ := newTestServer(t, 0)

	if rec := do(t, s, http.MethodGet, "/api/orientation/stream"); rec.Code != http.StatusNotFound {
		t.Fatalf("status without sensor = %d, want 404", rec.Code)
	}

	sensor := &recordingSensor{}
	s.deps.Sensor = sensor

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/orientation/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, d := range []int{100, 300} {
		if err := conn.WriteJSON(map[string]int{"degrees": d}); err != nil {
			t.Fatalf("write: %v", err)
		}
		var reply map[string]interface{}
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read: %v", err)
		}
		if reply["accepted"] != true {
			t.Fatalf("reply = %v", reply)
		}
	}

	if err := conn.WriteJSON(map[string]string{"other": "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply map[string]interface{}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply["error"] == nil {
		t.Fatalf("expected error reply, got %v", reply)
	}

	sensor.mu.Lock()
	defer sensor.mu.Unlock()
	if len(sensor.readings) != 2 || sensor.readings[0] != 100 || sensor.readings[1] != 300 {
		t.Fatalf("readings = %v", sensor.readings)
	}
}
