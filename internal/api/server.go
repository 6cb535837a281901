package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/stillframe/internal/capture"
	"github.com/bryanchriswhite/stillframe/internal/config"
	"github.com/bryanchriswhite/stillframe/internal/frame"
	"github.com/bryanchriswhite/stillframe/internal/logger"
	"github.com/bryanchriswhite/stillframe/internal/preview"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Capturer is the part of capture.Capturer the API drives
type Capturer interface {
	RequestCapture() (*capture.Request, error)
	SaveLastFrame() (capture.Artifact, error)
	LastFrame() *frame.Frame
	Stats() capture.Stats
}

// Orientation reports the tracked device orientation
type Orientation interface {
	Value() int
	Enabled() bool
}

// Sensor accepts raw orientation readings pushed by a client
type Sensor interface {
	Push(degrees int) bool
}

// Deps are the components served by the API. Only Capturer is required.
type Deps struct {
	Capturer    Capturer
	Orientation Orientation
	Sensor      Sensor
	Preview     *preview.MJPEG
	Config      *config.Manager
}

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	deps       Deps
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Capture
	api.HandleFunc("/capture", s.handleCapture).Methods("POST")
	api.HandleFunc("/capture/last", s.handleCaptureLast).Methods("POST")
	api.HandleFunc("/frame/latest", s.handleLatestFrame).Methods("GET")

	// Orientation
	api.HandleFunc("/orientation", s.handleGetOrientation).Methods("GET")
	api.HandleFunc("/orientation/stream", s.handleOrientationStream)

	// Status
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.deps.Preview != nil {
		s.router.HandleFunc("/stream", s.deps.Preview.Handler()).Methods("GET")
		s.router.HandleFunc("/stream/stats", s.deps.Preview.StatsHandler()).Methods("GET")
	}
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("addr", "http://localhost"+addr).
		Msg("Starting server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusFor maps capture errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrAlreadyCapturing):
		return http.StatusConflict
	case errors.Is(err, capture.ErrNoFrameAvailable):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrCaptureTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, capture.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// writeArtifact answers with the artifact metadata, or the file itself for ?format=jpeg
func writeArtifact(w http.ResponseWriter, r *http.Request, artifact capture.Artifact) {
	if r.URL.Query().Get("format") == "jpeg" {
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, artifact.Path)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

// HTTP Handlers

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	req, err := s.deps.Capturer.RequestCapture()
	if err != nil {
		writeError(w, err)
		return
	}

	artifact, err := req.Wait(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			// the request stays armed and is fulfilled by the next frame
			log.Debug().Msg("Client went away before capture completed")
			return
		}
		writeError(w, err)
		return
	}

	writeArtifact(w, r, artifact)
}

func (s *Server) handleCaptureLast(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.deps.Capturer.SaveLastFrame()
	if err != nil {
		writeError(w, err)
		return
	}
	writeArtifact(w, r, artifact)
}

func (s *Server) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	width := 0
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid width", http.StatusBadRequest)
			return
		}
		width = n
	}

	f := s.deps.Capturer.LastFrame()
	if f == nil {
		writeError(w, capture.ErrNoFrameAvailable)
		return
	}
	data, err := preview.Render(f, preview.RenderOptions{Width: width, Quality: 85})
	f.Release()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

type orientationStatus struct {
	Value   int  `json:"value"`
	Enabled bool `json:"enabled"`
}

func (s *Server) orientation() orientationStatus {
	if s.deps.Orientation == nil {
		return orientationStatus{}
	}
	return orientationStatus{
		Value:   s.deps.Orientation.Value(),
		Enabled: s.deps.Orientation.Enabled(),
	}
}

func (s *Server) handleGetOrientation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orientation())
}

// handleOrientationStream accepts raw sensor readings as {"degrees": n} messages
func (s *Server) handleOrientationStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sensor == nil {
		http.Error(w, "orientation input disabled", http.StatusNotFound)
		return
	}

	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	for {
		var msg struct {
			Degrees *int `json:"degrees"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Orientation stream closed")
			}
			return
		}

		reply := map[string]interface{}{}
		if msg.Degrees == nil {
			reply["error"] = "missing degrees"
		} else {
			reply["accepted"] = s.deps.Sensor.Push(*msg.Degrees)
		}
		if err := conn.WriteJSON(reply); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"capture":     s.deps.Capturer.Stats(),
		"orientation": s.orientation(),
	}
	if s.deps.Preview != nil {
		status["preview"] = s.deps.Preview.Stats()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}
