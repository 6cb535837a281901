package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/stillframe/internal/logger"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
)

// ScreenCast SelectSources option values
const (
	sourceTypeMonitor   = 1 << 0
	cursorModeEmbedded  = 1 << 1
	persistModeSession  = 2
	portalDialogTimeout = 60 * time.Second
	portalCallTimeout   = 30 * time.Second
)

// Portal captures a Wayland screen through xdg-desktop-portal. The portal
// hands out a PipeWire node which is then read by a GStreamer subprocess.
type Portal struct {
	width    int
	height   int
	rotation int

	mu            sync.Mutex
	conn          *dbus.Conn
	sessionHandle dbus.ObjectPath
	stream        *GStreamer
	tokenPath     string
}

// NewPortal creates a screencast source. The D-Bus session is opened on Start.
func NewPortal(width, height, rotation int) *Portal {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}
	return &Portal{
		width:     width,
		height:    height,
		rotation:  rotation,
		tokenPath: filepath.Join(configDir, "stillframe", "portal_token"),
	}
}

// Name returns the source name
func (p *Portal) Name() string {
	return "Screencast portal"
}

// Start negotiates a screencast session and starts reading frames from it.
// The desktop may show a permission dialog the first time.
func (p *Portal) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return fmt.Errorf("portal source already running")
	}

	log := logger.WithComponent("portal")

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	p.conn = conn

	nodeID, err := p.negotiate()
	if err != nil {
		p.closeSession()
		return err
	}
	log.Info().Uint32("node_id", nodeID).Msg("Screen sharing started")

	stream := NewGStreamer(fmt.Sprintf("pipewiresrc path=%d do-timestamp=true", nodeID), p.width, p.height, p.rotation)
	if err := stream.Start(ctx, sink); err != nil {
		p.closeSession()
		return err
	}
	p.stream = stream
	return nil
}

// Stop ends the pipeline and closes the portal session
func (p *Portal) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	err := p.stream.Stop()
	p.stream = nil
	p.closeSession()
	return err
}

func (p *Portal) closeSession() {
	if p.conn == nil {
		return
	}
	if p.sessionHandle != "" {
		p.conn.Object(portalService, p.sessionHandle).Call("org.freedesktop.portal.Session.Close", 0)
		p.sessionHandle = ""
	}
	p.conn.Close()
	p.conn = nil
}

// negotiate runs CreateSession, SelectSources and Start and returns the PipeWire node
func (p *Portal) negotiate() (uint32, error) {
	pid := os.Getpid()

	results, err := p.request("CreateSession", portalCallTimeout, map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(fmt.Sprintf("stillframe%d", pid)),
		"session_handle_token": dbus.MakeVariant(fmt.Sprintf("session%d", pid)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	session, err := sessionHandle(results)
	if err != nil {
		return 0, err
	}
	p.sessionHandle = session

	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(fmt.Sprintf("select%d", pid)),
		"types":        dbus.MakeVariant(uint32(sourceTypeMonitor)),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(cursorModeEmbedded)),
		"persist_mode": dbus.MakeVariant(uint32(persistModeSession)),
	}
	if token := loadRestoreToken(p.tokenPath); token != "" {
		options["restore_token"] = dbus.MakeVariant(token)
	}
	if _, err := p.request("SelectSources", portalDialogTimeout, options, session); err != nil {
		return 0, fmt.Errorf("failed to select sources: %w", err)
	}

	results, err = p.request("Start", portalCallTimeout, map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(fmt.Sprintf("start%d", pid)),
	}, session, "")
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}

	if v, ok := results["restore_token"]; ok {
		if token, ok := v.Value().(string); ok {
			saveRestoreToken(p.tokenPath, token)
		}
	}

	streams, ok := results["streams"]
	if !ok {
		return 0, fmt.Errorf("no streams in response")
	}
	return parseNodeID(streams.Value())
}

// request calls a ScreenCast method and waits for the matching Request.Response signal
func (p *Portal) request(method string, timeout time.Duration, options map[string]dbus.Variant, args ...interface{}) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Response'", requestIface)
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}

	// subscribe before the call so the response cannot be missed
	signals := make(chan *dbus.Signal, 10)
	p.conn.Signal(signals)
	defer p.conn.RemoveSignal(signals)

	var requestPath dbus.ObjectPath
	callArgs := append(args, options)
	if err := p.conn.Object(portalService, portalPath).Call(screenCastIface+"."+method, 0, callArgs...).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	log.Info().Str("request_path", string(requestPath)).Msgf("Waiting for %s response", method)
	return awaitResponse(signals, requestPath, timeout)
}

// awaitResponse waits for the Response signal of requestPath
func awaitResponse(signals <-chan *dbus.Signal, requestPath dbus.ObjectPath, timeout time.Duration) (map[string]dbus.Variant, error) {
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for portal response")
		case sig := <-signals:
			if sig == nil || sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			if len(sig.Body) < 1 {
				return nil, fmt.Errorf("invalid response")
			}
			code, ok := sig.Body[0].(uint32)
			if !ok {
				return nil, fmt.Errorf("invalid response code %T", sig.Body[0])
			}
			if code != 0 {
				return nil, fmt.Errorf("portal request denied (code %d)", code)
			}
			results := map[string]dbus.Variant{}
			if len(sig.Body) > 1 {
				if m, ok := sig.Body[1].(map[string]dbus.Variant); ok {
					results = m
				}
			}
			return results, nil
		}
	}
}

func sessionHandle(results map[string]dbus.Variant) (dbus.ObjectPath, error) {
	v, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("no session handle in response")
	}
	switch h := v.Value().(type) {
	case dbus.ObjectPath:
		return h, nil
	case string:
		return dbus.ObjectPath(h), nil
	}
	return "", fmt.Errorf("unexpected session_handle type: %T", v.Value())
}

// parseNodeID extracts the first node of a(ua{sv}) streams
func parseNodeID(streams interface{}) (uint32, error) {
	switch v := streams.(type) {
	case [][]interface{}:
		if len(v) > 0 && len(v[0]) > 0 {
			if nodeID, ok := v[0][0].(uint32); ok {
				return nodeID, nil
			}
		}
	case []interface{}:
		if len(v) > 0 {
			if stream, ok := v[0].([]interface{}); ok && len(stream) > 0 {
				if nodeID, ok := stream[0].(uint32); ok {
					return nodeID, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("unknown streams format %T", streams)
}

type restoreToken struct {
	Token string `json:"token"`
}

func loadRestoreToken(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var token restoreToken
	if err := json.Unmarshal(data, &token); err != nil {
		return ""
	}
	return token.Token
}

func saveRestoreToken(path, token string) {
	if token == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	data, err := json.Marshal(restoreToken{Token: token})
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		logger.WithComponent("portal").Debug().Err(err).Msg("Failed to save restore token")
	}
}
