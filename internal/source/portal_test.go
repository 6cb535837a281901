package source

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		name    string
		streams interface{}
		want    uint32
		wantErr bool
	}{
		{"nested slices", [][]interface{}{{uint32(42), map[string]dbus.Variant{}}}, 42, false},
		{"struct slice", []interface{}{[]interface{}{uint32(7)}}, 7, false},
		{"empty", [][]interface{}{}, 0, true},
		{"wrong type", "node", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNodeID(tt.streams)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got node %d", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("parseNodeID() = %d, %v; want %d", got, err, tt.want)
			}
		})
	}
}

func TestSessionHandle(t *testing.T) {
	got, err := sessionHandle(map[string]dbus.Variant{
		"session_handle": dbus.MakeVariant("/org/freedesktop/portal/desktop/session/1_1/s"),
	})
	if err != nil || got != "/org/freedesktop/portal/desktop/session/1_1/s" {
		t.Fatalf("sessionHandle() = %q, %v", got, err)
	}

	if _, err := sessionHandle(map[string]dbus.Variant{}); err == nil {
		t.Fatalf("expected error for missing handle")
	}
}

func TestAwaitResponse(t *testing.T) {
	const path = dbus.ObjectPath("/org/freedesktop/portal/desktop/request/1_1/t")
	signals := make(chan *dbus.Signal, 4)

	// unrelated signals are skipped
	signals <- &dbus.Signal{Path: "/other", Name: requestIface + ".Response", Body: []interface{}{uint32(0)}}
	signals <- &dbus.Signal{Path: path, Name: "org.example.Other"}
	signals <- &dbus.Signal{Path: path, Name: requestIface + ".Response", Body: []interface{}{
		uint32(0),
		map[string]dbus.Variant{"restore_token": dbus.MakeVariant("abc")},
	}}

	results, err := awaitResponse(signals, path, time.Second)
	if err != nil {
		t.Fatalf("awaitResponse() failed: %v", err)
	}
	if results["restore_token"].Value() != "abc" {
		t.Fatalf("results = %v", results)
	}
}

func TestAwaitResponseDenied(t *testing.T) {
	const path = dbus.ObjectPath("/req")
	signals := make(chan *dbus.Signal, 1)
	signals <- &dbus.Signal{Path: path, Name: requestIface + ".Response", Body: []interface{}{uint32(1)}}

	_, err := awaitResponse(signals, path, time.Second)
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected denied error, got %v", err)
	}
}

func TestAwaitResponseTimeout(t *testing.T) {
	if _, err := awaitResponse(make(chan *dbus.Signal), "/req", 10*time.Millisecond); err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestRestoreTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "portal_token")

	if got := loadRestoreToken(path); got != "" {
		t.Fatalf("token before save = %q", got)
	}
	saveRestoreToken(path, "token-1")
	if got := loadRestoreToken(path); got != "token-1" {
		t.Fatalf("token after save = %q", got)
	}
}
