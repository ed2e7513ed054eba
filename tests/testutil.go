package tests

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"presencedb/pkg/api"
	"presencedb/pkg/models"
	"presencedb/pkg/presence"
	"presencedb/pkg/store"
)

// newServer creates an httptest.Server bound to an IPv4 loopback listener.
// This returns a live server with srv.URL that can be used by http.Client.
func newServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen tcp4: %v", err)
	}
	srv := httptest.NewUnstartedServer(handler)
	srv.Listener = ln
	srv.Start()
	return srv
}

// newPresenceServer wires a fresh store, engine and API router the same
// way the app does and returns the live server.
func newPresenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	eng := presence.New(presence.Options{
		QueueCapacity:   128,
		PersistDebounce: 10 * time.Millisecond,
		Settings:        models.Settings{Enabled: true, SeeLast: true},
	})
	eng.Start()
	t.Cleanup(eng.Close)
	r := mux.NewRouter()
	api.NewServer(eng).Register(r)
	srv := newServer(t, r)
	t.Cleanup(srv.Close)
	return srv
}

func request(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp.StatusCode, out.Bytes()
}
