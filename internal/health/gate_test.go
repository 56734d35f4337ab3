package health

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// splitHostPort extracts host and port from an httptest server URL.
func splitHostPort(t *testing.T, raw string) (string, int) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return u.Hostname(), port
}

func TestWaitUntilReady_FiresOnceWhenHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.URL)

	g := New(Config{Host: host, Interval: 10 * time.Millisecond})
	ready := make(chan struct{}, 4)
	g.WaitUntilReady(port, func() { ready <- struct{}{} }, func(error) { t.Error("timeout must not fire") })

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("never became ready")
	}
	// Poller returns after the first success; no duplicate callbacks.
	select {
	case <-ready:
		t.Fatal("onReady fired more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWaitUntilReady_AcceptsOKBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("status: OK"))
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.URL)

	g := New(Config{Host: host, Interval: 10 * time.Millisecond})
	ready := make(chan struct{}, 1)
	g.WaitUntilReady(port, func() { ready <- struct{}{} }, nil)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("an ok body should count as ready")
	}
}

func TestWaitUntilReady_PollsUntilReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("loading"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.URL)

	g := New(Config{Host: host, Interval: 10 * time.Millisecond})
	ready := make(chan struct{}, 1)
	g.WaitUntilReady(port, func() { ready <- struct{}{} }, nil)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("never became ready")
	}
	if hits.Load() < 3 {
		t.Fatalf("expected at least 3 probes, got %d", hits.Load())
	}
}

func TestWaitUntilReady_TimeoutFiresExactlyOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	}))
	defer srv.Close()
	host, port := splitHostPort(t, srv.URL)

	g := New(Config{Host: host, Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond})
	ready := make(chan struct{}, 1)
	timedOut := make(chan error, 1)
	g.WaitUntilReady(port, func() { ready <- struct{}{} }, func(err error) { timedOut <- err })

	select {
	case err := <-timedOut:
		if err == nil {
			t.Fatal("timeout error should be non-nil")
		}
	case <-ready:
		t.Fatal("onReady must not fire when the backend never becomes healthy")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestWatchStop_SuppressesCallbacks(t *testing.T) {
	// No server listening on the probed port; probes fail until stopped.
	g := New(Config{Host: "127.0.0.1", Interval: 10 * time.Millisecond})
	fired := make(chan struct{}, 1)
	w := g.WaitUntilReady(1, func() { fired <- struct{}{} }, func(error) { fired <- struct{}{} })
	w.Stop()
	w.Stop() // idempotent

	select {
	case <-fired:
		t.Fatal("stopped watch must not fire callbacks")
	case <-time.After(100 * time.Millisecond):
	}
}
