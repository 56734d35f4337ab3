// Package health defers work until a backend reports readiness.
package health

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config tunes the polling behavior.
type Config struct {
	// Host of the probed backend, default 127.0.0.1.
	Host string
	// Interval between probes, default 3s.
	Interval time.Duration
	// Timeout bounds the whole wait; 0 polls forever.
	Timeout time.Duration
}

// Gate polls a readiness endpoint until it reports ready.
type Gate struct {
	cfg    Config
	client *http.Client
}

// New constructs a Gate with defaults applied.
func New(cfg Config) *Gate {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	// Per-probe timeout only; the overall wait is bounded by cfg.Timeout.
	return &Gate{cfg: cfg, client: &http.Client{Timeout: 2 * time.Second}}
}

// Watch is a single in-flight readiness wait. Stop cancels it; the
// continuation will not fire after Stop returns the first time it is safe.
type Watch struct {
	cancel context.CancelFunc
	fired  sync.Once
}

// Stop cancels polling. Safe to call more than once.
func (w *Watch) Stop() { w.cancel() }

// WaitUntilReady probes GET /health on port every interval until it reports
// ready, then invokes onReady exactly once. If the configured timeout
// elapses first, onTimeout fires instead; at most one of the two callbacks
// ever runs, even if duplicate probe responses race the timeout.
func (g *Gate) WaitUntilReady(port int, onReady func(), onTimeout func(error)) *Watch {
	ctx := context.Background()
	var cancel context.CancelFunc
	if g.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	w := &Watch{cancel: cancel}

	go func() {
		defer cancel()
		url := fmt.Sprintf("http://%s:%d/health", g.cfg.Host, port)
		ticker := time.NewTicker(g.cfg.Interval)
		defer ticker.Stop()
		for {
			if g.probe(ctx, url) {
				w.fired.Do(func() {
					log.Printf("health event=ready port=%d", port)
					onReady()
				})
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded && onTimeout != nil {
					w.fired.Do(func() {
						log.Printf("health event=timeout port=%d", port)
						onTimeout(fmt.Errorf("backend on port %d not ready after %s", port, g.cfg.Timeout))
					})
				}
				return
			}
		}
	}()
	return w
}

// probe returns true when the endpoint answers 200 or a body containing "ok".
func (g *Gate) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return true
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return strings.Contains(strings.ToLower(string(body)), "ok")
}
