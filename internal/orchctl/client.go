package orchctl

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running orchd instance over its HTTP API.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient normalizes addr (":8090" or "host:8090" or full URL) into a base URL.
func NewClient(addr string) *Client {
	base := addr
	if strings.HasPrefix(base, ":") {
		base = "127.0.0.1" + base
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{base: strings.TrimRight(base, "/"), hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) postJSON(path string, body []byte) error {
	resp, err := c.hc.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (c *Client) getBody(path string) ([]byte, error) {
	resp, err := c.hc.Get(c.base + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	return io.ReadAll(resp.Body)
}

// SubmitPlan posts the plan JSON file at path to /v1/plan.
func (c *Client) SubmitPlan(path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.postJSON("/v1/plan", body)
}

// SubmitCorrection posts the correction JSON file at path to /v1/plan/correction.
func (c *Client) SubmitCorrection(path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.postJSON("/v1/plan/correction", body)
}

// ReportResult marks a task as succeeded or failed.
func (c *Client) ReportResult(id int, ok bool, reason string) error {
	body := []byte(`{"ok":` + strconv.FormatBool(ok) + `,"reason":` + strconv.Quote(reason) + `}`)
	return c.postJSON("/v1/tasks/"+strconv.Itoa(id)+"/result", body)
}

// Status fetches /status as raw JSON.
func (c *Client) Status() ([]byte, error) { return c.getBody("/status") }

// Models fetches /models as raw JSON.
func (c *Client) Models() ([]byte, error) { return c.getBody("/models") }

// Plan fetches the current task snapshot from /v1/plan.
func (c *Client) Plan() ([]byte, error) { return c.getBody("/v1/plan") }

// Events streams the SSE feed from /events to w until ctx is canceled
// or the server closes the connection.
func (c *Client) Events(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// No client timeout on a long-lived stream.
	hc := &http.Client{}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("/events: %s", resp.Status)
	}
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Fprintln(w, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
