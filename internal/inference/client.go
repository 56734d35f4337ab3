// Package inference sends single chat-completion requests to an active
// backend, absorbing the startup race right after a swap with a small number
// of retries on transient connection failure.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultTimeout    = 60 * time.Second
	defaultRetries    = 3
	defaultRetryDelay = 1500 * time.Millisecond
)

// Config tunes the client.
type Config struct {
	// Host of the backend servers, default 127.0.0.1.
	Host string
	// Timeout per request attempt; substantially longer than typical
	// inference latency.
	Timeout time.Duration
	// Retries is the total attempt count on transient connection failure.
	Retries int
	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration
	// Sampling parameters forwarded to the backend.
	Temperature float64
	MaxTokens   int
}

// Request is one inference call, correlated by task id.
type Request struct {
	TaskID string
	Role   string
	Prompt string
	Model  string
	Port   int
}

// Result carries the generated text back with its correlation identity.
type Result struct {
	TaskID  string
	Role    string
	Model   string
	Content string
}

// RequestError is a structured inference failure identifying the task and
// role so the caller can decide whether to escalate.
type RequestError struct {
	TaskID string
	Role   string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("inference failed for task %s (role %s): %v", e.TaskID, e.Role, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsRequestError reports whether err is an inference RequestError.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// Client sends structured requests to backend chat-completion endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New constructs a Client with defaults applied.
func New(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	// Timeout=0 on the http.Client: every attempt carries its own context
	// deadline.
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: 0}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Send posts req to the backend on req.Port and returns the primary
// generated text. Transient connection failures are retried up to the
// configured count with a fixed delay; all other failures surface
// immediately as a RequestError.
func (c *Client) Send(ctx context.Context, req Request) (Result, error) {
	payload := chatCompletionRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are the " + req.Role + " agent."},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, &RequestError{TaskID: req.TaskID, Role: req.Role, Err: err}
	}
	url := fmt.Sprintf("http://%s:%d/v1/chat/completions", c.cfg.Host, req.Port)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		content, err := c.post(ctx, url, body)
		if err == nil {
			return Result{TaskID: req.TaskID, Role: req.Role, Model: req.Model, Content: content}, nil
		}
		lastErr = err
		if !isTransient(err) || attempt == c.cfg.Retries {
			break
		}
		log.Printf("inference event=retry task=%s role=%s attempt=%d err=%v", req.TaskID, req.Role, attempt, err)
		retriesTotal.Inc()
		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-ctx.Done():
			return Result{}, &RequestError{TaskID: req.TaskID, Role: req.Role, Err: ctx.Err()}
		}
	}
	return Result{}, &RequestError{TaskID: req.TaskID, Role: req.Role, Err: lastErr}
}

func (c *Client) post(ctx context.Context, url string, body []byte) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("backend http error: %s: %s", resp.Status, string(b))
	}
	var cr chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("response contained no choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// isTransient reports whether err looks like the connection race right after
// a backend starts: refused, reset, or closed mid-flight.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
