// Package client calls the fruitlog HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"fruitlog/pkg/storage"
)

const (
	DefaultTimeout    = 15 * time.Second
	DefaultRetries    = 2
	DefaultRetryDelay = 4 * time.Second
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewLog is the body sent to create a log. Empty optional fields are left
// out so the server applies its defaults.
type NewLog struct {
	Date       string `json:"date"`
	Fruit      string `json:"fruit"`
	Origin     string `json:"origin,omitempty"`
	Rating     int    `json:"rating"`
	Store      string `json:"store,omitempty"`
	UserRegion string `json:"userRegion,omitempty"`
}

type Client struct {
	baseURL    string
	hc         *http.Client
	retries    int
	retryDelay time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithRetries sets how many extra attempts Logs makes while the server is
// unreachable or answering 5xx.
func WithRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.retryDelay = delay
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		hc:         &http.Client{Timeout: DefaultTimeout},
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Logs fetches every log, newest date first. Hosted instances sleep when
// idle, so failed attempts are retried.
func (c *Client) Logs(ctx context.Context) ([]storage.Log, error) {
	var (
		logs []storage.Log
		err  error
	)
	for attempt := 0; ; attempt++ {
		err = c.do(ctx, http.MethodGet, "/api/logs", nil, http.StatusOK, &logs)
		if err == nil || !retryable(err) || attempt >= c.retries {
			break
		}
		log.Infof("[client] server not ready (attempt %d/%d): %v", attempt+1, c.retries+1, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) AddLog(ctx context.Context, l NewLog) (storage.Log, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return storage.Log{}, err
	}

	var created storage.Log
	err = c.do(ctx, http.MethodPost, "/api/logs", bytes.NewReader(b), http.StatusCreated, &created)
	return created, err
}

func (c *Client) DeleteLog(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/logs/%d", id), nil, http.StatusOK, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, wantStatus int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

// DefaultTopPicks is how many logs the web client shows as top picks.
const DefaultTopPicks = 3

// TopPicks returns the n most recent logs, newest first, as the web client
// shows them. logs is left untouched.
func TopPicks(logs []storage.Log, n int) []storage.Log {
	picks := make([]storage.Log, len(logs))
	copy(picks, logs)
	storage.SortLogs(picks)

	if n >= 0 && len(picks) > n {
		picks = picks[:n]
	}
	return picks
}
