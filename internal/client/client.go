// Package client calls the outagesync HTTP API on behalf of the sync worker.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sta-electricity/outagesync/internal/api"
)

// TransportError is a failure to reach the API or read its response.
// These are the only errors worth retrying.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a response the API produced but that reports failure,
// either a non-2xx status or success=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is a transport failure.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.Mutex
	username string
	password string
	token    string
}

// New creates a client for the API rooted at baseURL, e.g. http://host:5000/api.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithCredentials enables login and bearer authentication.
func (c *Client) WithCredentials(username, password string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.password = password
	return c
}

// Login obtains a token. The auth routes live beside /api, not under it.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	req := api.LoginRequest{Username: c.username, Password: c.password}
	c.mu.Unlock()
	if req.Username == "" {
		return errors.New("no credentials configured")
	}

	var resp api.LoginResponse
	if _, err := c.do(ctx, http.MethodPost, c.rootURL()+"/auth/login", req, &resp, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// TriggerSync calls POST /api/sync?source=.
func (c *Client) TriggerSync(ctx context.Context, source string) (*api.SyncResponse, error) {
	var resp api.SyncResponse
	status, err := c.doAuthed(ctx, http.MethodPost, c.baseURL+"/sync?source="+url.QueryEscape(source), nil, &resp)
	if err != nil {
		return &resp, err
	}
	if !resp.Success {
		return &resp, &APIError{StatusCode: status, Message: resp.Error}
	}
	return &resp, nil
}

// GenerateIncidents calls POST /api/testdata/{kind}-incidents.
func (c *Client) GenerateIncidents(ctx context.Context, kind string, req api.TestDataRequest) (*api.TestDataResponse, error) {
	var resp api.TestDataResponse
	status, err := c.doAuthed(ctx, http.MethodPost, c.baseURL+"/testdata/"+url.PathEscape(kind)+"-incidents", req, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, &APIError{StatusCode: status, Message: resp.Message}
	}
	return &resp, nil
}

// doAuthed retries once after a fresh login when the token was rejected.
func (c *Client) doAuthed(ctx context.Context, method, target string, body, out interface{}) (int, error) {
	status, err := c.do(ctx, method, target, body, out, true)
	if status != http.StatusUnauthorized || !c.hasCredentials() {
		return status, err
	}
	if err := c.Login(ctx); err != nil {
		return status, err
	}
	return c.do(ctx, method, target, body, out, true)
}

func (c *Client) do(ctx context.Context, method, target string, body, out interface{}, authed bool) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if token := c.currentToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &TransportError{Op: method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, api.MaxBodySize))
	if err != nil {
		return resp.StatusCode, &TransportError{Op: "read " + req.URL.Path, Err: err}
	}

	// Sync failures carry a full SyncResponse body, so decode before checking status.
	decodeErr := json.Unmarshal(data, out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if decodeErr != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", req.URL.Path, decodeErr)
	}
	return resp.StatusCode, nil
}

func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func (c *Client) rootURL() string {
	if root, ok := strings.CutSuffix(c.baseURL, "/api"); ok {
		return root
	}
	return c.baseURL
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) hasCredentials() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username != ""
}
