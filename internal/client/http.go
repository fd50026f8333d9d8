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
	"strconv"
	"strings"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/model"
)

// HTTPClient talks to the homewatch HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8000"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// SetToken replaces the bearer token used for later requests.
func (c *HTTPClient) SetToken(token string) { c.token = token }

// Login exchanges credentials for a token. The client keeps using its
// current token; call SetToken to switch.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (*api.LoginResponse, error) {
	var resp api.LoginResponse
	req := api.LoginRequest{Username: username, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the username the token belongs to.
func (c *HTTPClient) Me(ctx context.Context) (string, error) {
	var resp api.MeResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, &resp); err != nil {
		return "", err
	}
	return resp.Username, nil
}

func (c *HTTPClient) ListEvents(ctx context.Context, f model.EventFilter) ([]*model.MotionEvent, error) {
	q := url.Values{}
	if f.Source != "" {
		q.Set("source", f.Source)
	}
	if f.Severity != "" {
		q.Set("severity", string(f.Severity))
	}
	if f.Zone != "" {
		q.Set("zone", f.Zone)
	}
	if f.SinceID > 0 {
		q.Set("since_id", strconv.FormatInt(f.SinceID, 10))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	path := "/api/motion-events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.EventsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *HTTPClient) Simulate(ctx context.Context, req api.SimulateRequest) (*model.MotionEvent, error) {
	var ev model.MotionEvent
	if err := c.doJSON(ctx, http.MethodPost, "/api/motion-events/simulate", req, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// StreamEvents follows the WebSocket feed.
func (c *HTTPClient) StreamEvents(ctx context.Context, sinceID int64, fn func(*model.MotionEvent) error) error {
	s, err := DialStream(ctx, c.baseURL, c.token, sinceID)
	if err != nil {
		return err
	}
	defer s.Close()

	// Unblock Next when ctx ends.
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		ev, err := s.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// apiError builds an APIError from an error response body, preferring the
// server's {"error": ...} message.
func apiError(code int, body []byte) *APIError {
	var errResp api.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: code, Message: errResp.Error}
	}
	return &APIError{StatusCode: code, Message: strings.TrimSpace(string(body))}
}
