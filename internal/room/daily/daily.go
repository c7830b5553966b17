// Package daily implements room.Provisioner against the Daily REST API.
//
// Rooms are created with POST /rooms and credentials with
// POST /meeting-tokens, both authenticated with a bearer API key. Transient
// failures (transport errors, 429 and 5xx responses) are retried with
// backoff; persistent failure opens a circuit breaker so a Daily outage fails
// start requests fast instead of stacking retries.
package daily

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

	"github.com/MrWong99/talkinghead/internal/resilience"
	"github.com/MrWong99/talkinghead/internal/room"
)

// DefaultAPIURL is the public Daily REST endpoint.
const DefaultAPIURL = "https://api.daily.co/v1"

const maxErrorBody = 4 << 10

// APIError is a non-2xx response from Daily.
type APIError struct {
	StatusCode int
	Type       string
	Info       string
}

func (e *APIError) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("daily: %d %s: %s", e.StatusCode, e.Type, e.Info)
	}
	return fmt.Sprintf("daily: unexpected status %d", e.StatusCode)
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option is a functional option for configuring the Daily Client.
type Option func(*Client)

// WithAPIURL overrides the REST endpoint (DAILY_API_URL).
func WithAPIURL(u string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithCircuitBreaker sets the breaker guarding every request.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithOwnerTokens controls whether issued tokens carry owner privileges.
// Default: true.
func WithOwnerTokens(owner bool) Option {
	return func(c *Client) {
		c.owner = owner
	}
}

// Client is a Daily REST client. It is safe for concurrent use.
type Client struct {
	apiKey  string
	apiURL  string
	http    *http.Client
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	owner   bool
	now     func() time.Time
}

var _ room.Provisioner = (*Client)(nil)

// New creates a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("daily: apiKey must not be empty")
	}
	c := &Client{
		apiKey: apiKey,
		apiURL: DefaultAPIURL,
		http:   &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.RetryPolicy{MaxRetries: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		owner:  true,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "daily"})
	}
	return c, nil
}

type roomProperties struct {
	Exp int64 `json:"exp,omitempty"`
}

type createRoomRequest struct {
	Name       string         `json:"name,omitempty"`
	Privacy    string         `json:"privacy"`
	Properties roomProperties `json:"properties"`
}

type roomResponse struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Config struct {
		Exp int64 `json:"exp"`
	} `json:"config"`
}

type tokenProperties struct {
	RoomName string `json:"room_name"`
	Exp      int64  `json:"exp,omitempty"`
	IsOwner  bool   `json:"is_owner"`
}

type tokenRequest struct {
	Properties tokenProperties `json:"properties"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
	Info  string `json:"info"`
}

// CreateRoom implements room.Provisioner.
func (c *Client) CreateRoom(ctx context.Context, p room.Params) (room.Room, error) {
	req := createRoomRequest{Name: p.Name, Privacy: "public"}
	if p.TTL > 0 {
		req.Properties.Exp = c.now().Add(p.TTL).Unix()
	}
	var resp roomResponse
	if err := c.do(ctx, http.MethodPost, "/rooms", req, &resp); err != nil {
		return room.Room{}, fmt.Errorf("daily: create room: %w", err)
	}
	if resp.URL == "" {
		return room.Room{}, errors.New("daily: create room: response has no url")
	}
	r := room.Room{Name: resp.Name, URL: resp.URL}
	if resp.Config.Exp > 0 {
		r.Expires = time.Unix(resp.Config.Exp, 0)
	}
	if r.Name == "" {
		r.Name = NameFromURL(r.URL)
	}
	return r, nil
}

// GetToken implements room.Provisioner.
func (c *Client) GetToken(ctx context.Context, r room.Room, ttl time.Duration) (string, error) {
	name := r.Name
	if name == "" {
		name = NameFromURL(r.URL)
	}
	if name == "" {
		return "", fmt.Errorf("daily: get token: no room name in %q", r.URL)
	}
	req := tokenRequest{Properties: tokenProperties{RoomName: name, IsOwner: c.owner}}
	if ttl > 0 {
		req.Properties.Exp = c.now().Add(ttl).Unix()
	}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/meeting-tokens", req, &resp); err != nil {
		return "", fmt.Errorf("daily: get token for %s: %w", r.URL, err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("daily: get token for %s: empty token", r.URL)
	}
	return resp.Token, nil
}

// Ping checks that the API is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/", nil, nil); err != nil {
		return fmt.Errorf("daily: ping: %w", err)
	}
	return nil
}

// NameFromURL returns the last path segment of a room URL.
func NameFromURL(u string) string {
	u = strings.TrimSuffix(u, "/")
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		u = u[i+1:]
	}
	if strings.Contains(u, ":") {
		return ""
	}
	return u
}

// do sends one JSON request through the breaker and retry policy.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		payload = b
	}
	return c.breaker.Execute(func() error {
		return c.retry.Do(ctx, func(ctx context.Context) error {
			return c.attempt(ctx, method, path, payload, out)
		})
	})
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return resilience.Retryable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e errorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&e) == nil {
			apiErr.Type, apiErr.Info = e.Error, e.Info
		}
		if apiErr.Temporary() {
			return resilience.Retryable(apiErr)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
