// Package api is the client for the chat REST endpoints: rooms, history,
// room creation, media upload, user search, online users and membership.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orchestra-mcp/chatsync/config"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Error is a non-2xx response from the chat API.
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("api: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsStatus reports whether err is an *Error with the given status code.
func IsStatus(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == code
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying fasthttp client.
func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client calls the chat REST API with the session's bearer token.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client
	logger  zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a Client for cfg.APIURL.
func New(cfg *config.ChatConfig, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		timeout: cfg.RequestTimeout,
		http:    &fasthttp.Client{Name: "chatsync"},
		logger:  logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// request describes one API call.
type request struct {
	method      string
	path        string
	query       url.Values
	contentType string
	body        []byte
}

// do performs r and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, r request, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.baseURL + r.path
	if len(r.query) > 0 {
		uri += "?" + r.query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(r.method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if token := c.bearer(); token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	if r.body != nil {
		req.Header.SetContentType(r.contentType)
		req.SetBodyRaw(r.body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		c.logger.Warn().Err(err).Str("method", r.method).Str("path", r.path).Msg("request failed")
		return fmt.Errorf("api: %s %s: %w", r.method, r.path, err)
	}

	status := resp.StatusCode()
	c.logger.Debug().
		Str("method", r.method).
		Str("path", r.path).
		Int("status", status).
		Dur("took", time.Since(start)).
		Msg("request done")

	if status < 200 || status >= 300 {
		return &Error{StatusCode: status, Method: r.method, Path: r.path, Message: errorMessage(resp.Body())}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("api: %s %s: decode response: %w", r.method, r.path, err)
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func jsonRequest(method, path string, v any) (request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return request{}, fmt.Errorf("api: encode %s body: %w", path, err)
	}
	return request{method: method, path: path, contentType: "application/json", body: body}, nil
}

func pageQuery(page, size int) url.Values {
	return url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
}
