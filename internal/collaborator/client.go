// Package collaborator talks to the chat, profile and recommendation backend over HTTP.
package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"admission-gateway/internal/service"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: backend returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// CallerFault reports whether the backend rejected the request itself. A 4xx other
// than 429 says nothing about the backend's health.
func (e *StatusError) CallerFault() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// Client implements the gateway's collaborator interfaces against the backend API.
type Client struct {
	base   *url.URL
	http   *http.Client
	cache  *ResponseCache
	flight singleflight.Group
}

var (
	_ service.ChatCollaborator           = (*Client)(nil)
	_ service.ProfileCollaborator        = (*Client)(nil)
	_ service.RecommendationCollaborator = (*Client)(nil)
)

type Option func(*Client)

// WithCache serves recommendation reads from cache.
func WithCache(c *ResponseCache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithHTTPClient replaces the default client. Its transport is wrapped when a cache is set.
func WithHTTPClient(h *http.Client) Option {
	return func(cl *Client) { cl.http = h }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse downstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("downstream url %q must be absolute", baseURL)
	}

	c := &Client{base: u, http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache != nil {
		wrapped := *c.http
		wrapped.Transport = NewCachedRoundTripper(c.http.Transport, c.cache)
		c.http = &wrapped
	}
	return c, nil
}

func userPath(userID string, parts ...string) string {
	return "/users/" + url.PathEscape(userID) + "/" + strings.Join(parts, "/")
}

func (c *Client) Chat(ctx context.Context, userID string, req service.ChatRequest) (service.ChatResponse, error) {
	var resp service.ChatResponse
	err := c.do(ctx, http.MethodPost, userPath(userID, "chat"), req, &resp)
	return resp, err
}

func (c *Client) ClearHistory(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, userPath(userID, "chat", "history"), nil, nil)
}

// ExecuteAction adds a workout or meal to the plan, which makes cached
// recommendations for the user stale.
func (c *Client) ExecuteAction(ctx context.Context, userID string, action service.RecommendationAction) error {
	if err := c.do(ctx, http.MethodPost, userPath(userID, "actions"), action, nil); err != nil {
		return err
	}
	c.invalidate(userID)
	return nil
}

func (c *Client) GenerateProfile(ctx context.Context, userID string, req service.ProfileRequest) (service.ProfileResponse, error) {
	var resp service.ProfileResponse
	if err := c.do(ctx, http.MethodPost, userPath(userID, "profile"), req, &resp); err != nil {
		return resp, err
	}
	c.invalidate(userID)
	return resp, nil
}

func (c *Client) CachedMealRecommendations(ctx context.Context, userID string) (service.Recommendations, error) {
	return c.recommendations(ctx, userPath(userID, "recommendations", "meals"))
}

func (c *Client) CachedWorkoutRecommendations(ctx context.Context, userID string) (service.Recommendations, error) {
	return c.recommendations(ctx, userPath(userID, "recommendations", "workouts"))
}

// sharedReadTimeout bounds a collapsed recommendation read, which no single caller owns.
const sharedReadTimeout = 30 * time.Second

// recommendations collapses concurrent reads of the same document into one backend call.
// The shared call runs detached from every caller's context, so one caller giving up
// does not fail the others; each caller still stops waiting when its own context ends.
func (c *Client) recommendations(ctx context.Context, path string) (service.Recommendations, error) {
	ch := c.flight.DoChan(path, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		var doc json.RawMessage
		if err := c.do(fctx, http.MethodGet, path, nil, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	}
}

func (c *Client) invalidate(userID string) {
	if c.cache == nil {
		return
	}
	if n := c.cache.InvalidatePrefix(userPath(userID, "recommendations", "")); n > 0 {
		log.Debug().Str("user", userID).Int("entries", n).Msg("recommendation cache invalidated")
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
