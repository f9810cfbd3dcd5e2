package matchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-match-client/internal/obslog"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// HeaderProvider는 요청마다 인증/식별 헤더를 주입한다.
type HeaderProvider func() map[string]string

// Client talks to the match REST API.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	log     *zap.Logger

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
			c.http.ReadTimeout = d
			c.http.WriteTimeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDialer replaces the TCP dialer (in-memory listeners in tests).
func WithDialer(d fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		log:            obslog.L(),
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateMatch joins an open match of the given type or creates a new one.
func (c *Client) CreateMatch(ctx context.Context, kind matchdto.GameType) (*matchdto.Match, error) {
	path := "/matches/create"
	if kind == matchdto.GameRapid {
		path = "/matches/create-rapid"
	}
	var m matchdto.Match
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, nil, &m, false); err != nil {
		return nil, err
	}
	if m.GameType == "" {
		m.GameType = kind
	}
	return &m, nil
}

func (c *Client) GetMatch(ctx context.Context, id matchdto.MatchID) (*matchdto.Match, error) {
	var m matchdto.Match
	if err := c.doJSON(ctx, fasthttp.MethodGet, matchPath(id, ""), nil, &m, true); err != nil {
		return nil, err
	}
	return &m, nil
}

// CancelMatch withdraws a match shell that has no opponent yet.
func (c *Client) CancelMatch(ctx context.Context, id matchdto.MatchID) error {
	return c.doJSON(ctx, fasthttp.MethodPost, matchPath(id, "/cancel"), nil, nil, false)
}

// Moves returns the ordered ply history of a match.
func (c *Client) Moves(ctx context.Context, id matchdto.MatchID) ([]matchdto.HistoryMove, error) {
	var out []matchdto.HistoryMove
	if err := c.doJSON(ctx, fasthttp.MethodGet, matchPath(id, "/moves"), nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ChatHistory(ctx context.Context, id matchdto.MatchID) ([]matchdto.ChatMessage, error) {
	var out []matchdto.ChatMessage
	if err := c.doJSON(ctx, fasthttp.MethodGet, matchPath(id, "/chat"), nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MyMatches(ctx context.Context) ([]matchdto.Match, error) {
	var out []matchdto.Match
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/matches/my", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Me(ctx context.Context) (*matchdto.User, error) {
	var u matchdto.User
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/users/me", nil, &u, true); err != nil {
		return nil, err
	}
	return &u, nil
}

func matchPath(id matchdto.MatchID, suffix string) string {
	return "/matches/" + url.PathEscape(id.String()) + suffix
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("%s %s: %w", method, path, err)
			if attempt == attempts {
				return lastErr
			}
			c.log.Debug("match_api_retry", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			herr := &HTTPError{Method: method, Path: path, Status: status, Body: truncate(string(resp.Body()), 512)}
			if attempt == attempts || !shouldRetryStatus(status) {
				return herr
			}
			lastErr = herr
			c.log.Debug("match_api_retry", zap.String("path", path), zap.Int("status", status), zap.Int("attempt", attempt))
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil && len(resp.Body()) > 0 {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
