package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/garnizeh/cftrack/internal/config"
	"github.com/qri-io/jsonschema"
)

var (
	ErrCircuitOpen = errors.New("codeforces circuit open")
	// ErrAPIStatus is returned when the API answers with status other than OK.
	ErrAPIStatus = errors.New("codeforces api status not OK")
	ErrSchema    = errors.New("codeforces response failed schema validation")
)

// maxBody caps a single response; a full user.status page is a few MB.
const maxBody = 64 << 20

// FetchError reports which handle and endpoint failed.
type FetchError struct {
	Handle string
	Method string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("codeforces %s for %q: %v", e.Method, e.Handle, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to the public Codeforces API. Upstream outages trip a simple
// circuit breaker; client errors such as an unknown handle do not.
type Client struct {
	cfg    config.CodeforcesConfig
	base   *url.URL
	client *http.Client

	failures  int32
	openUntil int64 // unix nano
	closed    int32
}

func NewClient(cfg config.CodeforcesConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	logger.Info("codeforces: client created", slog.String("base_url", cfg.BaseURL), slog.Duration("timeout", cfg.Timeout))
	return &Client{cfg: cfg, base: u, client: httpClient}, nil
}

func NewDefaultClient(cfg config.CodeforcesConfig) (*Client, error) {
	defaultClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return NewClient(cfg, defaultClient)
}

// package-level logger for pkg/codeforces; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/codeforces. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

func (c *Client) isCircuitOpen() bool {
	if c.cfg.CircuitFailureThreshold <= 0 {
		return false
	}
	if atomic.LoadInt32(&c.failures) < int32(c.cfg.CircuitFailureThreshold) {
		return false
	}
	if time.Now().UnixNano() < atomic.LoadInt64(&c.openUntil) {
		return true
	}

	// half-open: let the next request through
	atomic.StoreInt32(&c.failures, 0)
	return false
}

func (c *Client) recordFailure() {
	if c.cfg.CircuitFailureThreshold <= 0 {
		return
	}
	v := atomic.AddInt32(&c.failures, 1)
	if v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
		logger.Warn("codeforces: circuit opened", slog.Int("failures", int(v)), slog.Duration("reset", c.cfg.CircuitReset))
	}
}

// Close releases idle connections of the underlying transport. It is
// idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.client != nil && c.client.Transport != nil {
		if tr, ok := c.client.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
		}
	}
	return nil
}

type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

// call performs one GET against method, validates the body against schema
// and decodes the result field into out.
func (c *Client) call(parent context.Context, method string, params url.Values, schema *jsonschema.Schema, out any) error {
	if c.isCircuitOpen() {
		return ErrCircuitOpen
	}

	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	defer cancel()

	u := c.base.JoinPath(method)
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.transportFailure(parent)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		c.transportFailure(parent)
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.recordFailure()
		}
		// the API reports unknown handles as 400 with a FAILED envelope
		var env envelope
		if json.Unmarshal(body, &env) == nil && env.Comment != "" {
			return fmt.Errorf("status %d: %w: %s", resp.StatusCode, ErrAPIStatus, env.Comment)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	verrs, err := schema.ValidateBytes(ctx, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if len(verrs) > 0 {
		msgs := make([]string, 0, len(verrs))
		for _, v := range verrs {
			msgs = append(msgs, v.PropertyPath+": "+v.Message)
		}
		return fmt.Errorf("%w: %s", ErrSchema, strings.Join(msgs, "; "))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Status != "OK" {
		return fmt.Errorf("%w: %s", ErrAPIStatus, env.Comment)
	}
	if len(env.Result) == 0 {
		return fmt.Errorf("%w: result missing", ErrSchema)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}

	atomic.StoreInt32(&c.failures, 0)
	logger.Debug("codeforces: call", slog.String("method", method), slog.Duration("took", time.Since(start)))
	return nil
}

// transportFailure counts a failed round trip unless the caller gave up
// first. The per-call timeout still counts: that is an upstream hang.
func (c *Client) transportFailure(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	c.recordFailure()
}

// UserInfo returns the profile of handle.
func (c *Client) UserInfo(ctx context.Context, handle string) (*User, error) {
	var users []User
	if err := c.call(ctx, "user.info", url.Values{"handles": {handle}}, userInfoValidator, &users); err != nil {
		return nil, &FetchError{Handle: handle, Method: "user.info", Err: err}
	}
	return &users[0], nil
}

// UserRating returns the rated contest history of handle, oldest first.
func (c *Client) UserRating(ctx context.Context, handle string) ([]RatingChange, error) {
	var changes []RatingChange
	if err := c.call(ctx, "user.rating", url.Values{"handle": {handle}}, userRatingValidator, &changes); err != nil {
		return nil, &FetchError{Handle: handle, Method: "user.rating", Err: err}
	}
	return changes, nil
}

// UserStatus returns up to count submissions of handle starting at from,
// newest first.
func (c *Client) UserStatus(ctx context.Context, handle string, from, count int) ([]Submission, error) {
	params := url.Values{
		"handle": {handle},
		"from":   {strconv.Itoa(from)},
		"count":  {strconv.Itoa(count)},
	}
	var subs []Submission
	if err := c.call(ctx, "user.status", params, userStatusValidator, &subs); err != nil {
		return nil, &FetchError{Handle: handle, Method: "user.status", Err: err}
	}
	return subs, nil
}

// FetchUserData retrieves profile, rating history and submissions of handle.
// Any failed request fails the whole fetch; partial bundles are never
// returned.
func (c *Client) FetchUserData(ctx context.Context, handle string) (*Bundle, error) {
	user, err := c.UserInfo(ctx, handle)
	if err != nil {
		return nil, err
	}
	changes, err := c.UserRating(ctx, handle)
	if err != nil {
		return nil, err
	}
	count := c.cfg.SubmissionCount
	if count <= 0 {
		count = 10000
	}
	subs, err := c.UserStatus(ctx, handle, 1, count)
	if err != nil {
		return nil, err
	}

	return &Bundle{User: *user, RatingChanges: changes, Submissions: subs}, nil
}
