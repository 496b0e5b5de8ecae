package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gembalance-go/internal/constants"
	"gembalance-go/internal/gberrors"
)

// searchSuffix is a routing hint appended to model names by callers that
// want the search-grounded variant. It is consumed locally and never
// forwarded upstream.
const searchSuffix = "-search"

// Options configures a Client. Zero values fall back to the package
// defaults.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Client performs single-shot and streaming generation calls against the
// generative-language API using a credential supplied per call. It holds no
// shared state across calls beyond its static retry/timeout configuration.
type Client struct {
	baseURL        string
	cli            *http.Client
	requestTimeout time.Duration
	maxAttempts    int
	retryBaseDelay time.Duration
}

// New builds a Client with a pooled transport. The http.Client timeout stays
// zero so streaming responses are not cut off; per-call deadlines come from
// contexts, the transport-level timeouts below, and the per-read deadline on
// streamed bodies.
func New(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.DefaultStreamMaxAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = constants.DefaultStreamRetryBaseDelay
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = constants.DefaultRequestTimeout
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   constants.DefaultConnectTimeout,
			KeepAlive: constants.KeepAliveInterval,
		}).DialContext,
		TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
		ResponseHeaderTimeout: opts.RequestTimeout,
		ExpectContinueTimeout: constants.ExpectContinueTimeout,
		MaxIdleConns:          constants.MaxIdleConns,
		MaxIdleConnsPerHost:   constants.MaxIdleConnsPerHost,
		IdleConnTimeout:       constants.IdleConnTimeout,
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		cli:            &http.Client{Transport: tr, Timeout: 0},
		requestTimeout: opts.RequestTimeout,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// NormalizeModel strips the search-variant suffix from a model name.
func NormalizeModel(model string) string {
	return strings.TrimSuffix(model, searchSuffix)
}

func (c *Client) generateURL(model, key string) string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(NormalizeModel(model)), url.QueryEscape(key))
}

func (c *Client) streamURL(model, key string) string {
	return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		c.baseURL, url.PathEscape(NormalizeModel(model)), url.QueryEscape(key))
}

// Generate performs one non-streaming generation call. Any non-success
// status is surfaced immediately as *gberrors.UpstreamError; there is no
// retry at this layer for single-shot calls.
func (c *Client) Generate(ctx context.Context, payload []byte, model, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.generateURL(model, key), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBodyBytes))
		return nil, &gberrors.UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// StreamGenerate opens a streaming generation call and returns a Stream over
// the server-sent-event lines. The connection attempt is retried with
// exponential backoff; the returned Stream keeps retrying transparently only
// until its first line has been delivered. Each read from the stream carries
// the request timeout as its deadline, so a stalled upstream surfaces as a
// transport failure instead of hanging the caller.
func (c *Client) StreamGenerate(ctx context.Context, payload []byte, model, key string) (*Stream, error) {
	s := &Stream{
		ctx:         ctx,
		client:      c,
		url:         c.streamURL(model, key),
		payload:     payload,
		maxAttempts: c.maxAttempts,
		baseDelay:   c.retryBaseDelay,
		readTimeout: c.requestTimeout,
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Client) openStream(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	return c.cli.Do(req)
}
