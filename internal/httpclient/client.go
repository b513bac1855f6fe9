// Package httpclient is the bounded-timeout HTTP client used to fetch remote
// images and to forward snapshots to the detection service.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
)

const (
	// DefaultTimeout applies when the request context carries no deadline.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxBodyBytes caps downloaded images.
	DefaultMaxBodyBytes = 32 << 20

	defaultMaxIdleConns          = 20
	defaultMaxIdleConnsPerHost   = 4
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultDialTimeout           = 10 * time.Second
	defaultUserAgent             = "lampwatch"

	componentName = "httpclient"
)

// Client wraps http.Client with per-request deadlines and typed errors.
// Safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	maxBodyBytes   int64
	userAgent      string

	hookMu        sync.RWMutex
	afterResponse func(*http.Request, *http.Response, error)
}

// Config holds configuration for creating an HTTP client.
type Config struct {
	DefaultTimeout time.Duration
	MaxBodyBytes   int64
	UserAgent      string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: DefaultTimeout,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		UserAgent:      defaultUserAgent,
	}
}

// New creates a client. A nil cfg uses DefaultConfig; zero fields take defaults.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.DefaultTimeout > 0 {
			c.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.MaxBodyBytes > 0 {
			c.MaxBodyBytes = cfg.MaxBodyBytes
		}
		if cfg.UserAgent != "" {
			c.UserAgent = cfg.UserAgent
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		maxBodyBytes:   c.MaxBodyBytes,
		userAgent:      c.UserAgent,
	}
}

// HTTPClient exposes the underlying client, e.g. for httpmock activation.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// Do executes req under ctx, applying the default timeout when ctx has no
// deadline. The returned cancel func must be called once the body is consumed.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, context.CancelFunc, error) {
	if req == nil {
		return nil, func() {}, fmt.Errorf("nil request")
	}

	cancel := context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)

	c.hookMu.RLock()
	hook := c.afterResponse
	c.hookMu.RUnlock()
	if hook != nil {
		hook(req, resp, err)
	}

	if err != nil {
		cancel()
		GetLogger().Debug("request failed",
			logger.String("method", req.Method),
			logger.String("host", req.URL.Host),
			logger.Error(err))
		return nil, func() {}, err
	}
	GetLogger().Debug("request completed",
		logger.String("method", req.Method),
		logger.String("host", req.URL.Host),
		logger.Int("status", resp.StatusCode))
	return resp, cancel, nil
}

// FetchBytes downloads url and returns the body. Network failures, non-2xx
// statuses and oversized bodies are image-fetch errors.
func (c *Client) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fetchError(fmt.Errorf("invalid URL: %w", err), url)
	}

	resp, cancel, err := c.Do(ctx, req)
	defer cancel()
	if err != nil {
		return nil, fetchError(err, url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)).
			Component(componentName).
			Category(errors.CategoryImageFetch).
			Context("url", url).
			Context("status_code", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fetchError(fmt.Errorf("reading body: %w", err), url)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fetchError(fmt.Errorf("body exceeds %d bytes", c.maxBodyBytes), url)
	}
	return body, nil
}

// FilePart is one file field of a multipart upload.
type FilePart struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// PostMultipart uploads part to url and returns the status code and body.
func (c *Client) PostMultipart(ctx context.Context, url string, part FilePart) (int, []byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, part.Field, part.Filename))
	header.Set("Content-Type", part.ContentType)
	pw, err := w.CreatePart(header)
	if err != nil {
		return 0, nil, networkError(err, url)
	}
	if _, err := pw.Write(part.Data); err != nil {
		return 0, nil, networkError(err, url)
	}
	if err := w.Close(); err != nil {
		return 0, nil, networkError(err, url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return 0, nil, networkError(err, url)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, cancel, err := c.Do(ctx, req)
	defer cancel()
	if err != nil {
		return 0, nil, networkError(err, url)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, networkError(err, url)
	}
	return resp.StatusCode, body, nil
}

// SetAfterResponseHook sets a function called after every request.
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

func fetchError(err error, url string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryImageFetch).
		Context("url", url).
		Build()
}

func networkError(err error, url string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryNetwork).
		Context("url", url).
		Build()
}

// GetLogger returns the httpclient module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}
