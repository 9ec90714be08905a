package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"znum/pkg/config"
	errs "znum/pkg/errors"
	"znum/pkg/logger"
	"znum/pkg/retry"
)

// maxBodySize caps how much of a response is read into memory
const maxBodySize = 64 << 20

// Request is a reader request
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is a fully read reader response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
}

// Client sends requests to the reader with browser-like headers, a shared
// cookie jar and transport-level retries.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	retry      *retry.Config
	logger     logger.Logger
}

// NewClient creates a reader client. jar may be nil.
func NewClient(cfg *config.Config, jar http.CookieJar, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Download.Timeout,
			Jar:     jar,
		},
		headers: map[string]string{
			"User-Agent":      cfg.Reader.UserAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language": cfg.Reader.AcceptLanguage,
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
			"Sec-Fetch-Dest":  "document",
			"Sec-Fetch-Mode":  "navigate",
			"Sec-Fetch-Site":  "same-origin",
		},
		baseURL: cfg.Reader.BaseURL,
		retry:   retry.FromConfig(cfg.Retry, log),
		logger:  log,
	}
}

// BaseURL returns the reader's base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHeader sets a header sent with every request
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetRetry replaces the retry policy
func (c *Client) SetRetry(cfg *retry.Config) {
	c.retry = cfg
}

// Send performs a request, retrying network failures and transient statuses.
// Once retries are exhausted on a transient status the last response is
// returned without error so the caller can classify it. A cancelled context
// is returned as is, even when a response was already received.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		resp, err := c.do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 && errs.IsRetryableStatusCode(resp.StatusCode) {
			return resp, &errs.Error{
				Kind:    errs.KindTransport,
				Code:    resp.StatusCode,
				Message: "transient status",
			}
		}
		return resp, nil
	})

	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if resp != nil {
		return resp, nil
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return nil, err
	}
	return nil, errs.Wrap(errs.KindTransport, err, "request failed")
}

// do performs a single request and reads the whole body
func (c *Client) do(ctx context.Context, r *Request) (*Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "failed to create request")
	}
	for key, value := range c.headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"url":      redact(req),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.LogRequest(c.logger, method, redact(req), resp.StatusCode, float64(duration.Milliseconds()))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       string(data),
	}, nil
}

// redact returns the request URL without its query string
func redact(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}
