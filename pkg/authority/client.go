package authority

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
)

const (
	// DefaultTimeout bounds the signature check and failure report calls.
	DefaultTimeout = 10 * time.Second

	// DefaultLocationTimeout bounds the location check call.
	DefaultLocationTimeout = 5 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Endpoint paths on the remote authority.
const (
	PathSignatureCheck = "/shacheck"
	PathLocationCheck  = "/checklocation"
	PathCheckFailed    = "/checkfailed"
)

// Client talks to the remote authority over HTTP with JSON bodies.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	userAgent       string
	Timeout         time.Duration // signature check and failure report
	LocationTimeout time.Duration // location check
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the timeout for the signature check and failure report.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.Timeout = d
	}
}

// WithLocationTimeout sets the timeout for the location check.
func WithLocationTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.LocationTimeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the authority at baseURL ("http://host:port").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{},
		userAgent:       "docgate",
		Timeout:         DefaultTimeout,
		LocationTimeout: DefaultLocationTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the authority base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CheckSignature submits the local signing digest.
// A decoded response is returned even when it carries a rejection; callers
// use Accepted. Transport and decode failures return *TransportError.
func (c *Client) CheckSignature(ctx context.Context, req SignatureRequest) (*SignatureResult, error) {
	var res SignatureResult
	ex, status, err := c.post(ctx, "signature check", PathSignatureCheck, c.Timeout, req, &res)
	res.Exchange = ex
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) && res.Error == nil {
		return nil, c.statusError("signature check", PathSignatureCheck, status, ex)
	}
	return &res, nil
}

// CheckLocation submits the device position for the geofence check.
// Accepted on the result applies the conjunctive predicate.
func (c *Client) CheckLocation(ctx context.Context, req LocationRequest) (*LocationResult, error) {
	var res LocationResult
	ex, status, err := c.post(ctx, "location check", PathLocationCheck, c.LocationTimeout, req, &res)
	res.Exchange = ex
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) && res.Error == nil {
		return nil, c.statusError("location check", PathLocationCheck, status, ex)
	}
	return &res, nil
}

// ReportFailure posts a tamper report. The response body is ignored.
func (c *Client) ReportFailure(ctx context.Context, report FailureReport) error {
	ex, status, err := c.post(ctx, "failure report", PathCheckFailed, c.Timeout, report, nil)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return c.statusError("failure report", PathCheckFailed, status, ex)
	}
	return nil
}

// post sends body as JSON and decodes the response into out (when non-nil).
func (c *Client) post(ctx context.Context, op, path string, timeout time.Duration, body, out any) (Exchange, int, error) {
	var ex Exchange
	url := c.baseURL + path

	payload, err := json.Marshal(body)
	if err != nil {
		return ex, 0, &TransportError{Op: op, URL: url, Err: fmt.Errorf("encode request: %w", err)}
	}
	ex.Sent = string(payload)

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ex, 0, &TransportError{Op: op, URL: url, Sent: ex.Sent, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return ex, 0, &TransportError{Op: op, URL: url, Sent: ex.Sent, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ex, resp.StatusCode, &TransportError{Op: op, URL: url, StatusCode: resp.StatusCode, Sent: ex.Sent, Err: fmt.Errorf("reading response: %w", err)}
	}
	ex.Received = string(data)

	if out == nil {
		return ex, resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return ex, resp.StatusCode, &TransportError{
			Op:         op,
			URL:        url,
			StatusCode: resp.StatusCode,
			Sent:       ex.Sent,
			Received:   ex.Received,
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}
	return ex, resp.StatusCode, nil
}

func (c *Client) statusError(op, path string, status int, ex Exchange) error {
	return &TransportError{
		Op:         op,
		URL:        c.baseURL + path,
		StatusCode: status,
		Sent:       ex.Sent,
		Received:   ex.Received,
		Err:        fmt.Errorf("unexpected status %d", status),
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
