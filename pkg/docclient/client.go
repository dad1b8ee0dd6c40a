// Package docclient reaches the document area of the remote authority:
// login, file listing and file download.
//
// Listing and downloading identify the device by the id issued during
// attestation; callers without one get ErrNotAttested before any request
// is made.
package docclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gobeyondidentity/docgate/pkg/session"
)

const (
	// DefaultTimeout bounds login and listing calls. Downloads are bounded by
	// the caller's context only.
	DefaultTimeout = 10 * time.Second

	// Viewtypes reported by the listing endpoint.
	ViewNormal  = "normal"
	ViewOneTime = "onetime"

	maxErrorBody = 64 << 10
)

// Endpoint paths on the remote authority.
const (
	PathLogin     = "/login"
	PathListFiles = "/listfiles"
	PathGetFile   = "/getfile"
)

var (
	// ErrNotAttested indicates the session carries no device id.
	ErrNotAttested = errors.New("device not attested: run 'docgate check' first")

	// ErrLoginRejected indicates the server refused the credentials.
	ErrLoginRejected = errors.New("login rejected")
)

// LoginError carries the server's reason for a failed login.
type LoginError struct {
	Reason string
}

func (e *LoginError) Error() string {
	return e.Reason
}

func (e *LoginError) Is(target error) bool {
	return target == ErrLoginRejected
}

// ConnectError reports that the server could not be reached or answered
// with something other than the expected JSON.
type ConnectError struct {
	Op  string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("Could not connect to server: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// DownloadError is a non-200 answer to a download request.
type DownloadError struct {
	Status int
	Body   string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("Error: %d\n%s", e.Status, e.Body)
}

// FileInfo is one entry of the file listing.
type FileInfo struct {
	Filename string `json:"filename" yaml:"filename"`
	ViewType string `json:"viewtype" yaml:"viewtype"`
}

// OneTime reports whether the file may be viewed only once.
func (f FileInfo) OneTime() bool {
	return f.ViewType == ViewOneTime
}

// Listing is the file listing partitioned by viewtype. Entries with an
// unknown viewtype are dropped.
type Listing struct {
	Normal  []FileInfo `json:"normal" yaml:"normal"`
	OneTime []FileInfo `json:"onetime" yaml:"onetime"`
}

// Progress is called as download bytes arrive. total is -1 when the server
// sent no Content-Length.
type Progress func(received, total int64)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Login string  `json:"login"`
	Error *string `json:"error"`
}

type getFileRequest struct {
	Username string `json:"username"`
	DeviceID string `json:"device_id"`
	Filename string `json:"filename"`
}

// Client talks to the document endpoints.
type Client struct {
	httpClient *http.Client
	userAgent  string
	Timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the timeout for login and listing calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a document client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		userAgent:  "docgate",
		Timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates against hostname. On success the session store is
// replaced with the new hostname and username and no device id, so the
// pipeline must run again before documents are reachable.
func (c *Client) Login(ctx context.Context, store session.Store, hostname, username, password string) (*session.Session, error) {
	sess := &session.Session{Hostname: hostname, Username: username}

	var res loginResponse
	if err := c.doJSON(ctx, "login", http.MethodPost, sess.BaseURL()+PathLogin,
		loginRequest{Username: username, Password: password}, &res); err != nil {
		return nil, err
	}
	if res.Login != "pass" {
		reason := "Unknown login error"
		if res.Error != nil && *res.Error != "" {
			reason = *res.Error
		}
		return nil, &LoginError{Reason: reason}
	}

	if err := store.Save(sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return sess, nil
}

// ListFiles returns the documents available to the attested device.
func (c *Client) ListFiles(ctx context.Context, sess *session.Session) (*Listing, error) {
	if !sess.Provisioned() {
		return nil, ErrNotAttested
	}

	q := url.Values{}
	q.Set("username", sess.Username)
	q.Set("device_id", sess.DeviceID)

	var files []FileInfo
	if err := c.doJSON(ctx, "list files", http.MethodGet, sess.BaseURL()+PathListFiles+"?"+q.Encode(), nil, &files); err != nil {
		return nil, err
	}
	return Partition(files), nil
}

// Partition splits files into normal and one-time lists, keeping order.
func Partition(files []FileInfo) *Listing {
	l := &Listing{Normal: []FileInfo{}, OneTime: []FileInfo{}}
	for _, f := range files {
		switch f.ViewType {
		case ViewNormal:
			l.Normal = append(l.Normal, f)
		case ViewOneTime:
			l.OneTime = append(l.OneTime, f)
		}
	}
	return l
}

// Download streams filename to w and returns the number of bytes written.
// progress may be nil.
func (c *Client) Download(ctx context.Context, sess *session.Session, filename string, w io.Writer, progress Progress) (int64, error) {
	if !sess.Provisioned() {
		return 0, ErrNotAttested
	}

	payload, err := json.Marshal(getFileRequest{Username: sess.Username, DeviceID: sess.DeviceID, Filename: filename})
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.BaseURL()+PathGetFile, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, true)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &ConnectError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, &DownloadError{Status: resp.StatusCode, Body: string(body)}
	}

	pw := &progressWriter{w: w, total: resp.ContentLength, fn: progress}
	n, err := io.Copy(pw, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to download file: %w", err)
	}
	return n, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, body != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ConnectError{Op: op, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ConnectError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

// progressWriter reports cumulative bytes written.
type progressWriter struct {
	w        io.Writer
	total    int64
	received int64
	fn       Progress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.received += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.received, p.total)
	}
	return n, err
}
