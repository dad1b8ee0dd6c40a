// Package authority is the client for the remote authority that adjudicates
// the network-backed attestation checks.
//
// # Endpoints
//
//   - POST /shacheck: signing certificate digest; accepted iff no error
//   - POST /checklocation: device position; accepted iff no error AND a
//     device id is issued
//   - POST /checkfailed: fire-and-forget tamper report
//
// Two kinds of failure are kept apart. A well-formed response that rejects
// the claim is returned as a result whose Accepted method reports false.
// Connection failures, timeouts, unexpected statuses and undecodable bodies
// are returned as *TransportError carrying the raw request and response
// text for diagnostics.
package authority

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a request that exceeded its per-call timeout.
var ErrTimeout = errors.New("request timed out")

// SignatureRequest is the body of POST /shacheck.
type SignatureRequest struct {
	Username string `json:"username"`
	SHA256   string `json:"sha256"`
}

// SignatureResult is the decoded /shacheck response.
type SignatureResult struct {
	Error *string `json:"error"`

	Exchange `json:"-"`
}

// Accepted reports whether the authority accepted the digest.
func (r *SignatureResult) Accepted() bool {
	return r != nil && r.Error == nil
}

// LocationRequest is the body of POST /checklocation. Coordinates are
// decimal strings, not JSON numbers.
type LocationRequest struct {
	Username  string `json:"username"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Altitude  string `json:"altitude"`
}

// LocationResult is the decoded /checklocation response. Note the
// capitalized "Error" wire key.
type LocationResult struct {
	Error    *string `json:"Error"`
	DeviceID *string `json:"device_id"`

	Exchange `json:"-"`
}

// Accepted is the conjunctive success predicate: no error and a non-empty
// device id. An error takes precedence over a present device id.
func (r *LocationResult) Accepted() bool {
	return r != nil && r.Error == nil && r.DeviceID != nil && *r.DeviceID != ""
}

// ErrorMessage returns the server error field, or "".
func (r *LocationResult) ErrorMessage() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return *r.Error
}

// Device returns the issued device id, or "".
func (r *LocationResult) Device() string {
	if r == nil || r.DeviceID == nil {
		return ""
	}
	return *r.DeviceID
}

// FailureReport is the body of POST /checkfailed.
type FailureReport struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Exchange holds the raw JSON text sent and received for one call.
type Exchange struct {
	Sent     string
	Received string
}

// TransportError reports a request that did not yield a well-formed answer:
// connection failure, timeout, unexpected status, or malformed JSON.
type TransportError struct {
	Op         string // "signature check", "location check", "failure report"
	URL        string
	StatusCode int // 0 when no response arrived
	Sent       string
	Received   string // "" when no response body was read
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request exceeded its deadline.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}
