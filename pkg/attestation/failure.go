package attestation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobeyondidentity/docgate/pkg/authority"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// PermissionDenied: the user refused the location permission.
	PermissionDenied Kind = iota + 1
	// ServiceUnavailable: the location provider is disabled. Recoverable
	// through the settings hand-off.
	ServiceUnavailable
	// TamperDetected: developer options are enabled. Triggers a tamper report.
	TamperDetected
	// RemoteRejected: the authority returned an error or no device id.
	RemoteRejected
	// TransportFailure: network, timeout or decode error talking to the authority.
	TransportFailure
	// LocalFailure: a required local artifact could not be produced.
	LocalFailure
)

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case ServiceUnavailable:
		return "service_unavailable"
	case TamperDetected:
		return "tamper_detected"
	case RemoteRejected:
		return "remote_rejected"
	case TransportFailure:
		return "transport_failure"
	case LocalFailure:
		return "local_failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether the kind ends the run. Only ServiceUnavailable
// can be resolved by the user without starting over.
func (k Kind) Terminal() bool {
	return k != ServiceUnavailable
}

// Failure is a pipeline failure with the message shown to the user.
type Failure struct {
	Kind    Kind
	Stage   Stage
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// User-facing messages.
const (
	MsgPermissionRequired = "Location permission is required for security checks."
	MsgServiceDisabled    = "This app requires location services to be enabled for security verification. Please enable location services in your device settings."
	MsgTamperDetected     = "Developer options are enabled. Security check failed. This action has been reported to the admin."
	MsgTamperReport       = "Device Integrity Check Failed."
	MsgNoSignature        = "App integrity check failed: Could not get app signature."
	MsgSignatureRejected  = "The app integrity check failed and this incident has been reported to the admin."
	MsgNoLocationFix      = "Could not retrieve device location. Please ensure location is enabled and try again."
	MsgNotInLocation      = "Location Check Failed. You are not in the set Location. This action has been reported to the admin"
	MsgNotLoggedIn        = "Not logged in. Please log in and try again."
)

func newFailure(kind Kind, stage Stage, msg string, err error) *Failure {
	return &Failure{Kind: kind, Stage: stage, Message: msg, Err: err}
}

// withExchange appends the raw request and response text. Received is
// omitted when no response body was read.
func withExchange(msg, sent, received string) string {
	var b strings.Builder
	b.WriteString(msg)
	b.WriteString("\n\nSent:\n")
	b.WriteString(sent)
	if received != "" {
		b.WriteString("\n\nReceived:\n")
		b.WriteString(received)
	}
	return b.String()
}

// transportMessage formats a transport failure as "<prefix>: <err>" plus the
// exchange text carried by a *authority.TransportError.
func transportMessage(prefix string, err error) string {
	msg := fmt.Sprintf("%s: %v", prefix, transportCause(err))
	if te, ok := asTransportError(err); ok {
		return withExchange(msg, te.Sent, te.Received)
	}
	return msg
}

func transportCause(err error) error {
	if te, ok := asTransportError(err); ok && te.Err != nil {
		return te.Err
	}
	return err
}

func asTransportError(err error) (*authority.TransportError, bool) {
	var te *authority.TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
