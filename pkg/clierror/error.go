// Package clierror provides structured errors for CLI output with codes,
// exit codes, and remediation hints.
package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gobeyondidentity/docgate/pkg/attestation"
	"github.com/gobeyondidentity/docgate/pkg/docclient"
	"github.com/gobeyondidentity/docgate/pkg/session"
)

// Exit codes
const (
	ExitSuccess     = 0 // Operation completed successfully
	ExitGeneral     = 1 // Unknown/unhandled error
	ExitAuth        = 2 // Not logged in, login rejected
	ExitAttestation = 3 // Attestation failed, stale or missing
	ExitNotFound    = 4 // Resource doesn't exist
	ExitPending     = 5 // Waiting on a user action (settings, permission)
)

// Error codes (strings) for programmatic error handling
const (
	CodeAttestationStale       = "ATTESTATION_STALE"
	CodeAttestationFailed      = "ATTESTATION_FAILED"
	CodeAttestationUnavailable = "ATTESTATION_UNAVAILABLE"
	CodeAttestationPending     = "ATTESTATION_PENDING"
	CodeTamperDetected         = "TAMPER_DETECTED"
	CodePermissionDenied       = "PERMISSION_DENIED"
	CodeNotLoggedIn            = "NOT_LOGGED_IN"
	CodeLoginFailed            = "LOGIN_FAILED"
	CodeFileNotFound           = "FILE_NOT_FOUND"
	CodeDownloadFailed         = "DOWNLOAD_FAILED"
	CodeConnectionFailed       = "CONNECTION_FAILED"
	CodeInternalError          = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// WithHint replaces the remediation hint.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// AttestationStale creates an error for a completed run older than the
// freshness window.
func AttestationStale(age string) *CLIError {
	return &CLIError{
		Code:      CodeAttestationStale,
		Message:   fmt.Sprintf("attestation is stale (age: %s)", age),
		Hint:      "Run 'docgate check' to attest the device again",
		Retryable: true,
		ExitCode:  ExitAttestation,
	}
}

// AttestationFailed creates an error for a pipeline that stopped on a
// terminal failure. message is shown verbatim.
func AttestationFailed(message string) *CLIError {
	return &CLIError{
		Code:      CodeAttestationFailed,
		Message:   message,
		Hint:      "Resolve the reported problem and run 'docgate check' again",
		Retryable: false,
		ExitCode:  ExitAttestation,
	}
}

// AttestationUnavailable creates an error when no completed run backs the
// session.
func AttestationUnavailable(reason string) *CLIError {
	return &CLIError{
		Code:      CodeAttestationUnavailable,
		Message:   fmt.Sprintf("document access blocked: %s", reason),
		Hint:      "Run 'docgate check' to attest this device",
		Retryable: true,
		ExitCode:  ExitAttestation,
	}
}

// AttestationPending creates an error for a run suspended on a user action.
func AttestationPending(message string) *CLIError {
	if message == "" {
		message = "attestation is waiting on a user action"
	}
	return &CLIError{
		Code:      CodeAttestationPending,
		Message:   message,
		Hint:      "Complete the requested action, then run 'docgate check' again",
		Retryable: true,
		ExitCode:  ExitPending,
	}
}

// TamperDetected creates an error for a device with developer options on.
func TamperDetected(message string) *CLIError {
	return &CLIError{
		Code:      CodeTamperDetected,
		Message:   message,
		Hint:      "Disable developer options on this device",
		Retryable: false,
		ExitCode:  ExitAttestation,
	}
}

// PermissionDenied creates an error for a refused location permission.
func PermissionDenied(message string) *CLIError {
	return &CLIError{
		Code:      CodePermissionDenied,
		Message:   message,
		Hint:      "Grant the location permission with 'docgate check --grant-permission'",
		Retryable: true,
		ExitCode:  ExitAttestation,
	}
}

// NotLoggedIn creates an error when no session has been stored.
func NotLoggedIn() *CLIError {
	return &CLIError{
		Code:      CodeNotLoggedIn,
		Message:   "not logged in",
		Hint:      "Log in with 'docgate login <host:port> <username>'",
		Retryable: true,
		ExitCode:  ExitAuth,
	}
}

// LoginFailed creates an error for rejected credentials.
func LoginFailed(reason string) *CLIError {
	return &CLIError{
		Code:      CodeLoginFailed,
		Message:   fmt.Sprintf("login failed: %s", reason),
		Hint:      "Check your username and password",
		Retryable: true,
		ExitCode:  ExitAuth,
	}
}

// FileNotFound creates an error when a file is not in the listing.
func FileNotFound(name string) *CLIError {
	return &CLIError{
		Code:      CodeFileNotFound,
		Message:   fmt.Sprintf("file '%s' not found", name),
		Hint:      "Check available files with 'docgate files list'",
		Retryable: false,
		ExitCode:  ExitNotFound,
	}
}

// DownloadFailed creates an error for a refused download.
func DownloadFailed(status int, body string) *CLIError {
	msg := fmt.Sprintf("download failed with status %d", status)
	if body != "" {
		msg += ": " + body
	}
	return &CLIError{
		Code:      CodeDownloadFailed,
		Message:   msg,
		Retryable: status >= 500,
		ExitCode:  ExitGeneral,
	}
}

// ConnectionFailed creates an error for connection failures.
func ConnectionFailed(target string) *CLIError {
	return &CLIError{
		Code:      CodeConnectionFailed,
		Message:   fmt.Sprintf("failed to connect to '%s'", target),
		Hint:      "Check network connectivity and server address",
		Retryable: true,
		ExitCode:  ExitGeneral,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Hint:      "",
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// FromState maps a resting pipeline snapshot to a CLI error, or nil when
// the run completed.
func FromState(st attestation.State) *CLIError {
	switch st.Phase {
	case attestation.PhaseCompleted:
		return nil
	case attestation.PhaseAwaiting:
		return AttestationPending(st.Message)
	}
	if st.Failure != nil {
		return FromFailure(st.Failure)
	}
	return AttestationFailed(st.Message)
}

// FromGate maps a blocked access decision to a CLI error, or nil when
// access is allowed.
func FromGate(d *attestation.GateDecision) *CLIError {
	if d == nil || d.Allowed {
		return nil
	}
	if age, ok := strings.CutPrefix(d.Reason, "stale: "); ok {
		return AttestationStale(age)
	}
	return AttestationUnavailable(d.Reason)
}

// FromFailure maps a pipeline failure to a CLI error by kind.
func FromFailure(f *attestation.Failure) *CLIError {
	switch f.Kind {
	case attestation.PermissionDenied:
		return PermissionDenied(f.Message)
	case attestation.ServiceUnavailable:
		return AttestationPending(f.Message)
	case attestation.TamperDetected:
		return TamperDetected(f.Message)
	case attestation.TransportFailure:
		e := AttestationFailed(f.Message)
		e.Retryable = true
		e.Hint = "Check that the server is reachable and run 'docgate check' again"
		return e
	case attestation.LocalFailure:
		if errors.Is(f.Err, session.ErrNotLoggedIn) {
			e := NotLoggedIn()
			e.Message = f.Message
			return e
		}
		return AttestationFailed(f.Message)
	default:
		return AttestationFailed(f.Message)
	}
}

// FromError maps errors returned by the document client and session store.
// A *CLIError is returned unchanged.
func FromError(err error) *CLIError {
	if err == nil {
		return nil
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}
	var f *attestation.Failure
	if errors.As(err, &f) {
		return FromFailure(f)
	}
	var le *docclient.LoginError
	if errors.As(err, &le) {
		return LoginFailed(le.Reason)
	}
	var de *docclient.DownloadError
	if errors.As(err, &de) {
		return DownloadFailed(de.Status, de.Body)
	}
	var ne *docclient.ConnectError
	if errors.As(err, &ne) {
		e := ConnectionFailed(ne.Op)
		e.Message = ne.Error()
		return e
	}
	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		return NotLoggedIn()
	case errors.Is(err, docclient.ErrNotAttested), errors.Is(err, session.ErrNoDeviceID):
		return AttestationUnavailable("device not attested")
	}
	return InternalError(err)
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for human-readable table format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			// Fallback to simple JSON if marshaling fails
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	// Human-readable table format
	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
