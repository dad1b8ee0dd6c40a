// Package audit records security-relevant events: tamper detection, tamper
// report delivery failures, pipeline outcomes, device provisioning and
// session changes. Backends are slog and the local syslog daemon (RFC 5424).
package audit

import (
	"strconv"
	"time"
)

// Severity represents syslog severity levels per RFC 5424.
type Severity int

const (
	SeverityWarning Severity = 4
	SeverityNotice  Severity = 5
	SeverityInfo    Severity = 6
)

// String returns the human-readable name for a severity level.
func (s Severity) String() string {
	switch s {
	case SeverityEmergency:
		return "EMERGENCY"
	case SeverityAlert:
		return "ALERT"
	case SeverityCritical:
		return "CRITICAL"
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityNotice:
		return "NOTICE"
	case SeverityInfo:
		return "INFO"
	case SeverityDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies a security-relevant audit event.
type EventType string

const (
	EventTamperDetected     EventType = "attestation.tamper"
	EventReportFailed       EventType = "attestation.report_failed"
	EventPipelineCompleted  EventType = "attestation.complete"
	EventPipelineFailed     EventType = "attestation.failure"
	EventDeviceProvisioned  EventType = "device.provisioned"
	EventLoginSuccess       EventType = "session.login"
	EventLoginFailure       EventType = "session.login_failure"
	EventLogout             EventType = "session.logout"
	EventDocumentDownloaded EventType = "document.download"
)

// AllEventTypes returns every defined event type for iteration and validation.
func AllEventTypes() []EventType {
	return []EventType{
		EventTamperDetected,
		EventReportFailed,
		EventPipelineCompleted,
		EventPipelineFailed,
		EventDeviceProvisioned,
		EventLoginSuccess,
		EventLoginFailure,
		EventLogout,
		EventDocumentDownloaded,
	}
}

var severityMap = map[EventType]Severity{
	EventTamperDetected:     SeverityWarning,
	EventReportFailed:       SeverityWarning,
	EventPipelineCompleted:  SeverityNotice,
	EventPipelineFailed:     SeverityWarning,
	EventDeviceProvisioned:  SeverityNotice,
	EventLoginSuccess:       SeverityInfo,
	EventLoginFailure:       SeverityWarning,
	EventLogout:             SeverityInfo,
	EventDocumentDownloaded: SeverityInfo,
}

// SeverityFor returns the syslog severity for a given event type.
// Unknown event types return SeverityWarning (fail-secure: treat unknowns as concerning).
func SeverityFor(et EventType) Severity {
	if s, ok := severityMap[et]; ok {
		return s
	}
	return SeverityWarning
}

// Event represents a security-relevant audit event with structured fields.
type Event struct {
	Type      EventType
	Severity  Severity
	Timestamp time.Time
	ActorID   string            // username
	RunID     string            // pipeline run id, when the event belongs to one
	Message   string            // human-readable summary
	Details   map[string]string // event-specific fields
}

func newEvent(et EventType, actor, runID, message string, details map[string]string) Event {
	if details == nil {
		details = map[string]string{}
	}
	return Event{
		Type:      et,
		Severity:  SeverityFor(et),
		Timestamp: time.Now(),
		ActorID:   actor,
		RunID:     runID,
		Message:   message,
		Details:   details,
	}
}

// NewTamperDetected records that the local integrity probe failed.
func NewTamperDetected(username, runID, message string) Event {
	return newEvent(EventTamperDetected, username, runID, message, nil)
}

// NewReportFailed records that the detached tamper report could not be delivered.
func NewReportFailed(username, runID string, err error) Event {
	return newEvent(EventReportFailed, username, runID, "tamper report not delivered", map[string]string{
		"error": errString(err),
	})
}

// NewPipelineCompleted records a run that passed every stage.
func NewPipelineCompleted(username, runID string, attempts int) Event {
	return newEvent(EventPipelineCompleted, username, runID, "attestation pipeline completed", map[string]string{
		"attempts": strconv.Itoa(attempts),
	})
}

// NewPipelineFailed records a run that ended in a terminal failure.
func NewPipelineFailed(username, runID, stage, kind, message string) Event {
	return newEvent(EventPipelineFailed, username, runID, message, map[string]string{
		"stage": stage,
		"kind":  kind,
	})
}

// NewDeviceProvisioned records the device id issued at the location stage.
func NewDeviceProvisioned(username, runID, deviceID string) Event {
	return newEvent(EventDeviceProvisioned, username, runID, "device id issued", map[string]string{
		"device_id": deviceID,
	})
}

// NewLoginSuccess records a successful login against host.
func NewLoginSuccess(username, host string) Event {
	return newEvent(EventLoginSuccess, username, "", "login accepted", map[string]string{
		"host": host,
	})
}

// NewLoginFailure records a rejected or failed login.
func NewLoginFailure(username, host, reason string) Event {
	return newEvent(EventLoginFailure, username, "", reason, map[string]string{
		"host": host,
	})
}

// NewLogout records removal of the local session.
func NewLogout(username string) Event {
	return newEvent(EventLogout, username, "", "session cleared", nil)
}

// NewDocumentDownloaded records a completed file download.
func NewDocumentDownloaded(username, deviceID, filename string, bytes int64) Event {
	return newEvent(EventDocumentDownloaded, username, "", "document downloaded", map[string]string{
		"device_id": deviceID,
		"filename":  filename,
		"bytes":     strconv.FormatInt(bytes, 10),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
