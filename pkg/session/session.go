// Package session holds the authenticated identity used by the attestation
// pipeline and the document client.
//
// A Session carries the server address and username captured at login and the
// opaque device identifier issued by the remote authority once the location
// check passes. The pipeline reads the session through a Store handle and is
// the only writer of the device identifier.
package session

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNotLoggedIn indicates no hostname/username has been stored yet.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrNoDeviceID indicates the session has not been provisioned with a device id.
	ErrNoDeviceID = errors.New("device not provisioned")
)

// Session is the credential context shared by the pipeline and document client.
type Session struct {
	Hostname string `yaml:"hostname" json:"hostname"`
	Username string `yaml:"username" json:"username"`
	DeviceID string `yaml:"device_id,omitempty" json:"device_id,omitempty"`
}

// LoggedIn reports whether the session has a server and identity.
func (s *Session) LoggedIn() bool {
	return s != nil && s.Hostname != "" && s.Username != ""
}

// Provisioned reports whether a device id has been issued for this session.
func (s *Session) Provisioned() bool {
	return s.LoggedIn() && s.DeviceID != ""
}

// BaseURL returns the remote authority base URL for the session hostname.
// Hostnames without a scheme are reached over plain http, matching what the
// login form accepts ("127.0.0.1:8000").
func (s *Session) BaseURL() string {
	h := strings.TrimRight(s.Hostname, "/")
	if strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://") {
		return h
	}
	return "http://" + h
}

// Store provides access to the current session.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns a copy of the current session.
	// Returns ErrNotLoggedIn if no session has been saved.
	Load() (*Session, error)

	// Save replaces the stored session.
	Save(s *Session) error

	// SetDeviceID records the device id issued by the remote authority.
	SetDeviceID(id string) error

	// Clear removes the stored session.
	Clear() error
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	current *Session
}

// NewMemoryStore creates a store seeded with the given session (may be nil).
func NewMemoryStore(s *Session) *MemoryStore {
	m := &MemoryStore{}
	if s != nil {
		cp := *s
		m.current = &cp
	}
	return m
}

// Load returns a copy of the session.
func (m *MemoryStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNotLoggedIn
	}
	cp := *m.current
	return &cp, nil
}

// Save replaces the session.
func (m *MemoryStore) Save(s *Session) error {
	if s == nil {
		return errors.New("session is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.current = &cp
	return nil
}

// SetDeviceID stores the device id on the current session.
func (m *MemoryStore) SetDeviceID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNotLoggedIn
	}
	m.current.DeviceID = id
	return nil
}

// Clear drops the session.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return nil
}
