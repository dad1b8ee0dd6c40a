package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPermissions indicates the session file is readable by other users.
var ErrInvalidPermissions = errors.New("insecure file permissions: file accessible to other users")

// FileStore persists the session as YAML with owner-only permissions.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed session store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path (for display purposes).
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the session file.
// Returns ErrNotLoggedIn if the file doesn't exist.
// Returns ErrInvalidPermissions if the file is accessible to other users.
func (f *FileStore) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileStore) load() (*Session, error) {
	_, err := os.Stat(f.path)
	if os.IsNotExist(err) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("stat session file: %w", err)
	}

	if err := checkFilePermissions(f.path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	if !s.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	return &s, nil
}

// Save writes the session file, creating parent directories as needed.
func (f *FileStore) Save(s *Session) error {
	if s == nil {
		return errors.New("session is nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(s)
}

func (f *FileStore) save(s *Session) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := setFilePermissions(f.path); err != nil {
		return fmt.Errorf("set session file permissions: %w", err)
	}
	return nil
}

// SetDeviceID updates the device id in place.
func (f *FileStore) SetDeviceID(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.load()
	if err != nil {
		return err
	}
	s.DeviceID = id
	return f.save(s)
}

// Clear removes the session file. Missing files are not an error.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
