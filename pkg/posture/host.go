package posture

import (
	"bufio"
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Permission values stored in the device settings file.
const (
	PermissionStateGranted = "granted"
	PermissionStateDenied  = "denied"
	PermissionStatePrompt  = "prompt"
)

// DeviceSettings is the on-disk representation of the device toggles the
// probes read. The file plays the role of the OS settings store on hosts
// that have no native location permission model.
type DeviceSettings struct {
	LocationPermission string `yaml:"location_permission"`
	LocationEnabled    bool   `yaml:"location_enabled"`
	DeveloperOptions   bool   `yaml:"developer_options"`
}

// DefaultDeviceSettings returns the settings assumed when no file exists:
// permission not yet asked, location service on, developer options off.
func DefaultDeviceSettings() DeviceSettings {
	return DeviceSettings{
		LocationPermission: PermissionStatePrompt,
		LocationEnabled:    true,
	}
}

// HostPlatform implements Platform for a Linux host. Toggles come from a
// YAML settings file; the signing certificate from a PEM or DER file.
// A debugger attached to the process also counts as developer mode.
type HostPlatform struct {
	SettingsPath string
	CertPath     string

	mu sync.Mutex

	// tracerPid is swapped in tests.
	tracerPid func() int
}

// NewHostPlatform creates a host platform reading the given files.
func NewHostPlatform(settingsPath, certPath string) *HostPlatform {
	return &HostPlatform{
		SettingsPath: settingsPath,
		CertPath:     certPath,
		tracerPid:    detectTracerPid,
	}
}

// Settings reads the settings file, falling back to defaults when it is absent.
func (h *HostPlatform) Settings() (DeviceSettings, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readSettings()
}

func (h *HostPlatform) readSettings() (DeviceSettings, error) {
	s := DefaultDeviceSettings()
	data, err := os.ReadFile(h.SettingsPath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read device settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse device settings: %w", err)
	}
	return s, nil
}

// Update applies fn to the current settings and writes them back.
// Used by the external permission prompt and settings hand-off.
func (h *HostPlatform) Update(fn func(*DeviceSettings)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := h.readSettings()
	if err != nil {
		return err
	}
	fn(&s)

	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("encode device settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.SettingsPath), 0700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(h.SettingsPath, data, 0600); err != nil {
		return fmt.Errorf("write device settings: %w", err)
	}
	return nil
}

// LocationPermissionGranted implements Platform. Unreadable settings read as not granted.
func (h *HostPlatform) LocationPermissionGranted() bool {
	s, err := h.Settings()
	if err != nil {
		return false
	}
	return s.LocationPermission == PermissionStateGranted
}

// LocationServiceEnabled implements Platform.
func (h *HostPlatform) LocationServiceEnabled() bool {
	s, err := h.Settings()
	if err != nil {
		return false
	}
	return s.LocationEnabled
}

// DeveloperOptionsEnabled implements Platform. Unreadable settings count as
// enabled so a corrupted file cannot be used to skip the check.
func (h *HostPlatform) DeveloperOptionsEnabled() bool {
	if h.tracerPid != nil && h.tracerPid() != 0 {
		return true
	}
	s, err := h.Settings()
	if err != nil {
		return true
	}
	return s.DeveloperOptions
}

// SigningCertificate implements Platform. The first CERTIFICATE block of a
// PEM file is returned as DER; a file without PEM framing must already be DER.
func (h *HostPlatform) SigningCertificate() ([]byte, error) {
	if h.CertPath == "" {
		return nil, fmt.Errorf("no signing certificate configured")
	}
	data, err := os.ReadFile(h.CertPath)
	if err != nil {
		return nil, fmt.Errorf("read signing certificate: %w", err)
	}

	der := data
	if bytes.Contains(data, []byte("-----BEGIN")) {
		der = nil
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type == "CERTIFICATE" {
				der = block.Bytes
				break
			}
		}
		if der == nil {
			return nil, fmt.Errorf("no CERTIFICATE block in %s", h.CertPath)
		}
	}

	if _, err := x509.ParseCertificate(der); err != nil {
		return nil, fmt.Errorf("parse signing certificate: %w", err)
	}
	return der, nil
}

// detectTracerPid returns the TracerPid of the current process from
// /proc/self/status, or 0 when unknown.
func detectTracerPid() int {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "TracerPid:") {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "TracerPid:")))
		if err != nil {
			return 0
		}
		return pid
	}
	return 0
}
