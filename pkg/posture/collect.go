// Package posture provides the local device probes evaluated before any
// remote attestation call: location permission, location service state,
// developer/debug mode detection, and the signing certificate digest.
package posture

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrSignatureUnavailable indicates the signing certificate could not be read.
// This is a local failure, distinct from the remote authority rejecting a digest.
var ErrSignatureUnavailable = errors.New("could not get app signature")

// Platform exposes the OS/runtime state read by the probes.
// Implementations must not mutate state when queried.
type Platform interface {
	// LocationPermissionGranted reports whether fine-grained location access is granted.
	LocationPermissionGranted() bool

	// LocationServiceEnabled reports whether the OS location provider is active.
	LocationServiceEnabled() bool

	// DeveloperOptionsEnabled reports whether developer/debug mode is on.
	DeveloperOptionsEnabled() bool

	// SigningCertificate returns the DER bytes of the application's signing certificate.
	SigningCertificate() ([]byte, error)
}

// PermissionGranted is the permission probe.
func PermissionGranted(p Platform) bool {
	return p.LocationPermissionGranted()
}

// LocationServiceEnabled is the location-service probe.
func LocationServiceEnabled(p Platform) bool {
	return p.LocationServiceEnabled()
}

// Tampered is the tamper probe. True means the device must not proceed.
func Tampered(p Platform) bool {
	return p.DeveloperOptionsEnabled()
}

// SignatureDigest returns the lowercase hex SHA-256 of the certificate bytes.
func SignatureDigest(cert []byte) string {
	sum := sha256.Sum256(cert)
	return hex.EncodeToString(sum[:])
}

// LocalSignature reads the signing certificate and returns its digest.
// Any platform error is reported as ErrSignatureUnavailable.
func LocalSignature(p Platform) (string, error) {
	cert, err := p.SigningCertificate()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureUnavailable, err)
	}
	if len(cert) == 0 {
		return "", fmt.Errorf("%w: empty certificate", ErrSignatureUnavailable)
	}
	return SignatureDigest(cert), nil
}

// Posture is a snapshot of every probe plus host identification, recorded
// alongside each pipeline run.
type Posture struct {
	LocationPermission bool   `json:"location_permission"`
	LocationService    bool   `json:"location_service"`
	DeveloperOptions   bool   `json:"developer_options"`
	SignatureSHA256    string `json:"signature_sha256"` // "" when unavailable
	OSVersion          string `json:"os_version"`
	KernelVersion      string `json:"kernel_version"`
}

// Collect gathers a posture snapshot from the platform and the current host.
func Collect(p Platform) *Posture {
	out := &Posture{
		LocationPermission: p.LocationPermissionGranted(),
		LocationService:    p.LocationServiceEnabled(),
		DeveloperOptions:   p.DeveloperOptionsEnabled(),
		OSVersion:          detectOSVersion(),
		KernelVersion:      detectKernelVersion(),
	}
	if sig, err := LocalSignature(p); err == nil {
		out.SignatureSHA256 = sig
	}
	return out
}

// Hash computes a deterministic SHA256 hash of the posture data.
// Fields are rendered in alphabetical order of their names.
func (p *Posture) Hash() string {
	data := fmt.Sprintf("developer_options=%t,kernel_version=%s,location_permission=%t,location_service=%t,os_version=%s,signature_sha256=%s",
		p.DeveloperOptions, p.KernelVersion, p.LocationPermission, p.LocationService, p.OSVersion, p.SignatureSHA256)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// detectOSVersion reads the PRETTY_NAME from /etc/os-release.
func detectOSVersion() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			value := strings.TrimPrefix(line, "PRETTY_NAME=")
			return strings.Trim(value, "\"")
		}
	}
	return ""
}

// detectKernelVersion runs uname -r to get the kernel version.
func detectKernelVersion() string {
	out, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
