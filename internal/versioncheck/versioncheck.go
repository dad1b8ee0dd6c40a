// Package versioncheck tells the user when a newer docgate release exists.
// It fetches the latest release from GitHub, caches it for a day, and
// suggests an upgrade command based on how the binary was installed.
package versioncheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// ToolName is the binary and package name.
const ToolName = "docgate"

// InstallMethod indicates how the CLI was installed.
type InstallMethod int

const (
	// DirectDownload is the default fallback when no package manager detected.
	DirectDownload InstallMethod = iota
	// Homebrew indicates the tool was installed via Homebrew.
	Homebrew
	// Apt indicates the tool was installed via apt (Debian/Ubuntu).
	Apt
	// Rpm indicates the tool was installed via rpm/dnf (RHEL/Fedora).
	Rpm
	// Docker indicates the tool is running inside a container.
	Docker
)

// String returns a human-readable name for the install method.
func (m InstallMethod) String() string {
	switch m {
	case DirectDownload:
		return "direct-download"
	case Homebrew:
		return "homebrew"
	case Apt:
		return "apt"
	case Rpm:
		return "rpm"
	case Docker:
		return "docker"
	default:
		return "unknown"
	}
}

// CheckResult contains the result of a version check.
type CheckResult struct {
	CurrentVersion  string `json:"current_version" yaml:"current_version"`
	LatestVersion   string `json:"latest_version,omitempty" yaml:"latest_version,omitempty"`
	ReleaseURL      string `json:"release_url,omitempty" yaml:"release_url,omitempty"`
	UpdateAvailable bool   `json:"update_available" yaml:"update_available"`
	InstallMethod   string `json:"install_method" yaml:"install_method"`
	UpgradeCommand  string `json:"upgrade_command,omitempty" yaml:"upgrade_command,omitempty"`
	FromCache       bool   `json:"from_cache" yaml:"from_cache"`

	// Error is set when the fetch failed. The result may still carry
	// stale cached data.
	Error error `json:"-" yaml:"-"`
}

// Notice returns the upgrade hint printed after `docgate version --check`,
// or "" when no update is available.
func (r *CheckResult) Notice() string {
	if r == nil || !r.UpdateAvailable {
		return ""
	}
	msg := fmt.Sprintf("A new version of %s is available: v%s (current: %s)",
		ToolName, stripVPrefix(r.LatestVersion), NormalizeVersion(r.CurrentVersion))
	if r.UpgradeCommand != "" {
		msg += "\nUpgrade: " + r.UpgradeCommand
	}
	if r.ReleaseURL != "" {
		msg += "\nRelease notes: " + r.ReleaseURL
	}
	return msg
}

// Checker performs version checks with caching support.
type Checker struct {
	GitHubClient *GitHubClient
	CachePath    string
	CacheTTL     time.Duration

	// DetectInstall defaults to DetectInstallMethod.
	DetectInstall func() InstallMethod
}

// NewChecker creates a new Checker with default settings.
func NewChecker() *Checker {
	return &Checker{
		GitHubClient: NewGitHubClient(DefaultGitHubAPI),
		CachePath:    GetCachePath(),
		CacheTTL:     24 * time.Hour,
	}
}

// Check performs a version check for the given current version.
// It uses cache when valid, and falls back to stale cache on fetch errors.
func (c *Checker) Check(ctx context.Context, currentVersion string) *CheckResult {
	detect := c.DetectInstall
	if detect == nil {
		detect = DetectInstallMethod
	}
	method := detect()
	result := &CheckResult{
		CurrentVersion: currentVersion,
		InstallMethod:  method.String(),
	}

	cached, cacheErr := ReadCacheFile(c.CachePath)
	if cacheErr == nil && cached.IsValid(c.CacheTTL) {
		result.LatestVersion = cached.LatestVersion
		result.ReleaseURL = cached.ReleaseURL
		result.FromCache = true
	} else {
		release, fetchErr := c.GitHubClient.FetchLatestRelease(ctx)
		if fetchErr != nil {
			result.Error = fetchErr
			if cacheErr == nil && cached.LatestVersion != "" {
				result.LatestVersion = cached.LatestVersion
				result.ReleaseURL = cached.ReleaseURL
				result.FromCache = true
			}
			if result.LatestVersion == "" {
				return result
			}
		} else {
			result.LatestVersion = stripVPrefix(release.TagName)
			result.ReleaseURL = release.HTMLURL

			// A failed cache write only costs a refetch next time.
			_ = WriteCacheFile(c.CachePath, &CacheEntry{
				LatestVersion: result.LatestVersion,
				ReleaseURL:    result.ReleaseURL,
				CheckedAt:     time.Now().UTC(),
			})
		}
	}

	result.UpdateAvailable = IsNewerVersion(currentVersion, result.LatestVersion)
	if result.UpdateAvailable {
		result.UpgradeCommand = GetUpgradeCommand(method, result.LatestVersion)
	}
	return result
}

// DetectInstallMethod determines how the CLI was installed by examining
// the executable path and system markers.
func DetectInstallMethod() InstallMethod {
	execPath, err := os.Executable()
	if err != nil {
		return DirectDownload
	}
	return DetectInstallMethodFromPath(execPath)
}

// DetectInstallMethodFromPath determines install method from a given path.
func DetectInstallMethodFromPath(execPath string) InstallMethod {
	if strings.Contains(execPath, "/Cellar/") || strings.Contains(execPath, "/homebrew/") {
		return Homebrew
	}
	if _, err := os.Stat("/var/lib/dpkg/info/" + ToolName + ".list"); err == nil {
		return Apt
	}
	if execPath == "/usr/bin/"+ToolName {
		if _, err := os.Stat("/var/lib/rpm"); err == nil {
			return Rpm
		}
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return Docker
	}
	return DirectDownload
}

// GetUpgradeCommand returns the upgrade command for the install method.
func GetUpgradeCommand(method InstallMethod, newVersion string) string {
	switch method {
	case Homebrew:
		return "brew upgrade gobeyondidentity/tap/" + ToolName
	case Apt:
		return "sudo apt update && sudo apt upgrade " + ToolName
	case Rpm:
		return "sudo dnf upgrade " + ToolName
	case Docker:
		return "docker pull ghcr.io/" + DefaultRepo + ":" + stripVPrefix(newVersion)
	default:
		return "Download from https://github.com/" + DefaultRepo + "/releases"
	}
}

// IsNewerVersion returns true if latest is newer than current.
// Uses semantic versioning comparison, handling v prefix and pre-releases.
func IsNewerVersion(current, latest string) bool {
	currentNorm := NormalizeVersion(current)
	latestNorm := NormalizeVersion(latest)

	if !semver.IsValid(currentNorm) || !semver.IsValid(latestNorm) {
		return false
	}
	return semver.Compare(currentNorm, latestNorm) < 0
}

// NormalizeVersion ensures a version string has the v prefix required by semver.
func NormalizeVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func stripVPrefix(v string) string {
	return strings.TrimPrefix(v, "v")
}

// GetCachePath returns the path to the version cache file under
// XDG_CACHE_HOME, falling back to ~/.cache.
func GetCachePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), ToolName, "version-cache.json")
		}
		cacheDir = filepath.Join(homeDir, ".cache")
	}
	return filepath.Join(cacheDir, ToolName, "version-cache.json")
}
