package versioncheck

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CacheEntry is the last release seen, kept so the CLI does not query
// GitHub on every invocation.
type CacheEntry struct {
	// LatestVersion is the cached latest version (without v prefix).
	LatestVersion string `json:"latest_version"`
	// ReleaseURL is the URL to the release page.
	ReleaseURL string `json:"release_url"`
	// CheckedAt is when the version was last checked.
	CheckedAt time.Time `json:"checked_at"`
}

// IsValid returns true if the cache entry is fresh (within TTL).
func (c *CacheEntry) IsValid(ttl time.Duration) bool {
	if c == nil || c.LatestVersion == "" {
		return false
	}
	return time.Since(c.CheckedAt) < ttl
}

// ReadCacheFile reads a cache entry from the given file path.
func ReadCacheFile(path string) (*CacheEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse version cache: %w", err)
	}
	return &entry, nil
}

// WriteCacheFile writes a cache entry, creating parent directories.
// The file is replaced atomically so a concurrent reader never sees a
// partial entry.
func WriteCacheFile(path string, entry *CacheEntry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".version-cache-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
