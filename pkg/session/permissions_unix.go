//go:build unix

package session

import (
	"fmt"
	"os"
)

// checkFilePermissions verifies a file has owner-only access (0600 on Unix).
func checkFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		return fmt.Errorf("%w: got %04o, want 0600", ErrInvalidPermissions, mode)
	}
	return nil
}

func setFilePermissions(path string) error {
	return os.Chmod(path, 0600)
}
