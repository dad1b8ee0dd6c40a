//go:build !unix

package session

// File mode bits are not meaningful here; the file is written with the
// default ACL of the user's profile directory.
func checkFilePermissions(string) error { return nil }

func setFilePermissions(string) error { return nil }
