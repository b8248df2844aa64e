// internal/security/permissions.go
package security

import (
	"errors"
	"fmt"
	"os"
)

// ErrUnsafePermissions is returned when a rules directory or rule file can
// be modified by other users.
var ErrUnsafePermissions = errors.New("unsafe permissions")

// ValidateDirectoryPermissions rejects world-writable or group-writable
// rule directories. Anyone who can write there can install interventions.
func ValidateDirectoryPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking directory permissions: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	mode := info.Mode().Perm()
	if mode&0002 != 0 {
		return fmt.Errorf("%w: directory %s is world-writable (mode %04o), expected 0700 or 0750", ErrUnsafePermissions, path, mode)
	}
	if mode&0077 > 0050 {
		return fmt.Errorf("%w: directory %s has mode %04o, expected 0700 or 0750", ErrUnsafePermissions, path, mode)
	}
	return nil
}

// ValidateFilePermissions rejects world-writable files.
func ValidateFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}

	mode := info.Mode().Perm()
	if mode&0002 != 0 {
		return fmt.Errorf("%w: file %s is world-writable (mode %04o)", ErrUnsafePermissions, path, mode)
	}
	return nil
}

// ValidateSecretFilePermissions rejects files that other users can read,
// such as a config holding an API key.
func ValidateSecretFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}

	mode := info.Mode().Perm()
	if mode&0044 != 0 || mode&0022 != 0 {
		return fmt.Errorf("%w: %s holds credentials but has mode %04o, expected 0600", ErrUnsafePermissions, path, mode)
	}
	return nil
}
