// internal/security/permissions_test.go
package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateDirectoryPermissions(t *testing.T) {
	tests := []struct {
		mode    os.FileMode
		wantErr bool
	}{
		{0700, false},
		{0750, false},
		{0755, true},
		{0766, true},
		{0777, true},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		if err := os.Chmod(dir, tt.mode); err != nil {
			t.Fatalf("chmod failed: %v", err)
		}
		err := ValidateDirectoryPermissions(dir)
		if (err != nil) != tt.wantErr {
			t.Errorf("mode %04o: err = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrUnsafePermissions) {
			t.Errorf("mode %04o: expected ErrUnsafePermissions, got %v", tt.mode, err)
		}
	}
}

func TestValidateDirectoryPermissions_NonexistentDir(t *testing.T) {
	if err := ValidateDirectoryPermissions("/nonexistent/path/that/does/not/exist"); err == nil {
		t.Error("expected error for nonexistent directory")
	}
}

func TestValidateDirectoryPermissions_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.yaml")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ValidateDirectoryPermissions(path); err == nil {
		t.Error("expected error for regular file")
	}
}

func TestValidateFilePermissions(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok.yaml")
	bad := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(ok, []byte("test"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("test"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(bad, 0666); err != nil {
		t.Fatal(err)
	}

	if err := ValidateFilePermissions(ok); err != nil {
		t.Errorf("expected no error for 0644 file, got: %v", err)
	}
	if err := ValidateFilePermissions(bad); err == nil {
		t.Error("expected error for world-writable file")
	}
}

func TestValidateSecretFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api_key: x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ValidateSecretFilePermissions(path); err != nil {
		t.Errorf("expected no error for 0600, got: %v", err)
	}

	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}
	if err := ValidateSecretFilePermissions(path); err == nil {
		t.Error("expected error for world-readable config")
	}
}
