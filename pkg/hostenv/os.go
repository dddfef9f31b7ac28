package hostenv

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// bootIDPath is where the kernel exposes the per-boot identifier.
const bootIDPath = "/proc/sys/kernel/random/boot_id"

// OS is the production Environment backed by the real operating system.
type OS struct{}

// NewOS creates the production environment.
func NewOS() *OS {
	return &OS{}
}

// BootID reads the kernel boot identifier.
func (*OS) BootID() (string, error) {
	data, err := os.ReadFile(bootIDPath)
	if err != nil {
		return "", fmt.Errorf("failed to read boot id: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("empty boot id in %s", bootIDPath)
	}
	return id, nil
}

// Hostname returns the machine hostname.
func (*OS) Hostname() (string, error) {
	return os.Hostname()
}

// Getenv returns the value of an environment variable.
func (*OS) Getenv(key string) string {
	return os.Getenv(key)
}

// ConfigDir returns the per-user configuration directory.
func (*OS) ConfigDir() (string, error) {
	return os.UserConfigDir()
}

// StateDir returns the per-user state directory, honoring XDG_STATE_HOME.
func (*OS) StateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state"), nil
}

// ReadFile reads the named file.
func (*OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFileAtomic writes via a temporary file in the target directory followed
// by a rename, so readers observe either the old content or the new, never a
// truncated mix.
func (*OS) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}

// MkdirAll creates a directory and any missing parents.
func (*OS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Stat returns file metadata.
func (*OS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// Remove deletes the named file.
func (*OS) Remove(path string) error {
	return os.Remove(path)
}

// ReadDir lists a directory in name order.
func (*OS) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}
