// Package hostenv provides the environment capability bootsync runs against:
// process metadata (boot id, hostname, env vars), well-known directories, and
// the small filesystem surface the core touches. Everything above this package
// receives an Environment through its constructor; nothing reaches for package
// os directly. An in-memory implementation backs tests.
package hostenv

import (
	"io/fs"
	"os"
)

// Environment is the capability injected into every component that needs to
// observe or touch the local machine.
type Environment interface {
	// BootID returns a stable identifier for the current boot. It changes on
	// every reboot and never within one.
	BootID() (string, error)

	// Hostname returns the machine hostname.
	Hostname() (string, error)

	// Getenv returns the value of an environment variable, or "" if unset.
	Getenv(key string) string

	// ConfigDir returns the per-user configuration directory
	// (typically ~/.config).
	ConfigDir() (string, error)

	// StateDir returns the per-user state directory
	// (typically ~/.local/state).
	StateDir() (string, error)

	// ReadFile reads the named file.
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to path so that a crash mid-write can never
	// leave a partially written file: the data lands in a temporary file in
	// the same directory and is renamed into place.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file metadata. Callers use os.IsNotExist on the error to
	// probe existence.
	Stat(path string) (fs.FileInfo, error)

	// Remove deletes the named file.
	Remove(path string) error

	// ReadDir lists a directory in name order.
	ReadDir(path string) ([]fs.DirEntry, error)
}
