package hostenv

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Mem is an in-memory Environment for tests. It records every write so tests
// can assert that dry runs touch nothing.
type Mem struct {
	mu       sync.Mutex
	files    map[string][]byte
	modes    map[string]os.FileMode
	dirs     map[string]bool
	env      map[string]string
	bootID   string
	hostname string
	writes   []string
}

// NewMem creates an empty in-memory environment with a fixed boot id.
func NewMem() *Mem {
	return &Mem{
		files:    make(map[string][]byte),
		modes:    make(map[string]os.FileMode),
		dirs:     map[string]bool{"/": true},
		env:      make(map[string]string),
		bootID:   "boot-0",
		hostname: "testhost",
	}
}

// SetBootID overrides the boot id, simulating a reboot.
func (m *Mem) SetBootID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootID = id
}

// Setenv sets an environment variable.
func (m *Mem) Setenv(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.env[key] = value
}

// AddFile seeds a file without recording it as a write.
func (m *Mem) AddFile(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
	m.modes[path] = 0o644
	m.addParents(path)
}

// Writes returns the paths written through WriteFileAtomic, in order.
func (m *Mem) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

// BootID returns the configured boot id.
func (m *Mem) BootID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bootID, nil
}

// Hostname returns the configured hostname.
func (m *Mem) Hostname() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostname, nil
}

// Getenv returns a seeded environment variable.
func (m *Mem) Getenv(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.env[key]
}

// ConfigDir returns a fixed in-memory config directory.
func (m *Mem) ConfigDir() (string, error) {
	return "/home/test/.config", nil
}

// StateDir returns a fixed in-memory state directory.
func (m *Mem) StateDir() (string, error) {
	return "/home/test/.local/state", nil
}

// ReadFile returns a seeded or previously written file.
func (m *Mem) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

// WriteFileAtomic stores the file and records the write.
func (m *Mem) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
	m.modes[path] = perm
	m.addParents(path)
	m.writes = append(m.writes, path)
	return nil
}

// MkdirAll records the directory and its parents.
func (m *Mem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
	m.addParents(path + "/x")
	return nil
}

// Stat reports on a seeded file or directory.
func (m *Mem) Stat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.files[path]; ok {
		return memInfo{name: filepath.Base(path), size: int64(len(data)), mode: m.modes[path]}, nil
	}
	if m.dirs[path] {
		return memInfo{name: filepath.Base(path), mode: fs.ModeDir | 0o755, dir: true}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
}

// Remove deletes a seeded file.
func (m *Mem) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrNotExist}
	}
	delete(m.files, path)
	delete(m.modes, path)
	return nil
}

// ReadDir lists direct children of a directory in name order.
func (m *Mem) ReadDir(path string) ([]fs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirs[path] {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: fs.ErrNotExist}
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	seen := make(map[string]bool)
	var entries []fs.DirEntry
	for name := range m.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		if !seen[rest] {
			seen[rest] = true
			entries = append(entries, memEntry{name: rest})
		}
	}
	for dir := range m.dirs {
		if !strings.HasPrefix(dir, prefix) {
			continue
		}
		rest := strings.TrimPrefix(dir, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		if !seen[rest] {
			seen[rest] = true
			entries = append(entries, memEntry{name: rest, dir: true})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// addParents marks every ancestor directory of path as existing. Callers hold
// the lock.
func (m *Mem) addParents(path string) {
	dir := filepath.Dir(path)
	for dir != "/" && dir != "." && !m.dirs[dir] {
		m.dirs[dir] = true
		dir = filepath.Dir(dir)
	}
}

type memInfo struct {
	name string
	size int64
	mode fs.FileMode
	dir  bool
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() fs.FileMode  { return i.mode }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() any           { return nil }

type memEntry struct {
	name string
	dir  bool
}

func (e memEntry) Name() string { return e.name }
func (e memEntry) IsDir() bool  { return e.dir }

func (e memEntry) Type() fs.FileMode {
	if e.dir {
		return fs.ModeDir
	}
	return 0
}

func (e memEntry) Info() (fs.FileInfo, error) {
	if e.dir {
		return memInfo{name: e.name, mode: fs.ModeDir | 0o755, dir: true}, nil
	}
	return memInfo{name: e.name, mode: 0o644}, nil
}
