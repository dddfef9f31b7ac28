package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wycats/bootsync/pkg/hostenv"
)

// envelope is the on-disk JSON shape of one manifest file.
type envelope struct {
	Version   int    `json:"version"`
	Subsystem string `json:"subsystem"`
	Items     []Item `json:"items"`
}

// FileStore persists manifests as one JSON file per subsystem and variant:
// user manifests directly under the manifest directory, system manifests
// under its system/ child. Missing files load as empty manifests. All writes
// go through the environment's atomic write.
type FileStore struct {
	env     hostenv.Environment
	dir     string
	schemas *SchemaRegistry
}

// NewFileStore creates a store rooted at dir. The schema registry may be nil
// to skip validation.
func NewFileStore(env hostenv.Environment, dir string, schemas *SchemaRegistry) *FileStore {
	return &FileStore{env: env, dir: dir, schemas: schemas}
}

// Dir returns the manifest directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// UserPath returns the user manifest path for a subsystem.
func (s *FileStore) UserPath(subsystem string) string {
	return filepath.Join(s.dir, subsystem+".json")
}

// SystemPath returns the system manifest path for a subsystem.
func (s *FileStore) SystemPath(subsystem string) string {
	return filepath.Join(s.dir, "system", subsystem+".json")
}

// LoadUser loads the mutable user manifest.
func (s *FileStore) LoadUser(subsystem string) (*Manifest, error) {
	return s.load(subsystem, s.UserPath(subsystem))
}

// LoadSystem loads the read-only system seed manifest.
func (s *FileStore) LoadSystem(subsystem string) (*Manifest, error) {
	return s.load(subsystem, s.SystemPath(subsystem))
}

// LoadMerged loads both variants and merges them with user precedence.
func (s *FileStore) LoadMerged(subsystem string) (*Manifest, error) {
	system, err := s.LoadSystem(subsystem)
	if err != nil {
		return nil, err
	}
	user, err := s.LoadUser(subsystem)
	if err != nil {
		return nil, err
	}
	return Merge(system, user), nil
}

// SaveUser writes the user manifest atomically, validating it first when a
// schema registry is configured.
func (s *FileStore) SaveUser(subsystem string, m *Manifest) error {
	doc := envelope{
		Version:   FormatVersion,
		Subsystem: subsystem,
		Items:     m.Items(),
	}
	if doc.Items == nil {
		doc.Items = []Item{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest %s: %w", subsystem, err)
	}
	data = append(data, '\n')

	if s.schemas != nil {
		if err := s.schemas.ValidateEnvelope(subsystem, data); err != nil {
			return fmt.Errorf("refusing to save invalid manifest %s: %w", subsystem, err)
		}
	}

	if err := s.env.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := s.env.WriteFileAtomic(s.UserPath(subsystem), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", subsystem, err)
	}
	return nil
}

// load reads and validates one manifest file. A missing file is an empty
// manifest, not an error.
func (s *FileStore) load(subsystem, path string) (*Manifest, error) {
	data, err := s.env.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	if s.schemas != nil {
		if err := s.schemas.ValidateEnvelope(subsystem, data); err != nil {
			return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
		}
	}

	var doc envelope
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed manifest %s: %w", path, err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("manifest %s has unsupported version %d", path, doc.Version)
	}
	if doc.Subsystem != subsystem {
		return nil, fmt.Errorf("manifest %s declares subsystem %q, expected %q", path, doc.Subsystem, subsystem)
	}

	m, err := FromItems(doc.Items)
	if err != nil {
		return nil, fmt.Errorf("malformed manifest %s: %w", path, err)
	}
	return m, nil
}
