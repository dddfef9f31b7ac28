package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wycats/bootsync/pkg/telemetry"
)

// reloadDelay debounces bursts of filesystem events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads user policies from a directory of .rego and .json files.
type Loader struct {
	mu      sync.RWMutex
	cache   map[string]*Policy
	logger  *telemetry.Logger
	watcher *fsnotify.Watcher
}

// NewLoader builds a loader. Logger may be nil.
func NewLoader(logger *telemetry.Logger) *Loader {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Loader{
		cache:  make(map[string]*Policy),
		logger: logger.NewComponentLogger("policy-loader"),
	}
}

// LoadDir loads every policy file under dir recursively. A missing
// directory is not an error, it just means no user policies. Files that
// fail to parse are logged and skipped so one bad file cannot take the
// rest down.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]Policy, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy path %s is not a directory", dir)
	}

	var policies []Policy
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		policy, err := l.loadFile(path)
		if err != nil {
			l.logger.WithError(err).Warnf("skipping policy file %s", path)
			return nil
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}

	l.logger.WithField("count", len(policies)).Debugf("user policies loaded from %s", dir)
	return policies, nil
}

// loadFile reads and parses one policy file, consulting the cache first.
func (l *Loader) loadFile(path string) (*Policy, error) {
	l.mu.RLock()
	cached, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy *Policy
	switch {
	case strings.HasSuffix(path, ".rego"):
		policy = parseRegoFile(path, data)
	case strings.HasSuffix(path, ".json"):
		policy, err = parseJSONFile(path, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}

	l.mu.Lock()
	l.cache[path] = policy
	l.mu.Unlock()
	return policy, nil
}

// ClearCache drops all cached parses so the next load rereads files.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Policy)
}

// Watch reloads policies from dir whenever a policy file changes. Each
// reload calls apply with the full fresh set. Watching stops when ctx is
// done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, dir string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	l.watcher = watcher

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	go l.processEvents(ctx, dir, apply)
	l.logger.Debugf("watching policy directory %s", dir)
	return nil
}

// processEvents debounces change events into full reloads.
func (l *Loader) processEvents(ctx context.Context, dir string, apply func([]Policy) error) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 || !isPolicyFile(event.Name) {
				continue
			}

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				policies, err := l.LoadDir(ctx, dir)
				if err != nil {
					l.logger.WithError(err).Errorf("failed to reload policies")
					return
				}
				if err := apply(policies); err != nil {
					l.logger.WithError(err).Errorf("failed to apply reloaded policies")
					return
				}
				l.logger.WithField("count", len(policies)).Infof("policies reloaded")
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.WithError(err).Errorf("policy watcher error")
		}
	}
}

// StopWatching closes the filesystem watcher.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

// parseRegoFile wraps raw Rego source in a Policy. The name comes from
// the filename and the description from any leading comment block.
func parseRegoFile(path string, data []byte) *Policy {
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
		Source:      path,
	}
}

// parseJSONFile decodes a full Policy document.
func parseJSONFile(path string, data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if policy.Name == "" {
		policy.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	policy.Source = path
	return &policy, nil
}

// extractDescription collects the comment block above the package line.
func extractDescription(source string) string {
	var description strings.Builder
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" {
				if description.Len() > 0 {
					description.WriteString(" ")
				}
				description.WriteString(comment)
			}
			continue
		}
		if trimmed != "" && description.Len() > 0 {
			break
		}
	}
	return description.String()
}
