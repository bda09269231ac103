package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"market-platform/src/config"
	"market-platform/src/logger"
	"market-platform/src/models"

	"github.com/gofrs/flock"
)

const lockRetry = 25 * time.Millisecond

// Store is the file-backed user-settings document. Writers hold an
// exclusive flock; readers hold a shared one and reuse the last decoded
// document while the file's mtime and size are unchanged.
type Store struct {
	path            string
	lock            *flock.Flock
	credentialNames []string
	logger          *logger.Logger

	mu     sync.Mutex
	cached *models.MUserSettings
	mtime  time.Time
	size   int64
}

// -----------------------------------------------------------------------------

// NewStore returns a store for path. credentialNames are the provider
// credentials that may be filled from the environment when absent.
func NewStore(path string, credentialNames []string) *Store {
	return &Store{
		path:            path,
		lock:            flock.New(path + ".lock"),
		credentialNames: append([]string(nil), credentialNames...),
		logger:          logger.NewLogger(nil, "UserSettings"),
	}
}

// -----------------------------------------------------------------------------

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// -----------------------------------------------------------------------------

// Load returns a private copy of the settings with environment credentials
// overlaid. A missing file yields empty settings.
func (s *Store) Load(ctx context.Context) (*models.MUserSettings, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	out := clone(doc)
	s.overlayEnv(out)
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *Store) read(ctx context.Context) (*models.MUserSettings, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("user settings: %w", err)
	}

	s.mu.Lock()
	if s.cached != nil && info.ModTime().Equal(s.mtime) && info.Size() == s.size {
		doc := s.cached
		s.mu.Unlock()
		return doc, nil
	}
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("user settings: %w", err)
	}
	locked, err := s.lock.TryRLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("user settings: lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("user settings: lock %s not acquired", s.lock.Path())
	}
	defer s.lock.Unlock()

	info, err = os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("user settings: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("user settings: %w", err)
	}
	doc := empty()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("user settings: decode %s: %w", s.path, err)
		}
	}
	fill(doc)

	s.mu.Lock()
	s.cached, s.mtime, s.size = doc, info.ModTime(), info.Size()
	s.mu.Unlock()
	s.logger.Debug("Loaded user settings from %s", s.path)
	return doc, nil
}

// -----------------------------------------------------------------------------

// Save replaces the document on disk. Credentials that only came from the
// environment are not persisted unless the caller set them explicitly.
func (s *Store) Save(ctx context.Context, doc *models.MUserSettings) error {
	return s.withWriteLock(ctx, func() error { return s.write(doc) })
}

// -----------------------------------------------------------------------------

// Update applies fn to the current document under the exclusive lock.
func (s *Store) Update(ctx context.Context, fn func(*models.MUserSettings) error) error {
	return s.withWriteLock(ctx, func() error {
		s.mu.Lock()
		s.cached = nil
		s.mu.Unlock()

		doc := empty()
		data, err := os.ReadFile(s.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("user settings: %w", err)
		case len(strings.TrimSpace(string(data))) > 0:
			if err := json.Unmarshal(data, doc); err != nil {
				return fmt.Errorf("user settings: decode %s: %w", s.path, err)
			}
		}
		fill(doc)
		if err := fn(doc); err != nil {
			return err
		}
		return s.write(doc)
	})
}

// -----------------------------------------------------------------------------

// SetCommandDefaults stores defaults for one logical command path.
func (s *Store) SetCommandDefaults(ctx context.Context, path string, defaults map[string]any) error {
	return s.Update(ctx, func(doc *models.MUserSettings) error {
		if len(defaults) == 0 {
			delete(doc.Defaults.Commands, path)
			return nil
		}
		doc.Defaults.Commands[path] = defaults
		return nil
	})
}

// SetCredential stores one credential value.
func (s *Store) SetCredential(ctx context.Context, name, value string) error {
	return s.Update(ctx, func(doc *models.MUserSettings) error {
		doc.Credentials[name] = value
		return nil
	})
}

// -----------------------------------------------------------------------------

func (s *Store) withWriteLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("user settings: %w", err)
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("user settings: lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("user settings: lock %s not acquired", s.lock.Path())
	}
	defer s.lock.Unlock()
	return fn()
}

// -----------------------------------------------------------------------------

// write goes through a temp file and a rename so readers never see a
// partial document.
func (s *Store) write(doc *models.MUserSettings) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("user settings: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("user settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("user settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("user settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("user settings: %w", err)
	}

	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
	s.logger.Info("Saved user settings to %s", s.path)
	return nil
}

// -----------------------------------------------------------------------------

// overlayEnv fills absent credentials from MARKET_PLATFORM_<NAME> or <NAME>.
func (s *Store) overlayEnv(doc *models.MUserSettings) {
	for _, name := range s.credentialNames {
		if v := doc.Credentials[name]; v != "" {
			continue
		}
		upper := strings.ToUpper(name)
		for _, key := range []string{config.EnvPrefix + "_" + upper, upper} {
			if v, ok := os.LookupEnv(key); ok && v != "" {
				doc.Credentials[name] = v
				break
			}
		}
	}
}

// -----------------------------------------------------------------------------

func empty() *models.MUserSettings {
	doc := &models.MUserSettings{}
	fill(doc)
	return doc
}

func fill(doc *models.MUserSettings) {
	if doc.Credentials == nil {
		doc.Credentials = make(map[string]string)
	}
	if doc.Defaults.Commands == nil {
		doc.Defaults.Commands = make(map[string]map[string]any)
	}
}

// clone deep-copies doc so callers can mutate their copy freely.
func clone(doc *models.MUserSettings) *models.MUserSettings {
	data, err := json.Marshal(doc)
	out := empty()
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, out); err != nil {
		return empty()
	}
	fill(out)
	return out
}
