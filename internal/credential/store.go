package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store merges environment keys with the persisted key file.
//
// Mutations hold the store mutex across read, modify and write, so two
// concurrent creates never lose one another. Reads do not take the mutex;
// the atomic rename guarantees they see either the old or the new file.
type Store struct {
	path   string
	envVar string
	mu     sync.Mutex
	logger Logger
}

// NewStore creates a store backed by the file at path and the environment
// variable envVar. Neither needs to exist yet.
func NewStore(path, envVar string) *Store {
	return &Store{
		path:   path,
		envVar: envVar,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Path returns the key file location.
func (s *Store) Path() string {
	return s.path
}

// envKeys parses the environment list: comma-separated, trimmed, empty
// entries dropped.
func (s *Store) envKeys() []string {
	raw := os.Getenv(s.envVar)
	if raw == "" {
		return nil
	}
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// load reads the key file. A missing or empty file is an empty set.
func (s *Store) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStorage, s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrStorage, s.path, err)
	}
	return records, nil
}

// loadOrDegrade reads the key file for the read paths. Failures are logged
// and treated as no persisted keys.
func (s *Store) loadOrDegrade() []Record {
	records, err := s.load()
	if err != nil {
		s.logger.Error("key file unreadable, using environment keys only", "path", s.path, "error", err)
		return nil
	}
	return records
}

// ListAll returns every valid key value, environment keys first, with
// duplicates removed. The file is re-read on each call.
func (s *Store) ListAll() []string {
	seen := make(map[string]struct{})
	var keys []string

	add := func(k string) {
		if k == "" {
			return
		}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, k := range s.envKeys() {
		add(k)
	}
	for _, r := range s.loadOrDegrade() {
		add(r.Key)
	}
	return keys
}

// HasAny reports whether at least one key is configured in either source.
func (s *Store) HasAny() bool {
	return len(s.ListAll()) > 0
}

// Validate resolves a presented key to the identity it belongs to.
// Comparison is constant-time per candidate. The file is re-read on each call.
func (s *Store) Validate(presented string) (Identity, bool) {
	if presented == "" {
		return Identity{}, false
	}

	var (
		found Identity
		ok    bool
	)
	check := func(candidate string, id Identity) {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(presented)) == 1 && !ok {
			found, ok = id, true
		}
	}

	for i, k := range s.envKeys() {
		check(k, Identity{ID: envID(i), Name: envName(i), Source: SourceEnv})
	}
	for _, r := range s.loadOrDegrade() {
		check(r.Key, Identity{ID: r.ID, Name: r.Name, Source: SourceFile})
	}
	return found, ok
}

// List returns masked views of every key, environment keys first.
// Unlike the read paths used for authentication, a broken key file is
// reported as ErrStorage here.
func (s *Store) List() ([]View, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}

	env := s.envKeys()
	views := make([]View, 0, len(env)+len(records))
	for i, k := range env {
		views = append(views, View{
			ID:        envID(i),
			Name:      envName(i),
			KeyPrefix: Mask(k),
			Source:    SourceEnv,
		})
	}
	for _, r := range records {
		created := r.CreatedAt
		views = append(views, View{
			ID:        r.ID,
			Name:      r.Name,
			KeyPrefix: Mask(r.Key),
			Source:    SourceFile,
			CreatedAt: &created,
		})
	}
	return views, nil
}

// Create generates a new key, persists it and returns the full record.
// This is the only time the raw key value is returned.
func (s *Store) Create(name string) (Record, error) {
	return s.create(name, false)
}

// CreateFirst is Create for setup mode. It fails with ErrSetupClosed unless
// no key exists in either source, checked under the same lock as the write.
func (s *Store) CreateFirst(name string) (Record, error) {
	return s.create(name, true)
}

func (s *Store) create(name string, first bool) (Record, error) {
	name, err := normaliseName(name, true)
	if err != nil {
		return Record{}, err
	}

	key, err := generateKey()
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:        uuid.NewString(),
		Name:      name,
		Key:       key,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return Record{}, err
	}
	if first && (len(s.envKeys()) > 0 || len(records) > 0) {
		return Record{}, ErrSetupClosed
	}
	records = append(records, rec)
	if err := s.persist(records); err != nil {
		return Record{}, err
	}

	s.logger.Info("api key created", "key_id", rec.ID, "name", rec.Name, "key_prefix", Mask(rec.Key))
	return rec, nil
}

// Delete removes a persisted key.
func (s *Store) Delete(id string) error {
	if s.isEnvID(id) {
		return ErrEnvironmentKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	idx := indexOf(records, id)
	if idx < 0 {
		return ErrKeyNotFound
	}
	removed := records[idx]
	records = append(records[:idx], records[idx+1:]...)

	if err := s.persist(records); err != nil {
		return err
	}

	s.logger.Info("api key deleted", "key_id", id, "name", removed.Name)
	return nil
}

// Rename changes the display name of a persisted key and returns its view.
func (s *Store) Rename(id, name string) (View, error) {
	name, err := normaliseName(name, false)
	if err != nil {
		return View{}, err
	}
	if s.isEnvID(id) {
		return View{}, ErrEnvironmentKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return View{}, err
	}

	idx := indexOf(records, id)
	if idx < 0 {
		return View{}, ErrKeyNotFound
	}
	records[idx].Name = name

	if err := s.persist(records); err != nil {
		return View{}, err
	}

	r := records[idx]
	created := r.CreatedAt
	s.logger.Info("api key renamed", "key_id", id, "name", name)
	return View{ID: r.ID, Name: r.Name, KeyPrefix: Mask(r.Key), Source: SourceFile, CreatedAt: &created}, nil
}

// persist replaces the key file with records. Caller must hold s.mu.
//
// The data is written to a temp file in the same directory, synced, then
// renamed over the target, so the target is never truncated or partial.
func (s *Store) persist(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding keys: %w", ErrStorage, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrStorage, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrStorage, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()        //nolint:errcheck // already failing
			os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		}
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: writing temp file: %w", ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing temp file: %w", ErrStorage, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("%w: setting permissions: %w", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %w", ErrStorage, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replacing %s: %w", ErrStorage, s.path, err)
	}
	committed = true
	return nil
}

// isEnvID reports whether id names a currently configured environment key.
func (s *Store) isEnvID(id string) bool {
	rest, ok := strings.CutPrefix(id, envIDPrefix)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(rest)
	return err == nil && n >= 1 && n <= len(s.envKeys())
}

func envID(i int) string {
	return envIDPrefix + strconv.Itoa(i+1)
}

func envName(i int) string {
	return "Environment key " + strconv.Itoa(i+1)
}

func indexOf(records []Record, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

// normaliseName trims a key name. On create an empty name falls back to
// DefaultName; on rename it is an error.
func normaliseName(name string, allowDefault bool) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if allowDefault {
			return DefaultName, nil
		}
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	return name, nil
}

// generateKey returns 32 random bytes, hex-encoded.
func generateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
