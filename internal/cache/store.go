// Package cache provides a bounded, age-expiring conversation cache used to
// survive client restarts. Records are keyed by session id and persisted as
// one JSON blob on disk (read-modify-write, not an append log). The cache
// backs a convenience feature — resume-after-restart — so every storage or
// serialization failure degrades to "no data" instead of surfacing an error.
package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/calyptra/tether/internal/appdir"
	"github.com/calyptra/tether/internal/fileutil"
	"github.com/calyptra/tether/internal/logging"
)

const (
	// DefaultMaxRecords bounds how many conversations are kept.
	DefaultMaxRecords = 10

	// DefaultMaxAge bounds how old a kept conversation may be.
	DefaultMaxAge = 24 * time.Hour
)

// Metadata summarizes a cached conversation for list views.
type Metadata struct {
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
	Mode         string    `json:"mode,omitempty"`
	HasPackages  bool      `json:"has_packages"`
}

// Record is one cached conversation. Messages and Context are stored as raw
// JSON: the cache does not interpret conversation content.
type Record struct {
	SessionID string          `json:"session_id"`
	Messages  json.RawMessage `json:"messages"`
	Context   json.RawMessage `json:"context,omitempty"`
	SavedAt   time.Time       `json:"saved_at"`
	Metadata  Metadata        `json:"metadata"`
}

// Config contains Store tunables. Zero values fall back to the defaults.
type Config struct {
	// Path is the blob location. Empty means the platform-default
	// conversations file under the Tether data directory.
	Path string

	// MaxRecords bounds the number of kept records. Default: 10.
	MaxRecords int

	// MaxAge bounds record age; older records are dropped lazily on the
	// next read or write. Default: 24h.
	MaxAge time.Duration

	// Logger overrides the default cache component logger.
	Logger *slog.Logger
}

// Store is the conversation cache. Safe for concurrent use; every operation
// performs a full read-modify-write of the blob under one lock.
type Store struct {
	path       string
	maxRecords int
	maxAge     time.Duration
	logger     *slog.Logger

	mu sync.Mutex
}

// NewStore creates a Store. When cfg.Path is empty the platform-default
// location is used; an unresolvable data directory is the only error.
func NewStore(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		var err error
		path, err = appdir.ConversationsPath()
		if err != nil {
			return nil, err
		}
		if err := appdir.EnsureDir(); err != nil {
			return nil, err
		}
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Cache()
	}
	return &Store{
		path:       path,
		maxRecords: cfg.MaxRecords,
		maxAge:     cfg.MaxAge,
		logger:     logger,
	}, nil
}

// Save persists a conversation record. An existing record with the same
// session id is superseded, the new record goes first, and the list is
// truncated to the configured bounds. Failures are logged and swallowed.
func (s *Store) Save(rec Record) {
	if rec.SessionID == "" {
		return
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readLocked()
	kept := make([]Record, 0, len(records)+1)
	kept = append(kept, rec)
	for _, r := range records {
		if r.SessionID == rec.SessionID {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) > s.maxRecords {
		kept = kept[:s.maxRecords]
	}

	s.writeLocked(kept)
}

// LoadAll returns every cached record that has not outlived MaxAge, newest
// first. Expired records are filtered lazily; they stay in the blob until
// the next write rewrites it.
func (s *Store) LoadAll() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Load returns the cached record for a session id.
func (s *Store) Load(sessionID string) (Record, bool) {
	for _, r := range s.LoadAll() {
		if r.SessionID == sessionID {
			return r, true
		}
	}
	return Record{}, false
}

// Delete removes the record for a session id, rewriting the blob without it.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readLocked()
	kept := records[:0]
	for _, r := range records {
		if r.SessionID != sessionID {
			kept = append(kept, r)
		}
	}
	s.writeLocked(kept)
}

// Clear removes the blob entirely.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to clear conversation cache", "path", s.path, "error", err)
	}
}

// readLocked loads and age-filters the blob. Any failure — missing file,
// corrupt JSON — yields an empty list. Caller must hold s.mu.
func (s *Store) readLocked() []Record {
	var records []Record
	if err := fileutil.ReadJSON(s.path, &records); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read conversation cache, treating as empty",
				"path", s.path, "error", err)
		}
		return nil
	}

	cutoff := time.Now().Add(-s.maxAge)
	kept := records[:0]
	for _, r := range records {
		if r.SavedAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}

// writeLocked serializes the whole record list as one blob. Failures (quota,
// permissions) are logged and swallowed. Caller must hold s.mu.
func (s *Store) writeLocked(records []Record) {
	if records == nil {
		records = []Record{}
	}
	if err := fileutil.WriteJSONAtomic(s.path, records, 0644); err != nil {
		s.logger.Warn("failed to write conversation cache", "path", s.path, "error", err)
	}
}
