package cache

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, maxRecords int, maxAge time.Duration) *Store {
	t.Helper()
	s, err := NewStore(Config{
		Path:       filepath.Join(t.TempDir(), "conversations.json"),
		MaxRecords: maxRecords,
		MaxAge:     maxAge,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func record(sessionID string, savedAt time.Time) Record {
	return Record{
		SessionID: sessionID,
		Messages:  json.RawMessage(`[{"role":"user","text":"hi"}]`),
		SavedAt:   savedAt,
		Metadata:  Metadata{MessageCount: 1, LastActivity: savedAt},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t, 10, time.Hour)

	s.Save(record("s1", time.Now()))

	rec, ok := s.Load("s1")
	if !ok {
		t.Fatal("Load did not find the saved record")
	}
	if rec.Metadata.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", rec.Metadata.MessageCount)
	}
	if string(rec.Messages) != `[{"role":"user","text":"hi"}]` {
		t.Errorf("Messages = %s", rec.Messages)
	}

	if _, ok := s.Load("unknown"); ok {
		t.Error("Load found a record that was never saved")
	}
}

func TestSaveSupersedesSameSession(t *testing.T) {
	s := newTestStore(t, 10, time.Hour)

	s.Save(record("s1", time.Now().Add(-time.Minute)))
	updated := record("s1", time.Now())
	updated.Metadata.MessageCount = 5
	s.Save(updated)

	all := s.LoadAll()
	if len(all) != 1 {
		t.Fatalf("LoadAll returned %d records, want 1", len(all))
	}
	if all[0].Metadata.MessageCount != 5 {
		t.Errorf("MessageCount = %d, want the superseding record", all[0].Metadata.MessageCount)
	}
}

func TestSaveEvictsOldestBeyondBound(t *testing.T) {
	s := newTestStore(t, 3, time.Hour)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		s.Save(record(id, time.Now()))
	}

	all := s.LoadAll()
	if len(all) != 3 {
		t.Fatalf("LoadAll returned %d records, want 3", len(all))
	}
	// Newest first; the two oldest were evicted.
	if all[0].SessionID != "e" {
		t.Errorf("first record = %q, want e", all[0].SessionID)
	}
	if _, ok := s.Load("a"); ok {
		t.Error("oldest record survived eviction")
	}
}

func TestExpiredRecordsAreFiltered(t *testing.T) {
	s := newTestStore(t, 10, time.Hour)

	s.Save(record("old", time.Now().Add(-2*time.Hour)))
	s.Save(record("fresh", time.Now()))

	all := s.LoadAll()
	if len(all) != 1 {
		t.Fatalf("LoadAll returned %d records, want 1", len(all))
	}
	if all[0].SessionID != "fresh" {
		t.Errorf("surviving record = %q, want fresh", all[0].SessionID)
	}
	if _, ok := s.Load("old"); ok {
		t.Error("expired record still loadable")
	}
}

func TestEmptySessionIDIgnored(t *testing.T) {
	s := newTestStore(t, 10, time.Hour)
	s.Save(Record{})
	if got := len(s.LoadAll()); got != 0 {
		t.Errorf("LoadAll returned %d records, want 0", got)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, 10, time.Hour)

	s.Save(record("s1", time.Now()))
	s.Save(record("s2", time.Now()))

	s.Delete("s1")
	if _, ok := s.Load("s1"); ok {
		t.Error("deleted record still loadable")
	}
	if _, ok := s.Load("s2"); !ok {
		t.Error("unrelated record lost by Delete")
	}

	s.Delete("missing") // no-op
}

func TestClear(t *testing.T) {
	s := newTestStore(t, 10, time.Hour)
	s.Save(record("s1", time.Now()))

	s.Clear()
	if got := len(s.LoadAll()); got != 0 {
		t.Errorf("LoadAll returned %d records after Clear", got)
	}
	s.Clear() // clearing an empty cache is fine
}

func TestCorruptBlobDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(Config{Path: path, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if got := len(s.LoadAll()); got != 0 {
		t.Errorf("LoadAll returned %d records from a corrupt blob", got)
	}

	// A save replaces the corrupt blob with a valid one.
	s.Save(record("s1", time.Now()))
	if _, ok := s.Load("s1"); !ok {
		t.Error("record not loadable after recovering from corrupt blob")
	}
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	cfg := Config{Path: path, Logger: quietLogger()}

	s1, err := NewStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s1.Save(record("s1", time.Now()))

	s2, err := NewStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s2.Load("s1"); !ok {
		t.Error("record not visible through a second Store instance")
	}
}
