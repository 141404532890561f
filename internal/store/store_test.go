package store

import (
	"path/filepath"
	"testing"

	"github.com/basket/boss/internal/bus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "boss-test.db")
	s, err := Open(dsn, bus.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := newTestStore(t)
	for _, table := range []string{"tasks", "team_members", "outbox", "conversations", "audit_log"} {
		ok, err := tableExists(t.Context(), s.db, table)
		if err != nil {
			t.Fatalf("tableExists(%s): %v", table, err)
		}
		if !ok {
			t.Errorf("expected table %q to exist after migration", table)
		}
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
