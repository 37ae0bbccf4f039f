package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgallion1/charmem/internal/analysis"
	"github.com/dgallion1/charmem/internal/book"
	"github.com/dgallion1/charmem/internal/embed"
	"github.com/dgallion1/charmem/internal/index"
	"github.com/dgallion1/charmem/internal/retrieve"
)

type nopGenerator struct{}

func (nopGenerator) Complete(context.Context, string, float64) (string, error) { return "ok", nil }

func newManager(ttl time.Duration) *Manager {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(ttl, retrieve.New(embed.NewHashing(16), 0), nopGenerator{}, analysis.DefaultOptions(), log)
}

func TestManager_CreateGet(t *testing.T) {
	m := newManager(time.Hour)
	s := m.Create()
	if s.ID == "" {
		t.Fatal("expected session id")
	}
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != s {
		t.Error("expected same session back")
	}
	if s.Analyzer() == nil {
		t.Error("expected analyzer to be wired")
	}
}

func TestManager_GetMissing(t *testing.T) {
	m := newManager(time.Hour)
	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ResolveEmptyCreates(t *testing.T) {
	m := newManager(time.Hour)
	s, err := m.Resolve("")
	if err != nil || s == nil {
		t.Fatalf("expected new session, got %v %v", s, err)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 session, got %d", m.Len())
	}
}

func TestManager_CleanupEvictsIdle(t *testing.T) {
	m := newManager(50 * time.Millisecond)
	old := m.Create()
	time.Sleep(100 * time.Millisecond)
	fresh := m.Create()

	if n := m.Cleanup(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if _, err := m.Get(old.ID); err == nil {
		t.Error("expected idle session to be evicted")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Error("expected fresh session to survive")
	}
}

func TestSession_NotInitializedUntilPublish(t *testing.T) {
	m := newManager(time.Hour)
	s := m.Create()
	if _, err := s.Index(); !errors.Is(err, index.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if s.Book() != nil {
		t.Error("expected nil book before publish")
	}

	b := &book.Book{ID: "doc", Pages: book.NewPages([]string{"hello"})}
	idx, _ := index.Build(context.Background(), "doc", nil, embed.NewHashing(16), 0)
	s.Publish(b, idx)

	got, err := s.Index()
	if err != nil || got != idx {
		t.Fatalf("expected published index, got %v %v", got, err)
	}
	if s.Book() != b {
		t.Error("expected published book")
	}
}

func TestSessions_AreIsolated(t *testing.T) {
	m := newManager(time.Hour)
	a, b := m.Create(), m.Create()
	idx, _ := index.Build(context.Background(), "doc-a", nil, embed.NewHashing(16), 0)
	a.Publish(&book.Book{ID: "doc-a"}, idx)
	if _, err := b.Index(); !errors.Is(err, index.ErrNotInitialized) {
		t.Error("expected second session to be unaffected")
	}
}
