// Package session keeps one indexed book per reader session.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/charmem/internal/analysis"
	"github.com/dgallion1/charmem/internal/book"
	"github.com/dgallion1/charmem/internal/index"
	"github.com/dgallion1/charmem/internal/llm"
	"github.com/dgallion1/charmem/internal/retrieve"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Session owns the live index and book for one reader.
type Session struct {
	ID        string
	CreatedAt time.Time

	handle   index.Handle
	book     atomic.Pointer[book.Book]
	lastUsed atomic.Int64

	analyzer *analysis.Orchestrator
}

// Index returns the current index snapshot.
func (s *Session) Index() (*index.Index, error) {
	return s.handle.Load()
}

// Book returns the current book, nil before the first upload.
func (s *Session) Book() *book.Book {
	return s.book.Load()
}

// Publish replaces the session's book and index. The index is swapped last
// so a reader that sees the new index also sees the new book.
func (s *Session) Publish(b *book.Book, idx *index.Index) {
	s.book.Store(b)
	s.handle.Swap(idx)
	s.Touch()
}

// Analyzer returns the session's orchestrator.
func (s *Session) Analyzer() *analysis.Orchestrator {
	return s.analyzer
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsed reports the last Touch.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Manager is a thread-safe session registry with idle eviction.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration

	retriever *retrieve.Retriever
	gen       llm.Generator
	opts      analysis.Options
	log       *slog.Logger
}

func NewManager(ttl time.Duration, ret *retrieve.Retriever, gen llm.Generator, opts analysis.Options, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		ttl:       ttl,
		retriever: ret,
		gen:       gen,
		opts:      opts,
		log:       log,
	}
}

// Create registers a new empty session.
func (m *Manager) Create() *Session {
	s := &Session{ID: uuid.NewString(), CreatedAt: time.Now()}
	s.analyzer = analysis.New(s, m.retriever, m.gen, m.opts, m.log.With("session_id", s.ID))
	s.Touch()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s
}

// Get returns a live session and marks it used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// Resolve returns the session for id, or a new one when id is empty.
func (m *Manager) Resolve(id string) (*Session, error) {
	if id == "" {
		return m.Create(), nil
	}
	return m.Get(id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Cleanup removes sessions idle longer than the TTL.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > m.ttl {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
