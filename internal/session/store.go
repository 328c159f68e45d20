package session

import (
	"errors"
	"log/slog"
	"time"

	"financas/internal/cache"
	"financas/internal/core"
)

var ErrNotFound = errors.New("session not found")

// Store keeps recent sessions in memory, bounded by count and idle time.
type Store struct {
	sessions *cache.LRUCache[*Session]
	opts     Options
	log      *slog.Logger
}

// NewStore creates a store holding at most maxSessions sessions, each expiring ttl
// after it was last written.
func NewStore(maxSessions int, ttl time.Duration, opts Options, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{opts: opts, log: log}
	s.sessions = cache.NewLRUCache[*Session](maxSessions, ttl,
		cache.WithEvictHook(func(id string, sess *Session) {
			log.Debug("Session evicted", "session_id", id, "source", sess.Source)
		}),
	)
	return s
}

// Cache exposes the backing cache for the cleanup sweep.
func (s *Store) Cache() cache.Cleaner { return s.sessions }

// Create builds and registers a session for txs.
func (s *Store) Create(txs []core.Transaction, source string) (*Session, error) {
	sess, err := New(txs, source, s.opts)
	if err != nil {
		return nil, err
	}
	s.sessions.Set(sess.ID, sess)
	s.log.Debug("Session stored", "session_id", sess.ID, "sessions", s.sessions.Size())
	return sess, nil
}

// Get returns a live session.
func (s *Store) Get(id string) (*Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Touch renews the session's expiry.
func (s *Store) Touch(sess *Session) {
	s.sessions.Set(sess.ID, sess)
}

func (s *Store) Delete(id string) {
	s.sessions.Delete(id)
}

func (s *Store) Len() int {
	return s.sessions.Size()
}
