package session

import (
	"context"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"voice-bridge/backend/internal/state"
	apperrors "voice-bridge/backend/pkg/errors"
)

// Registry maps user ids to their single live Session. Admission is
// serialized per user id; different users never wait on each other.
type Registry struct {
	deps   Dependencies
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates a new, empty registry
func NewRegistry(deps Dependencies) *Registry {
	return &Registry{
		deps:     deps,
		logger:   deps.Logger.Named("registry"),
		sessions: make(map[string]*Session),
		locks:    make(map[string]*keyLock),
	}
}

// Acquire creates the session for userID over conn, first stopping any
// session the user already has. On error the client has already been sent
// the reason and closed.
func (r *Registry) Acquire(ctx context.Context, userID string, conn Conn, cfg state.SessionConfig) (*Session, error) {
	unlock := r.lockKey(userID)
	defer unlock()

	writeTimeout := r.deps.Settings.withDefaults().WriteTimeout

	if r.deps.Settings.APIKey == "" {
		err := apperrors.NewMissingProviderKey()
		Reject(conn, err, writeTimeout)
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		denied := apperrors.NewAdmissionDenied(err.Error(), apperrors.ClosePolicyViolation, err)
		Reject(conn, denied, writeTimeout)
		return nil, denied
	}

	if old := r.Lookup(userID); old != nil {
		r.logger.Info("Replacing existing session", zap.String("user_id", userID))
		old.stop(websocket.CloseNormalClosure, "Session replaced")
		r.remove(old)
	}

	s := newSession(userID, conn, cfg, r.deps, r.remove)
	if err := s.open(ctx); err != nil {
		Reject(conn, err, writeTimeout)
		return nil, err
	}

	r.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()

	go s.run()

	r.logger.Info("Session admitted", zap.String("user_id", userID), zap.Int("active_sessions", r.Count()))
	return s, nil
}

// Lookup returns the live session of userID, or nil
func (r *Registry) Lookup(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// Release stops and removes the session of userID. Idempotent.
func (r *Registry) Release(userID string) {
	unlock := r.lockKey(userID)
	defer unlock()

	if s := r.Lookup(userID); s != nil {
		s.Stop()
		r.remove(s)
	}
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// UserIDs returns the ids with a live session, sorted
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// StopAll stops every live session concurrently and waits for them
func (r *Registry) StopAll() {
	var g errgroup.Group
	for _, id := range r.UserIDs() {
		id := id
		g.Go(func() error {
			r.Release(id)
			return nil
		})
	}
	_ = g.Wait()
}

// remove deletes the entry for s only if it is still the registered one, so
// a replaced session finishing late never evicts its successor.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[s.userID]; ok && current == s {
		delete(r.sessions, s.userID)
	}
}

// lockKey takes the admission lock of one user id and returns its release
func (r *Registry) lockKey(userID string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[userID]
	if !ok {
		l = &keyLock{}
		r.locks[userID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, userID)
		}
		r.locksMu.Unlock()
	}
}
