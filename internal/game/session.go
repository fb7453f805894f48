package game

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mobarena-server/internal/agent"
	"mobarena-server/internal/config"
	"mobarena-server/internal/journal"
	"mobarena-server/internal/protocol"
)

const maxSessions = 100

var ErrTooManySessions = errors.New("session limit reached")

// Session represents a running game that viewers can join
type Session struct {
	ID      string
	Name    string
	Game    *Game
	Created time.Time

	done chan struct{}
	err  error
}

// Done is closed when the session's game loop has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, once Done is closed.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// SessionManager handles creation and lookup of sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup

	ctx      context.Context
	cfg      *config.Config
	variants agent.Variants
	journal  *journal.Journal
	log      *zap.Logger
}

func NewSessionManager(ctx context.Context, cfg *config.Config, variants agent.Variants, j *journal.Journal, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cfg:      cfg,
		variants: variants,
		journal:  j,
		log:      log,
	}
}

// Create starts a new session under a fresh UUID.
func (sm *SessionManager) Create(name string) (*Session, error) {
	sm.mu.Lock()
	if len(sm.sessions) >= maxSessions {
		sm.mu.Unlock()
		return nil, ErrTooManySessions
	}
	id := uuid.NewString()
	sess := &Session{
		ID:      id,
		Name:    name,
		Game:    NewGame(id, sm.cfg, sm.variants, sm.journal, sm.log),
		Created: time.Now(),
		done:    make(chan struct{}),
	}
	sm.sessions[id] = sess
	n := len(sm.sessions)
	sm.mu.Unlock()

	if db := sm.db(); db != nil {
		if err := db.StartSession(id, sess.Created); err != nil {
			sm.log.Warn("journal session start", zap.String("session", id), zap.Error(err))
		}
	}
	if sm.journal != nil {
		sm.journal.SetActiveSessions(n)
	}

	sm.wg.Add(1)
	go sm.run(sess)
	sm.log.Info("session created", zap.String("session", id), zap.String("name", name))
	return sess, nil
}

func (sm *SessionManager) run(sess *Session) {
	defer sm.wg.Done()
	err := sess.Game.Run(sm.ctx)
	sess.err = err

	reason := "stopped"
	if err != nil {
		reason = err.Error()
		sm.log.Error("session ended", zap.String("session", sess.ID), zap.Error(err))
	}
	if db := sm.db(); db != nil {
		if err := db.EndSession(sess.ID, time.Now(), reason); err != nil {
			sm.log.Warn("journal session end", zap.String("session", sess.ID), zap.Error(err))
		}
	}

	sm.mu.Lock()
	delete(sm.sessions, sess.ID)
	n := len(sm.sessions)
	sm.mu.Unlock()
	if sm.journal != nil {
		sm.journal.SetActiveSessions(n)
	}
	close(sess.done)
}

func (sm *SessionManager) db() *journal.DB {
	if sm.journal == nil {
		return nil
	}
	return sm.journal.DB()
}

// Get returns a session by ID
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Stop ends a session and waits for its loop to return.
func (sm *SessionManager) Stop(id string) bool {
	sess := sm.Get(id)
	if sess == nil {
		return false
	}
	sess.Game.Stop()
	<-sess.done
	return true
}

func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// List returns info about all active sessions, oldest first.
func (sm *SessionManager) List() []protocol.SessionInfo {
	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Created.Before(sessions[j].Created) })
	list := make([]protocol.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		st := s.Game.Status()
		list = append(list, protocol.SessionInfo{
			ID:      s.ID,
			Name:    s.Name,
			Tick:    st.Tick,
			Agents:  st.Agents,
			Viewers: st.Viewers,
			Health:  st.Health,
		})
	}
	return list
}

// Close stops every session and waits for them.
func (sm *SessionManager) Close() {
	sm.mu.RLock()
	for _, s := range sm.sessions {
		s.Game.Stop()
	}
	sm.mu.RUnlock()
	sm.wg.Wait()
}
