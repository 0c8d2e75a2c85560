package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/choice"
	"github.com/MrWong99/mockinterview/internal/config"
	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/speech"
	"github.com/MrWong99/mockinterview/internal/store"
)

// ErrInvalidKey is returned for client keys that are empty, too long, or
// contain characters outside [A-Za-z0-9._-].
var ErrInvalidKey = errors.New("session: invalid client key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// SessionManager holds one interview controller per client key. Controllers
// are created on first use and resume any snapshot stored under their key.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*interview.Controller
	lastUsed map[string]time.Time
	settings config.InterviewConfig
	closed   bool
	now      func() time.Time

	// Dependencies injected at construction.
	backend  backend.Client
	store    store.Store
	speech   speech.Capability
	metrics  *observe.Metrics
	resolver *choice.Resolver
	baseCtx  context.Context
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Backend  backend.Client
	Store    store.Store
	Settings config.InterviewConfig

	// Speech is handed to every controller. Nil in service mode.
	Speech speech.Capability

	Metrics  *observe.Metrics
	Resolver *choice.Resolver

	// BaseContext outlives requests; forced submissions run on it.
	BaseContext context.Context
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		sessions: make(map[string]*interview.Controller),
		lastUsed: make(map[string]time.Time),
		settings: cfg.Settings,
		now:      time.Now,
		backend:  cfg.Backend,
		store:    cfg.Store,
		speech:   cfg.Speech,
		metrics:  cfg.Metrics,
		resolver: cfg.Resolver,
		baseCtx:  cfg.BaseContext,
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.resolver == nil {
		sm.resolver = choice.New()
	}
	if sm.baseCtx == nil {
		sm.baseCtx = context.Background()
	}
	return sm
}

// Get returns the controller for key, creating it if necessary. A new
// controller resumes the snapshot stored under key, if any.
func (sm *SessionManager) Get(ctx context.Context, key string) (*interview.Controller, error) {
	if !keyPattern.MatchString(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil, errors.New("session: manager closed")
	}
	if c, ok := sm.sessions[key]; ok {
		sm.lastUsed[key] = sm.now()
		return c, nil
	}

	c, err := interview.New(interview.Config{
		Key:         key,
		Backend:     sm.backend,
		Store:       sm.store,
		Speech:      sm.speech,
		Settings:    sm.settings,
		Metrics:     sm.metrics,
		Resolver:    sm.resolver,
		BaseContext: sm.baseCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create %q: %w", key, err)
	}
	resumed, err := c.Resume(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("session: resume %q: %w", key, err)
	}

	sm.sessions[key] = c
	sm.lastUsed[key] = sm.now()
	sm.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session opened", "key", key, "session_id", c.SessionID(), "stage", c.Stage().String(), "resumed", resumed)
	return c, nil
}

// Lookup returns the controller for key without creating one.
func (sm *SessionManager) Lookup(key string) (*interview.Controller, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	c, ok := sm.sessions[key]
	return c, ok
}

// Remove closes and forgets the controller for key. The stored snapshot is
// kept, so a later Get resumes it. Reports whether a controller existed.
func (sm *SessionManager) Remove(ctx context.Context, key string) bool {
	sm.mu.Lock()
	c, ok := sm.sessions[key]
	delete(sm.sessions, key)
	delete(sm.lastUsed, key)
	sm.mu.Unlock()
	if !ok {
		return false
	}
	sm.closeController(ctx, key, c)
	return true
}

func (sm *SessionManager) closeController(ctx context.Context, key string, c *interview.Controller) {
	c.Close()
	sm.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("session closed", "key", key)
}

// EvictIdle removes controllers that were not fetched through Get for at
// least idle and are not [interview.Controller.Active]. Their snapshots are
// kept. It returns the evicted keys in sorted order.
func (sm *SessionManager) EvictIdle(ctx context.Context, idle time.Duration) []string {
	cutoff := sm.now().Add(-idle)

	sm.mu.Lock()
	stale := make(map[string]*interview.Controller)
	for key, used := range sm.lastUsed {
		c := sm.sessions[key]
		if used.After(cutoff) || c.Active() {
			continue
		}
		stale[key] = c
		delete(sm.sessions, key)
		delete(sm.lastUsed, key)
	}
	sm.mu.Unlock()

	keys := slices.Sorted(maps.Keys(stale))
	for _, key := range keys {
		sm.closeController(ctx, key, stale[key])
	}
	if len(keys) > 0 {
		slog.Info("idle sessions evicted", "count", len(keys), "idle", idle)
	}
	return keys
}

// RunEviction calls [SessionManager.EvictIdle] every quarter of idle (at
// least once a second) until ctx is done.
func (sm *SessionManager) RunEviction(ctx context.Context, idle time.Duration) {
	tick := time.NewTicker(max(idle/4, time.Second))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			sm.EvictIdle(ctx, idle)
		}
	}
}

// Len returns the number of controllers held in memory.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Keys returns the sorted keys of all controllers held in memory.
func (sm *SessionManager) Keys() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	keys := make([]string, 0, len(sm.sessions))
	for k := range sm.sessions {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// UpdateSettings replaces the interview tunables. Controllers created after
// the call use the new values; running sessions keep theirs.
func (sm *SessionManager) UpdateSettings(iv config.InterviewConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.settings = iv
}

// Settings returns the tunables new controllers are created with.
func (sm *SessionManager) Settings() config.InterviewConfig {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.settings
}

// Close closes every controller. Further calls to Get fail.
func (sm *SessionManager) Close(ctx context.Context) {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*interview.Controller)
	sm.lastUsed = make(map[string]time.Time)
	sm.closed = true
	sm.mu.Unlock()

	for _, c := range sessions {
		c.Close()
	}
	if n := len(sessions); n > 0 {
		sm.metrics.ActiveSessions.Add(ctx, int64(-n))
	}
}
