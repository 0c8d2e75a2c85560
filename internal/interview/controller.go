package interview

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/choice"
	"github.com/MrWong99/mockinterview/internal/config"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/speech"
	"github.com/MrWong99/mockinterview/internal/store"
)

// Config holds the dependencies of a [Controller].
type Config struct {
	// Key is the client key the session is stored under. Required.
	Key string

	// Backend is the grading service. Required.
	Backend backend.Client

	// Store persists snapshots. Required.
	Store store.Store

	// Speech is used by the voice stage to speak questions and capture
	// answers. Optional.
	Speech speech.Capability

	// Settings holds the stage tunables. Zero fields take the defaults of
	// [config.Config.ApplyDefaults].
	Settings config.InterviewConfig

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Resolver maps free-text MCQ answers to letters. Defaults to
	// [choice.New] with default thresholds.
	Resolver *choice.Resolver

	// BaseContext outlives individual requests. Forced MCQ submissions run
	// on it. Defaults to [context.Background].
	BaseContext context.Context
}

// action names a guarded operation.
type action string

const (
	actRegister      action = "register"
	actMCQLoad       action = "mcq.load"
	actMCQSubmit     action = "mcq.submit"
	actCodingLoad    action = "coding.load"
	actCodingRun     action = "coding.run"
	actCodingSubmit  action = "coding.submit"
	actVoiceAnswer   action = "voice.answer"
	actResultsFinish action = "results.complete"
)

// state is the durable part of a session.
type state struct {
	sessionID string
	stage     Stage
	profile   Profile
	scores    map[Stage]float64
}

func (s state) clone() state {
	s.scores = maps.Clone(s.scores)
	if s.scores == nil {
		s.scores = map[Stage]float64{}
	}
	return s
}

func (s state) snapshot(key string) *store.Snapshot {
	scores := make(map[string]float64, len(s.scores))
	for st, v := range s.scores {
		scores[st.String()] = v
	}
	return &store.Snapshot{
		Key:       key,
		SessionID: s.sessionID,
		Stage:     s.stage.String(),
		Profile: store.Profile{
			Name:            s.profile.Name,
			ExperienceLevel: string(s.profile.ExperienceLevel),
			TargetRole:      s.profile.TargetRole,
			JobDescription:  s.profile.JobDescription,
			ResumeName:      s.profile.ResumeName,
		},
		Scores: scores,
	}
}

func stateFromSnapshot(snap *store.Snapshot) (state, error) {
	stage, err := ParseStage(snap.Stage)
	if err != nil {
		return state{}, err
	}
	st := state{
		sessionID: snap.SessionID,
		stage:     stage,
		profile: Profile{
			Name:            snap.Profile.Name,
			ExperienceLevel: ExperienceLevel(snap.Profile.ExperienceLevel),
			TargetRole:      snap.Profile.TargetRole,
			JobDescription:  snap.Profile.JobDescription,
			ResumeName:      snap.Profile.ResumeName,
		},
		scores: map[Stage]float64{},
	}
	for name, v := range snap.Scores {
		s, err := ParseStage(name)
		if err != nil {
			return state{}, err
		}
		st.scores[s] = clampScore(v)
	}
	return st, nil
}

// Controller runs one interview session. Create it with [New].
type Controller struct {
	key      string
	backend  backend.Client
	store    store.Store
	speech   speech.Capability
	settings config.InterviewConfig
	metrics  *observe.Metrics
	resolver *choice.Resolver
	baseCtx  context.Context
	now      func() time.Time

	// commitMu serialises store writes and deletes of the session. It is
	// taken before mu and held across the store call so that mu is not.
	commitMu sync.Mutex

	mu     sync.Mutex
	st     state
	busy   map[action]string
	closed bool

	registration *Registration
	mcq          *mcqAttempt
	coding       *codingAttempt
	voice        *voiceSession
	summary      *Summary

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New creates a controller at the Registration stage with a fresh session
// id. Use [Controller.Resume] to continue a stored session.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Key == "" {
		errs = append(errs, errors.New("key is required"))
	}
	if cfg.Backend == nil {
		errs = append(errs, errors.New("backend is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("interview: new controller: %w", err)
	}

	defaults := config.Config{Interview: cfg.Settings}
	defaults.ApplyDefaults()

	c := &Controller{
		key:      cfg.Key,
		backend:  cfg.Backend,
		store:    cfg.Store,
		speech:   cfg.Speech,
		settings: defaults.Interview,
		metrics:  cfg.Metrics,
		resolver: cfg.Resolver,
		baseCtx:  cfg.BaseContext,
		now:      time.Now,
		busy:     make(map[action]string),
		subs:     make(map[int]chan Event),
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.resolver == nil {
		c.resolver = choice.New()
	}
	if c.baseCtx == nil {
		c.baseCtx = context.Background()
	}
	c.st = state{sessionID: uuid.NewString(), stage: StageRegistration, scores: map[Stage]float64{}}
	return c, nil
}

// Key returns the client key.
func (c *Controller) Key() string { return c.key }

// Settings returns the stage tunables the session runs with.
func (c *Controller) Settings() config.InterviewConfig { return c.settings }

// Status is a point-in-time view of the session.
type Status struct {
	Key       string             `json:"key"`
	SessionID string             `json:"session_id"`
	Stage     string             `json:"stage"`
	Profile   *Profile           `json:"profile,omitempty"`
	Scores    map[string]float64 `json:"scores"`
}

// Status returns the current session state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Key:       c.key,
		SessionID: c.st.sessionID,
		Stage:     c.st.stage.String(),
		Scores:    make(map[string]float64, len(c.st.scores)),
	}
	if c.st.stage != StageRegistration {
		p := c.st.profile
		s.Profile = &p
	}
	for st, v := range c.st.scores {
		s.Scores[st.String()] = v
	}
	return s
}

// Stage returns the current stage.
func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.stage
}

// SessionID returns the current session id.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.sessionID
}

// Score returns the recorded score of stage and whether one exists.
func (c *Controller) Score(stage Stage) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.st.scores[stage]
	return v, ok
}

// Active reports whether the session has work that outlives a request: a
// running MCQ countdown, an action in flight or an event subscriber.
func (c *Controller) Active() bool {
	c.mu.Lock()
	active := len(c.busy) > 0 || (c.st.stage == StageMCQ && c.mcq != nil && c.mcq.frozen == nil)
	c.mu.Unlock()
	if active {
		return true
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs) > 0
}

// requireLocked checks that stage is current. c.mu must be held.
func (c *Controller) requireLocked(stage Stage) error {
	if c.closed {
		return fmt.Errorf("%w: controller closed", ErrWrongStage)
	}
	if c.st.stage != stage {
		return fmt.Errorf("%w: %s is current, not %s", ErrWrongStage, c.st.stage, stage)
	}
	return nil
}

// acquireLocked marks a as in flight for the current session. c.mu must be
// held.
func (c *Controller) acquireLocked(a action) error {
	if _, ok := c.busy[a]; ok {
		return fmt.Errorf("%w: %s", ErrBusy, a)
	}
	c.busy[a] = c.st.sessionID
	return nil
}

func (c *Controller) inFlightLocked(a action) bool {
	_, ok := c.busy[a]
	return ok
}

// release clears a if it was acquired by session sid.
func (c *Controller) release(a action, sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy[a] == sid {
		delete(c.busy, a)
	}
}

// begin checks the stage and acquires a in one step. It returns the session
// id the action is bound to.
func (c *Controller) begin(stage Stage, a action) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireLocked(stage); err != nil {
		return "", err
	}
	if err := c.acquireLocked(a); err != nil {
		return "", err
	}
	return c.st.sessionID, nil
}

// currentLocked reports whether sid is still the live session at stage.
func (c *Controller) currentLocked(sid string, stage Stage) error {
	if c.closed || c.st.sessionID != sid || c.st.stage != stage {
		return fmt.Errorf("%w: session changed while %s was in progress", ErrWrongStage, stage)
	}
	return nil
}

// advance saves the next snapshot and, only once that succeeded, moves the
// in-memory state from stage to stage.Next(). apply mutates the copy that is
// saved.
func (c *Controller) advance(ctx context.Context, sid string, from Stage, apply func(*state)) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	if err := c.currentLocked(sid, from); err != nil {
		c.mu.Unlock()
		return err
	}
	next := c.st.clone()
	c.mu.Unlock()
	if apply != nil {
		apply(&next)
	}
	next.stage = from.Next()

	if err := c.store.Save(ctx, next.snapshot(c.key)); err != nil {
		c.metrics.RecordStoreError(ctx, "save")
		observe.Logger(ctx).Error("interview: save snapshot failed", "key", c.key, "session_id", sid, "stage", from.String(), "err", err)
		c.publish(Event{Kind: EventError, SessionID: sid, Stage: from.String(), Message: err.Error()})
		return fmt.Errorf("%w: save %s: %w", ErrStore, from, err)
	}

	c.mu.Lock()
	// Restart and Resume also hold commitMu, so only Close can intervene.
	if err := c.currentLocked(sid, from); err != nil {
		c.mu.Unlock()
		return err
	}
	c.st = next
	c.exitStageLocked(from)
	score, scored := next.scores[from]
	c.mu.Unlock()

	c.metrics.RecordStageTransition(ctx, from.String(), next.stage.String())
	if scored && from.Scored() {
		c.metrics.RecordStageScore(ctx, from.String(), score)
		c.publish(Event{Kind: EventScore, SessionID: sid, Stage: from.String(), Score: scorePtr(score)})
	}
	c.publish(Event{Kind: EventStage, SessionID: sid, Stage: next.stage.String()})
	observe.Logger(ctx).Info("interview: stage advanced", "key", c.key, "session_id", sid, "from", from.String(), "to", next.stage.String())
	return nil
}

// exitStageLocked drops the working data of a stage that is no longer
// current.
func (c *Controller) exitStageLocked(s Stage) {
	switch s {
	case StageMCQ:
		if c.mcq != nil {
			c.mcq.stop()
		}
	case StageCoding, StageVoice:
		// Kept for display until restart.
	}
}

// ScoreWriter records the score of exactly one stage of one session.
type ScoreWriter struct {
	c     *Controller
	sid   string
	stage Stage
}

// ScoreWriter returns a writer bound to the current stage and session.
func (c *Controller) ScoreWriter() *ScoreWriter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &ScoreWriter{c: c, sid: c.st.sessionID, stage: c.st.stage}
}

// Stage returns the stage the writer is bound to.
func (w *ScoreWriter) Stage() Stage { return w.stage }

// Record clamps score to [0,100], saves it together with the next stage and
// advances. It fails with [ErrWrongStage] once its stage is no longer
// current or the session was restarted, and with [ErrStore] when the save
// fails, leaving the stage current.
func (w *ScoreWriter) Record(ctx context.Context, score float64) error {
	if !w.stage.Scored() {
		return fmt.Errorf("%w: %s records no score", ErrWrongStage, w.stage)
	}
	score = clampScore(score)
	return w.c.advance(ctx, w.sid, w.stage, func(s *state) {
		s.scores[w.stage] = score
	})
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// Restart discards the stored snapshot and all stage data and starts a new
// session at Registration. In-flight actions of the old session fail when
// they try to commit.
func (c *Controller) Restart(ctx context.Context) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: controller closed", ErrWrongStage)
	}
	if err := c.store.Delete(ctx, c.key); err != nil {
		c.metrics.RecordStoreError(ctx, "delete")
		return fmt.Errorf("%w: delete: %w", ErrStore, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: controller closed", ErrWrongStage)
	}
	old := c.st.sessionID
	c.resetLocked(state{sessionID: uuid.NewString(), stage: StageRegistration, scores: map[Stage]float64{}})
	sid := c.st.sessionID

	observe.Logger(ctx).Info("interview: session restarted", "key", c.key, "old_session_id", old, "session_id", sid)
	c.publish(Event{Kind: EventRestart, SessionID: sid, Stage: StageRegistration.String()})
	return nil
}

func (c *Controller) resetLocked(st state) {
	if c.mcq != nil {
		c.mcq.stop()
	}
	c.st = st
	c.busy = make(map[action]string)
	c.registration = nil
	c.mcq = nil
	c.coding = nil
	c.voice = nil
	c.summary = nil
}

// Resume replaces the in-memory session with the snapshot stored under the
// controller's key. It reports false when nothing is stored. Stage working
// data is not persisted and must be loaded again.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	snap, err := c.store.Load(ctx, c.key)
	if err != nil {
		c.metrics.RecordStoreError(ctx, "load")
		return false, fmt.Errorf("%w: load: %w", ErrStore, err)
	}
	if snap == nil {
		return false, nil
	}
	st, err := stateFromSnapshot(snap)
	if err != nil {
		return false, fmt.Errorf("interview: resume %q: %w", c.key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, fmt.Errorf("%w: controller closed", ErrWrongStage)
	}
	c.resetLocked(st)
	observe.Logger(ctx).Info("interview: session resumed", "key", c.key, "session_id", st.sessionID, "stage", st.stage.String())
	return true, nil
}

// Close stops the countdown and ends all event subscriptions. Further
// operations fail with [ErrWrongStage].
func (c *Controller) Close() {
	c.mu.Lock()
	if c.mcq != nil {
		c.mcq.stop()
	}
	c.closed = true
	c.mu.Unlock()
	c.closeSubscribers()
}

// backendErr marks err as a backend failure and logs it.
func (c *Controller) backendErr(ctx context.Context, sid string, stage Stage, op string, err error) error {
	observe.Logger(ctx).Warn("interview: backend call failed", "key", c.key, "session_id", sid, "stage", stage.String(), "op", op, "err", err)
	c.publish(Event{Kind: EventError, SessionID: sid, Stage: stage.String(), Message: err.Error()})
	return fmt.Errorf("%w: %s: %w", ErrBackend, op, err)
}
