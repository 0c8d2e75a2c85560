package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/choice"
	"github.com/MrWong99/mockinterview/internal/observe"
)

type mcqAttempt struct {
	questions []backend.Question
	answers   map[int]string
	cursor    int
	deadline  time.Time
	timer     *time.Timer
	expired   chan struct{}
	expire    func()

	// frozen holds the payload captured when the countdown reached zero.
	// Answers are read-only once it is set.
	frozen map[string]string
}

func newMCQAttempt(questions []backend.Question, deadline time.Time) *mcqAttempt {
	a := &mcqAttempt{
		questions: questions,
		answers:   map[int]string{},
		deadline:  deadline,
		expired:   make(chan struct{}),
	}
	a.expire = sync.OnceFunc(func() { close(a.expired) })
	return a
}

func (a *mcqAttempt) stop() {
	if a.timer != nil {
		a.timer.Stop()
	}
}

// payload maps question ids to letters; unanswered questions submit "".
// After expiry it returns the answers as they were at that instant.
func (a *mcqAttempt) payload() map[string]string {
	if a.frozen != nil {
		return maps.Clone(a.frozen)
	}
	out := make(map[string]string, len(a.questions))
	for i, q := range a.questions {
		out[string(q.ID)] = a.answers[i]
	}
	return out
}

// QuestionView is one question with the candidate's current answer.
type QuestionView struct {
	Index    int              `json:"index"`
	Total    int              `json:"total"`
	Question backend.Question `json:"question"`
	Answer   string           `json:"answer,omitempty"`
}

// MCQRound is the multiple-choice stage of a [Controller].
type MCQRound struct{ c *Controller }

// MCQ returns the multiple-choice round.
func (c *Controller) MCQ() *MCQRound { return &MCQRound{c: c} }

// Load fetches the question set and starts the countdown. Calling Load again
// returns the loaded set without touching answers or the countdown.
func (r *MCQRound) Load(ctx context.Context) ([]backend.Question, error) {
	c := r.c
	c.mu.Lock()
	if err := c.requireLocked(StageMCQ); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.mcq != nil {
		qs := append([]backend.Question(nil), c.mcq.questions...)
		c.mu.Unlock()
		return qs, nil
	}
	if err := c.acquireLocked(actMCQLoad); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	sid := c.st.sessionID
	c.mu.Unlock()
	defer c.release(actMCQLoad, sid)

	qs, err := c.backend.FetchMCQ(ctx, c.settings.MCQ.Difficulty, c.settings.MCQ.Count)
	if err != nil {
		return nil, c.backendErr(ctx, sid, StageMCQ, "fetch questions", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.currentLocked(sid, StageMCQ); err != nil {
		return nil, err
	}
	countdown := c.settings.MCQ.Countdown
	a := newMCQAttempt(qs, c.now().Add(countdown))
	a.timer = time.AfterFunc(countdown, func() { c.expireMCQ(sid) })
	c.mcq = a

	observe.Logger(ctx).Info("interview: mcq loaded", "key", c.key, "session_id", sid, "questions", len(qs), "countdown", countdown)
	return append([]backend.Question(nil), qs...), nil
}

// Questions returns the loaded question set without fetching it. It fails
// with [ErrNotLoaded] before [MCQRound.Load].
func (r *MCQRound) Questions() ([]backend.Question, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	a, err := r.attemptLocked()
	if err != nil {
		return nil, err
	}
	return append([]backend.Question(nil), a.questions...), nil
}

// attemptLocked returns the loaded attempt of the current MCQ stage.
func (r *MCQRound) attemptLocked() (*mcqAttempt, error) {
	if err := r.c.requireLocked(StageMCQ); err != nil {
		return nil, err
	}
	if r.c.mcq == nil {
		return nil, fmt.Errorf("%w: mcq", ErrNotLoaded)
	}
	return r.c.mcq, nil
}

// freeze captures the payload and closes the expired channel. It runs once.
func (a *mcqAttempt) freeze() {
	if a.frozen == nil {
		a.frozen = a.payload()
	}
	a.expire()
}

// writableLocked rejects answer changes while a submission is in flight or
// after the countdown expired.
func (r *MCQRound) writableLocked(a *mcqAttempt) error {
	if a.frozen != nil {
		return fmt.Errorf("%w: answers are final", ErrExpired)
	}
	if r.c.inFlightLocked(actMCQSubmit) {
		return fmt.Errorf("%w: %s", ErrBusy, actMCQSubmit)
	}
	return nil
}

func (a *mcqAttempt) question(index int) (backend.Question, error) {
	if index < 0 || index >= len(a.questions) {
		return backend.Question{}, fmt.Errorf("%w: question index %d out of range [0,%d)", ErrInvalid, index, len(a.questions))
	}
	return a.questions[index], nil
}

// Select records letter as the answer to question index, replacing any
// earlier answer. Questions without options return [ErrNoOptions].
func (r *MCQRound) Select(index int, letter string) error {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	a, err := r.attemptLocked()
	if err != nil {
		return err
	}
	if err := r.writableLocked(a); err != nil {
		return err
	}
	q, err := a.question(index)
	if err != nil {
		return err
	}
	if len(q.Options) == 0 {
		return fmt.Errorf("%w: question %d", ErrNoOptions, index)
	}
	i := choice.Index(letter)
	if i < 0 || i >= len(q.Options) {
		return fmt.Errorf("%w: answer %q not among %d options", ErrInvalid, letter, len(q.Options))
	}
	a.answers[index] = choice.Letter(i)
	return nil
}

// Answer resolves free text such as "b", "option 2" or an option's wording
// to a letter and selects it.
func (r *MCQRound) Answer(index int, text string) (string, error) {
	c := r.c
	c.mu.Lock()
	a, err := r.attemptLocked()
	if err == nil && a.frozen != nil {
		err = fmt.Errorf("%w: answers are final", ErrExpired)
	}
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	q, err := a.question(index)
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	if len(q.Options) == 0 {
		return "", fmt.Errorf("%w: question %d", ErrNoOptions, index)
	}

	letter, confidence, ok := c.resolver.Resolve(text, q.Options)
	if !ok {
		return "", fmt.Errorf("%w: %q matches no option", ErrInvalid, text)
	}
	slog.Debug("interview: answer resolved", "key", c.key, "index", index, "letter", letter, "confidence", confidence)
	if err := r.Select(index, letter); err != nil {
		return "", err
	}
	return letter, nil
}

// Clear removes the answer to question index.
func (r *MCQRound) Clear(index int) error {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	a, err := r.attemptLocked()
	if err != nil {
		return err
	}
	if err := r.writableLocked(a); err != nil {
		return err
	}
	if _, err := a.question(index); err != nil {
		return err
	}
	delete(a.answers, index)
	return nil
}

// Answers returns a copy of the index → letter answer map.
func (r *MCQRound) Answers() (map[int]string, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	a, err := r.attemptLocked()
	if err != nil {
		return nil, err
	}
	return maps.Clone(a.answers), nil
}

// Current returns the question under the cursor.
func (r *MCQRound) Current() (QuestionView, error) {
	return r.move(0)
}

// Next moves the cursor forward, stopping at the last question.
func (r *MCQRound) Next() (QuestionView, error) {
	return r.move(1)
}

// Previous moves the cursor back, stopping at the first question.
func (r *MCQRound) Previous() (QuestionView, error) {
	return r.move(-1)
}

func (r *MCQRound) move(delta int) (QuestionView, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	a, err := r.attemptLocked()
	if err != nil {
		return QuestionView{}, err
	}
	if len(a.questions) == 0 {
		return QuestionView{}, fmt.Errorf("%w: question set is empty", ErrNotLoaded)
	}
	a.cursor = min(max(a.cursor+delta, 0), len(a.questions)-1)
	return QuestionView{
		Index:    a.cursor,
		Total:    len(a.questions),
		Question: a.questions[a.cursor],
		Answer:   a.answers[a.cursor],
	}, nil
}

// Remaining returns the time left on the countdown, never below zero.
func (r *MCQRound) Remaining() (time.Duration, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	a, err := r.attemptLocked()
	if err != nil {
		return 0, err
	}
	return max(a.deadline.Sub(r.c.now()), 0), nil
}

// Expired returns a channel closed when the countdown reaches zero. It
// returns nil before the set is loaded.
func (r *MCQRound) Expired() <-chan struct{} {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if r.c.mcq == nil {
		return nil
	}
	return r.c.mcq.expired
}

// Submit grades the answers, records the score and advances to Coding. A
// failed submission leaves the stage current and may be retried. Once the
// countdown expired, retries submit the answers held at expiry.
func (r *MCQRound) Submit(ctx context.Context) (float64, error) {
	return r.c.submitMCQ(ctx, false)
}

func (c *Controller) submitMCQ(ctx context.Context, forced bool) (float64, error) {
	c.mu.Lock()
	if err := c.requireLocked(StageMCQ); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	if c.mcq == nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: mcq", ErrNotLoaded)
	}
	if err := c.acquireLocked(actMCQSubmit); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	sid := c.st.sessionID
	answers := c.mcq.payload()
	username := c.st.profile.Name
	c.mu.Unlock()
	defer c.release(actMCQSubmit, sid)

	ctx, span := observe.StartSpan(ctx, "interview.mcq.submit", observe.SessionSpan(c.key, sid))
	defer span.End()

	score, err := c.backend.SubmitMCQ(ctx, username, answers)
	if err != nil {
		return 0, c.backendErr(ctx, sid, StageMCQ, "submit answers", err)
	}
	score = clampScore(score)
	w := &ScoreWriter{c: c, sid: sid, stage: StageMCQ}
	if err := w.Record(ctx, score); err != nil {
		return 0, err
	}
	observe.Logger(ctx).Info("interview: mcq submitted", "key", c.key, "session_id", sid, "score", score, "forced", forced, "answered", countAnswered(answers))
	return score, nil
}

func countAnswered(answers map[string]string) int {
	n := 0
	for _, v := range answers {
		if v != "" {
			n++
		}
	}
	return n
}

// expireMCQ runs when the countdown of session sid reaches zero.
func (c *Controller) expireMCQ(sid string) {
	c.mu.Lock()
	if c.currentLocked(sid, StageMCQ) != nil || c.mcq == nil {
		c.mu.Unlock()
		return
	}
	c.mcq.freeze()
	c.mu.Unlock()

	ctx := c.baseCtx
	c.publish(Event{Kind: EventMCQExpired, SessionID: sid, Stage: StageMCQ.String()})

	score, err := c.submitMCQ(ctx, true)
	switch {
	case err == nil:
		c.metrics.ForcedSubmissions.Add(ctx, 1)
		c.publish(Event{Kind: EventForced, SessionID: sid, Stage: StageMCQ.String(), Score: scorePtr(score)})
	case errors.Is(err, ErrBusy):
		slog.Info("interview: countdown expired during submission; forced submit skipped", "key", c.key, "session_id", sid)
	case errors.Is(err, ErrWrongStage):
	default:
		slog.Error("interview: forced mcq submission failed", "key", c.key, "session_id", sid, "err", err)
	}
}
