package interview

import (
	"context"
	"fmt"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/observe"
)

// ExecutorUnavailable is the run message shown when the code executor
// cannot be reached.
const ExecutorUnavailable = "Error connecting to code executor."

type codingAttempt struct {
	problem backend.Problem
	source  string
	edited  bool
	lastRun *backend.RunReport
	message string
}

// Draft is the candidate's current coding work.
type Draft struct {
	Problem backend.Problem    `json:"problem"`
	Source  string             `json:"source"`
	Edited  bool               `json:"edited"`
	LastRun *backend.RunReport `json:"last_run,omitempty"`
	Message string             `json:"message,omitempty"`
}

// CodingRound is the coding stage of a [Controller].
type CodingRound struct{ c *Controller }

// Coding returns the coding round.
func (c *Controller) Coding() *CodingRound { return &CodingRound{c: c} }

// Load fetches problems at the configured difficulty and keeps the first.
// The source starts as the problem's template. Calling Load again returns
// the loaded problem.
func (r *CodingRound) Load(ctx context.Context) (*backend.Problem, error) {
	c := r.c
	c.mu.Lock()
	if err := c.requireLocked(StageCoding); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.coding != nil {
		p := c.coding.problem
		c.mu.Unlock()
		return &p, nil
	}
	if err := c.acquireLocked(actCodingLoad); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	sid := c.st.sessionID
	c.mu.Unlock()
	defer c.release(actCodingLoad, sid)

	problems, err := c.backend.FetchProblems(ctx, c.settings.Coding.Difficulty)
	if err != nil {
		return nil, c.backendErr(ctx, sid, StageCoding, "fetch problems", err)
	}
	if len(problems) == 0 {
		return nil, fmt.Errorf("%w: difficulty %q", ErrNoProblem, c.settings.Coding.Difficulty)
	}
	p := problems[0]

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.currentLocked(sid, StageCoding); err != nil {
		return nil, err
	}
	c.coding = &codingAttempt{problem: p, source: p.Template}
	observe.Logger(ctx).Info("interview: coding problem loaded", "key", c.key, "session_id", sid, "problem_id", string(p.ID), "title", p.Title)
	return &p, nil
}

func (r *CodingRound) attemptLocked() (*codingAttempt, error) {
	if err := r.c.requireLocked(StageCoding); err != nil {
		return nil, err
	}
	if r.c.coding == nil {
		return nil, fmt.Errorf("%w: coding", ErrNotLoaded)
	}
	return r.c.coding, nil
}

// Edit replaces the source.
func (r *CodingRound) Edit(source string) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	a, err := r.attemptLocked()
	if err != nil {
		return err
	}
	if r.c.inFlightLocked(actCodingSubmit) {
		return fmt.Errorf("%w: %s", ErrBusy, actCodingSubmit)
	}
	a.source = source
	a.edited = true
	return nil
}

// Draft returns the current problem, source and last run.
func (r *CodingRound) Draft() (Draft, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	a, err := r.attemptLocked()
	if err != nil {
		return Draft{}, err
	}
	return Draft{Problem: a.problem, Source: a.source, Edited: a.edited, LastRun: a.lastRun, Message: a.message}, nil
}

// Run executes the current source against the visible tests. The result is
// advisory: it never changes the session. When the executor is unreachable
// the message is [ExecutorUnavailable] and the error is returned alongside
// it. Run is refused while a submission is in flight.
func (r *CodingRound) Run(ctx context.Context) (string, *backend.RunReport, error) {
	c := r.c
	c.mu.Lock()
	a, err := r.attemptLocked()
	if err != nil {
		c.mu.Unlock()
		return "", nil, err
	}
	if c.inFlightLocked(actCodingSubmit) {
		c.mu.Unlock()
		return "", nil, fmt.Errorf("%w: %s", ErrBusy, actCodingSubmit)
	}
	if err := c.acquireLocked(actCodingRun); err != nil {
		c.mu.Unlock()
		return "", nil, err
	}
	sid := c.st.sessionID
	source, problemID := a.source, a.problem.ID
	c.mu.Unlock()
	defer c.release(actCodingRun, sid)

	report, runErr := c.backend.RunCode(ctx, source, problemID)
	msg := ExecutorUnavailable
	if runErr == nil {
		msg = report.Message()
	}

	c.mu.Lock()
	if c.currentLocked(sid, StageCoding) == nil && c.coding != nil {
		c.coding.lastRun = report
		c.coding.message = msg
	}
	c.mu.Unlock()

	c.publish(Event{Kind: EventRun, SessionID: sid, Stage: StageCoding.String(), Message: msg})
	if runErr != nil {
		return msg, nil, c.backendErr(ctx, sid, StageCoding, "run code", runErr)
	}
	return msg, report, nil
}

// Submit grades the current source, records the score and advances to
// Voice. An unedited template is submitted as is.
func (r *CodingRound) Submit(ctx context.Context) (float64, error) {
	c := r.c
	c.mu.Lock()
	a, err := r.attemptLocked()
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	if err := c.acquireLocked(actCodingSubmit); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	sid := c.st.sessionID
	req := backend.SubmitCodeRequest{
		Username:  c.st.profile.Name,
		Code:      a.source,
		ProblemID: a.problem.ID,
		Language:  c.settings.Coding.Language,
	}
	c.mu.Unlock()
	defer c.release(actCodingSubmit, sid)

	ctx, span := observe.StartSpan(ctx, "interview.coding.submit", observe.SessionSpan(c.key, sid))
	defer span.End()

	score, err := c.backend.SubmitCode(ctx, req)
	if err != nil {
		return 0, c.backendErr(ctx, sid, StageCoding, "submit code", err)
	}
	score = clampScore(score)
	w := &ScoreWriter{c: c, sid: sid, stage: StageCoding}
	if err := w.Record(ctx, score); err != nil {
		return 0, err
	}
	observe.Logger(ctx).Info("interview: code submitted", "key", c.key, "session_id", sid, "score", score, "problem_id", string(req.ProblemID))
	return score, nil
}
