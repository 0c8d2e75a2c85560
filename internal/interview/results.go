package interview

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/observe"
)

// Status labels.
const (
	StatusShortlisted     = "Shortlisted"
	StatusNeedImprovement = "Need Improvement"
)

// Summary is the final result of an interview.
type Summary struct {
	MCQ      float64          `json:"mcq_score"`
	Coding   float64          `json:"coding_score"`
	Voice    float64          `json:"voice_score"`
	Overall  float64          `json:"overall_score"`
	Status   string           `json:"status"`
	Rounds   []string         `json:"rounds_completed"`
	Feedback backend.Feedback `json:"feedback"`
}

func (s *Summary) clone() *Summary {
	c := *s
	c.Rounds = append([]string(nil), s.Rounds...)
	return &c
}

// Overall returns round((mcq+coding+voice)/3).
func Overall(mcq, coding, voice float64) float64 {
	return math.Round((mcq + coding + voice) / 3)
}

// ResultsRound is the results stage of a [Controller].
type ResultsRound struct{ c *Controller }

// Results returns the results round.
func (c *Controller) Results() *ResultsRound { return &ResultsRound{c: c} }

// Complete computes the overall score, submits it with the three stage
// scores and caches the narrative feedback. Missing scores count as 0. Once
// complete, further calls return the cached summary. Results is terminal;
// Complete never advances the stage.
func (r *ResultsRound) Complete(ctx context.Context) (*Summary, error) {
	c := r.c
	c.mu.Lock()
	if err := c.requireLocked(StageResults); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.summary != nil {
		s := c.summary.clone()
		c.mu.Unlock()
		return s, nil
	}
	if err := c.acquireLocked(actResultsFinish); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	sid := c.st.sessionID
	username := c.st.profile.Name
	mcq, coding, voice := c.st.scores[StageMCQ], c.st.scores[StageCoding], c.st.scores[StageVoice]
	threshold := float64(c.settings.Results.PassThreshold)
	c.mu.Unlock()
	defer c.release(actResultsFinish, sid)

	ctx, span := observe.StartSpan(ctx, "interview.results.complete", observe.SessionSpan(c.key, sid))
	defer span.End()

	overall := Overall(mcq, coding, voice)
	data := backend.InterviewData{
		MCQScore:        mcq,
		CodingScore:     coding,
		VerbalScore:     voice,
		OverallScore:    overall,
		RoundsCompleted: append([]string(nil), backend.Rounds...),
	}
	comp, err := c.backend.CompleteInterview(ctx, username, data)
	if err != nil {
		return nil, c.backendErr(ctx, sid, StageResults, "complete interview", err)
	}

	s := &Summary{
		MCQ:      mcq,
		Coding:   coding,
		Voice:    voice,
		Overall:  overall,
		Status:   StatusNeedImprovement,
		Rounds:   data.RoundsCompleted,
		Feedback: comp.Feedback,
	}
	if overall >= threshold {
		s.Status = StatusShortlisted
	}

	c.mu.Lock()
	if err := c.currentLocked(sid, StageResults); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.summary = s
	c.mu.Unlock()

	observe.Logger(ctx).Info("interview: completed", "key", c.key, "session_id", sid, "overall", overall, "status", s.Status)
	c.publish(Event{Kind: EventResults, SessionID: sid, Stage: StageResults.String(), Score: scorePtr(overall), Message: s.Status})
	return s.clone(), nil
}

// Summary returns the cached summary, or [ErrNotLoaded] before Complete
// succeeded.
func (r *ResultsRound) Summary() (*Summary, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if err := r.c.requireLocked(StageResults); err != nil {
		return nil, err
	}
	if r.c.summary == nil {
		return nil, fmt.Errorf("%w: results", ErrNotLoaded)
	}
	return r.c.summary.clone(), nil
}

// Render writes the cached summary as plain text.
func (r *ResultsRound) Render(w io.Writer) error {
	s, err := r.Summary()
	if err != nil {
		return err
	}
	return s.Render(w)
}

// Render writes s as plain text.
func (s *Summary) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	fmt.Fprintf(&b, "Overall: %.0f%%  (MCQ %.0f%%, Coding %.0f%%, Voice %.0f%%)\n", s.Overall, s.MCQ, s.Coding, s.Voice)
	if s.Feedback.Summary != "" {
		fmt.Fprintf(&b, "\nSummary\n%s\n", s.Feedback.Summary)
	}
	section(&b, "Strengths", s.Feedback.Strengths)
	section(&b, "Weaknesses", s.Feedback.Weaknesses)
	section(&b, "Recommendations", s.Feedback.Recommendations)
	section(&b, "Action plan", s.Feedback.ActionPlan)
	_, err := io.WriteString(w, b.String())
	return err
}

func section(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}
