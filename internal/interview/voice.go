package interview

import (
	"context"
	"fmt"
	"math"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/speech"
)

// OpeningQuestion is asked at step 0.
const OpeningQuestion = "Tell me about yourself and your experience."

// VoiceStep is the position in the fixed five-question voice script.
type VoiceStep int

const (
	StepIntro VoiceStep = iota
	StepProject1
	StepProject2
	StepBehavioral1
	StepBehavioral2
)

// VoiceSteps is the number of scored voice answers.
const VoiceSteps = 5

var stepNames = [VoiceSteps]string{"intro", "project_1", "project_2", "behavioral_1", "behavioral_2"}

func (s VoiceStep) String() string {
	if s < 0 || int(s) >= VoiceSteps {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

type scorer int

const (
	scoreIntro scorer = iota
	scoreAnswer
)

// transition describes how an answer at one step is scored and which
// question follows it. A zero category ends the script.
type transition struct {
	scoredBy scorer
	next     backend.Category
	tone     string
}

var script = [VoiceSteps]transition{
	StepIntro:       {scoredBy: scoreIntro, next: backend.CategoryProject, tone: "professional"},
	StepProject1:    {scoredBy: scoreAnswer, next: backend.CategoryProject, tone: "professional"},
	StepProject2:    {scoredBy: scoreAnswer, next: backend.CategoryBehavioral, tone: "friendly"},
	StepBehavioral1: {scoredBy: scoreAnswer, next: backend.CategoryBehavioral, tone: "friendly"},
	StepBehavioral2: {scoredBy: scoreAnswer},
}

type voiceSession struct {
	step     VoiceStep
	question string
	history  []backend.Turn
	scores   [VoiceSteps]float64
	// scored is true once the answer at step has been scored and appended
	// to history but the following question has not been fetched yet.
	scored bool
}

// VoiceState is a view of the voice session.
type VoiceState struct {
	Step     VoiceStep      `json:"step"`
	Question string         `json:"question"`
	History  []backend.Turn `json:"history"`
	Scores   []float64      `json:"scores"`
}

func (v *voiceSession) view() VoiceState {
	answered := len(v.history)
	return VoiceState{
		Step:     v.step,
		Question: v.question,
		History:  append([]backend.Turn(nil), v.history...),
		Scores:   append([]float64(nil), v.scores[:answered]...),
	}
}

// VoiceRound is the voice stage of a [Controller].
type VoiceRound struct{ c *Controller }

// Voice returns the voice round.
func (c *Controller) Voice() *VoiceRound { return &VoiceRound{c: c} }

// sessionLocked returns the voice session, creating it with the opening
// question on first use.
func (r *VoiceRound) sessionLocked() (*voiceSession, error) {
	if err := r.c.requireLocked(StageVoice); err != nil {
		return nil, err
	}
	if r.c.voice == nil {
		r.c.voice = &voiceSession{step: StepIntro, question: OpeningQuestion}
	}
	return r.c.voice, nil
}

// State returns the current step, question, history and scores.
func (r *VoiceRound) State() (VoiceState, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	v, err := r.sessionLocked()
	if err != nil {
		return VoiceState{}, err
	}
	return v.view(), nil
}

// Start returns the current question and speaks it.
func (r *VoiceRound) Start(ctx context.Context) (string, error) {
	r.c.mu.Lock()
	v, err := r.sessionLocked()
	if err != nil {
		r.c.mu.Unlock()
		return "", err
	}
	q := v.question
	r.c.mu.Unlock()

	r.c.speak(ctx, q)
	return q, nil
}

// Listen captures one spoken answer through the speech capability. Capture
// stops after the configured silence window.
func (r *VoiceRound) Listen(ctx context.Context) (string, error) {
	c := r.c
	c.mu.Lock()
	if err := c.requireLocked(StageVoice); err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.mu.Unlock()
	if c.speech == nil {
		return "", fmt.Errorf("interview: listen: no speech capability configured")
	}
	text, err := speech.Capture(ctx, c.speech, c.settings.Voice.SilenceTimeout)
	if err != nil {
		observe.Logger(ctx).Warn("interview: speech capture failed", "key", c.key, "err", err)
	}
	return text, err
}

// Answer scores transcript as the answer to the current question, then
// fetches and speaks the next question using the full history. After the
// fifth answer the mean score is recorded and the session advances to
// Results; done is true and next is empty.
//
// When the question fetch fails the answer stays scored; a retry only
// repeats the fetch and ignores the new transcript.
func (r *VoiceRound) Answer(ctx context.Context, transcript string) (next string, done bool, err error) {
	c := r.c
	c.mu.Lock()
	v, err := r.sessionLocked()
	if err != nil {
		c.mu.Unlock()
		return "", false, err
	}
	if err := c.acquireLocked(actVoiceAnswer); err != nil {
		c.mu.Unlock()
		return "", false, err
	}
	sid := c.st.sessionID
	username := c.st.profile.Name
	step, question, scored := v.step, v.question, v.scored
	c.mu.Unlock()
	defer c.release(actVoiceAnswer, sid)

	ctx, span := observe.StartSpan(ctx, "interview.voice.answer", observe.SessionSpan(c.key, sid))
	defer span.End()

	t := script[step]
	if !scored {
		score, err := c.scoreAnswer(ctx, t.scoredBy, username, question, transcript)
		if err != nil {
			return "", false, c.backendErr(ctx, sid, StageVoice, "score answer", err)
		}
		c.mu.Lock()
		if err := c.currentLocked(sid, StageVoice); err != nil {
			c.mu.Unlock()
			return "", false, err
		}
		v.scores[step] = clampScore(score)
		v.history = append(v.history, backend.Turn{Question: question, Answer: transcript})
		v.scored = true
		c.mu.Unlock()
		observe.Logger(ctx).Info("interview: voice answer scored", "key", c.key, "session_id", sid, "step", step.String(), "score", score)
	}

	if t.next == "" {
		c.mu.Lock()
		mean := voiceMean(v.scores)
		c.mu.Unlock()
		w := &ScoreWriter{c: c, sid: sid, stage: StageVoice}
		if err := w.Record(ctx, mean); err != nil {
			return "", false, err
		}
		return "", true, nil
	}

	c.mu.Lock()
	history := append([]backend.Turn(nil), v.history...)
	c.mu.Unlock()

	next, err = c.backend.NextQuestion(ctx, backend.QuestionRequest{
		Username: username,
		Category: t.next,
		History:  history,
		Tone:     t.tone,
	})
	if err != nil {
		return "", false, c.backendErr(ctx, sid, StageVoice, "next question", err)
	}

	c.mu.Lock()
	if err := c.currentLocked(sid, StageVoice); err != nil {
		c.mu.Unlock()
		return "", false, err
	}
	v.step++
	v.question = next
	v.scored = false
	c.mu.Unlock()

	c.publish(Event{Kind: EventQuestion, SessionID: sid, Stage: StageVoice.String(), Message: next})
	c.speak(ctx, next)
	return next, false, nil
}

func (c *Controller) scoreAnswer(ctx context.Context, by scorer, username, question, transcript string) (float64, error) {
	var (
		a   backend.Analysis
		err error
	)
	switch by {
	case scoreIntro:
		a, err = c.backend.AnalyzeIntro(ctx, username, transcript)
	default:
		a, err = c.backend.SubmitVerbalAnswer(ctx, username, question, transcript)
	}
	if err != nil {
		return 0, err
	}
	return a.Score(), nil
}

// voiceMean averages all five step scores, counting missing ones as 0, and
// rounds to the nearest integer.
func voiceMean(scores [VoiceSteps]float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return math.Round(sum / VoiceSteps)
}

// speak is best effort: failures are logged and never block the interview.
func (c *Controller) speak(ctx context.Context, text string) {
	if c.speech == nil || text == "" {
		return
	}
	if err := c.speech.Speak(ctx, text); err != nil {
		observe.Logger(ctx).Warn("interview: speak failed", "key", c.key, "err", err)
	}
}
