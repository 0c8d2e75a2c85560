// Package interview implements the interview session controller.
//
// A [Controller] drives one candidate through five strictly ordered stages:
//
//	Registration → MCQ → Coding → Voice → Results
//
// Each stage is exposed as a round handle ([MCQRound], [CodingRound],
// [VoiceRound], [ResultsRound]) whose methods fail with [ErrWrongStage] when
// their stage is not current. Scored stages record exactly one score through
// a stage-bound [ScoreWriter]; the score and the next stage are saved to the
// session store before the in-memory state advances.
//
// All exported methods are safe for concurrent use. Backend calls run
// without holding the controller lock; per-action guards reject overlapping
// submissions with [ErrBusy].
package interview

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Callers match them with [errors.Is].
var (
	// ErrWrongStage is returned when an operation belongs to a stage that is
	// not current, or when the session changed while the operation ran.
	ErrWrongStage = errors.New("interview: wrong stage")

	// ErrBusy is returned when the same action is already in flight.
	ErrBusy = errors.New("interview: action already in progress")

	// ErrNoOptions is returned when selecting an answer for a question that
	// offers no choices.
	ErrNoOptions = errors.New("interview: question has no options")

	// ErrNoProblem is returned when the backend has no coding problem.
	ErrNoProblem = errors.New("interview: no coding problem available")

	// ErrNotLoaded is returned when stage data has not been loaded yet.
	ErrNotLoaded = errors.New("interview: stage data not loaded")

	// ErrExpired is returned when answers change after the MCQ countdown
	// reached zero.
	ErrExpired = errors.New("interview: countdown expired")

	// ErrInvalid marks validation failures of caller input.
	ErrInvalid = errors.New("interview: invalid input")

	// ErrBackend wraps every failed backend call.
	ErrBackend = errors.New("interview: backend call failed")

	// ErrStore wraps every failed session store operation.
	ErrStore = errors.New("interview: session store failed")
)

// Stage is one step of the interview.
type Stage int

const (
	StageRegistration Stage = iota
	StageMCQ
	StageCoding
	StageVoice
	StageResults
)

var stageNames = [...]string{
	StageRegistration: "registration",
	StageMCQ:          "mcq",
	StageCoding:       "coding",
	StageVoice:        "voice",
	StageResults:      "results",
}

// String returns the lower-case stage name used in snapshots and the API.
func (s Stage) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// IsValid reports whether s is one of the five defined stages.
func (s Stage) IsValid() bool {
	return s >= StageRegistration && s <= StageResults
}

// Next returns the stage that follows s. Results is terminal and returns
// itself.
func (s Stage) Next() Stage {
	if s >= StageResults {
		return StageResults
	}
	return s + 1
}

// Scored reports whether s records a score before advancing.
func (s Stage) Scored() bool {
	return s == StageMCQ || s == StageCoding || s == StageVoice
}

// ParseStage is the inverse of [Stage.String].
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("interview: unknown stage %q", name)
}

// ExperienceLevel is the candidate's self-reported seniority.
type ExperienceLevel string

const (
	LevelFresher ExperienceLevel = "Fresher"
	LevelJunior  ExperienceLevel = "Junior"
	LevelMid     ExperienceLevel = "Mid"
	LevelSenior  ExperienceLevel = "Senior"
)

// IsValid reports whether l is a recognised level.
func (l ExperienceLevel) IsValid() bool {
	switch l {
	case LevelFresher, LevelJunior, LevelMid, LevelSenior:
		return true
	}
	return false
}

// Profile identifies the candidate. It is fixed at registration.
type Profile struct {
	// Name is the candidate's key in the backend.
	Name            string          `json:"name"`
	ExperienceLevel ExperienceLevel `json:"experience_level"`
	TargetRole      string          `json:"target_role"`
	JobDescription  string          `json:"job_description,omitempty"`
	// ResumeName is the file name of the uploaded resume, if any.
	ResumeName string `json:"resume_name,omitempty"`
}

// Validate returns all problems with p joined into one error. Every
// returned error matches [ErrInvalid].
func (p Profile) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, fmt.Errorf("%w: name is required", ErrInvalid))
	}
	if !p.ExperienceLevel.IsValid() {
		errs = append(errs, fmt.Errorf("%w: experience level %q is invalid; valid values: Fresher, Junior, Mid, Senior", ErrInvalid, p.ExperienceLevel))
	}
	return errors.Join(errs...)
}

// Resume is an uploaded resume file.
type Resume struct {
	Filename string
	Data     []byte
}
