// Package backend is the client for the remote grading and
// question-generation service.
//
// [Client] is the narrow interface the interview controller depends on. The
// HTTP implementation returned by [New] speaks the service's JSON API; the
// mock subpackage records calls for tests.
//
// Responses are read leniently: a missing field decodes to its zero value and
// never fails the call. Non-2xx replies surface as [*StatusError]. Calls are
// never retried automatically.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Client is the set of backend operations used during an interview.
// Implementations must be safe for concurrent use.
type Client interface {
	// RegisterCandidate creates or re-welcomes a candidate.
	RegisterCandidate(ctx context.Context, req RegisterRequest) (*Registration, error)

	// UploadResume sends a resume file and returns the extracted skills.
	UploadResume(ctx context.Context, username, filename string, data []byte) (*Skills, error)

	// MatchJob compares the uploaded resume against a job description.
	MatchJob(ctx context.Context, username, jobDescription string) (*JobMatch, error)

	// FetchMCQ returns up to count questions at the given difficulty.
	FetchMCQ(ctx context.Context, difficulty string, count int) ([]Question, error)

	// SubmitMCQ grades the answers (question id → letter, "" when unanswered)
	// and returns the percentage score.
	SubmitMCQ(ctx context.Context, username string, answers map[string]string) (float64, error)

	// FetchProblems returns coding problems at the given difficulty.
	FetchProblems(ctx context.Context, difficulty string) ([]Problem, error)

	// RunCode executes code against the problem's visible tests. The result
	// is advisory and never scored.
	RunCode(ctx context.Context, code string, problemID ID) (*RunReport, error)

	// SubmitCode grades a solution and returns the percentage score.
	SubmitCode(ctx context.Context, req SubmitCodeRequest) (float64, error)

	// AnalyzeIntro scores the candidate's self-introduction.
	AnalyzeIntro(ctx context.Context, username, introText string) (Analysis, error)

	// NextQuestion generates the next voice question from the full history.
	NextQuestion(ctx context.Context, req QuestionRequest) (string, error)

	// SubmitVerbalAnswer scores one voice answer.
	SubmitVerbalAnswer(ctx context.Context, username, question, answer string) (Analysis, error)

	// CompleteInterview submits the final scores and returns narrative feedback.
	CompleteInterview(ctx context.Context, username string, data InterviewData) (*Completion, error)
}

// ID is a backend identifier that may arrive as a JSON number or string.
type ID string

// UnmarshalJSON accepts both 7 and "7".
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("backend: id must be a number or string: %s", b)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as JSON numbers so the backend sees the
// same type it sent.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// RegisterRequest is the payload of [Client.RegisterCandidate].
type RegisterRequest struct {
	Username        string `json:"username"`
	ExperienceLevel string `json:"experience_level"`
	TargetRole      string `json:"target_role"`
	JobDescription  string `json:"job_description"`
}

// Registration is the reply to [Client.RegisterCandidate].
type Registration struct {
	Message string `json:"message"`
	IsNew   bool   `json:"is_new"`
}

// Skills holds skills extracted from a resume.
type Skills struct {
	Technical []string `json:"technical_skills"`
	Soft      []string `json:"soft_skills"`
	Filename  string   `json:"-"`
}

// JobMatch compares resume skills against a job description.
type JobMatch struct {
	Score    float64  `json:"match_score"`
	Matching []string `json:"matching_skills"`
	Missing  []string `json:"missing_skills"`
}

// Question is one multiple-choice question. Options may be empty.
type Question struct {
	ID         ID       `json:"id"`
	Text       string   `json:"question"`
	Options    []string `json:"options"`
	Category   string   `json:"category"`
	Difficulty string   `json:"difficulty"`
}

// Example is one worked example attached to a coding problem.
type Example struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

// Problem is one coding problem.
type Problem struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	Difficulty  string    `json:"difficulty"`
	Description string    `json:"description"`
	Examples    []Example `json:"examples"`
	Template    string    `json:"template"`
}

// TestResult is the outcome of one visible test case.
type TestResult struct {
	Passed   bool   `json:"passed"`
	Expected string `json:"expected_output"`
	Actual   string `json:"actual_output"`
}

// RunReport is the advisory result of [Client.RunCode].
type RunReport struct {
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Results []TestResult `json:"results"`
	Error   string       `json:"error"`
}

// Message renders the report the way the candidate sees it.
func (r *RunReport) Message() string {
	if r.Error != "" {
		return r.Error
	}
	return fmt.Sprintf("Execution complete: %d passed, %d failed.", r.Passed, r.Failed)
}

// SubmitCodeRequest is the payload of [Client.SubmitCode].
type SubmitCodeRequest struct {
	Username  string `json:"username"`
	Code      string `json:"code"`
	ProblemID ID     `json:"problem_id"`
	Language  string `json:"language"`
}

// Turn is one answered voice question.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Category selects the question generator for [Client.NextQuestion].
type Category string

const (
	CategoryProject    Category = "project"
	CategoryBehavioral Category = "hr"
)

// QuestionRequest is the payload of [Client.NextQuestion].
type QuestionRequest struct {
	Username string   `json:"username"`
	Category Category `json:"-"`
	History  []Turn   `json:"conversation_history"`
	Tone     string   `json:"tone"`
}

// Analysis is the free-form grading result of a spoken answer.
type Analysis map[string]any

// Score extracts the numeric score: "score" first, then "Overall Score",
// otherwise 0. Numeric strings are accepted.
func (a Analysis) Score() float64 {
	for _, key := range []string{"score", "Overall Score"} {
		if v, ok := a[key]; ok {
			if f, ok := toFloat(v); ok {
				return f
			}
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%")), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

// Rounds lists the completed rounds reported to the backend.
var Rounds = []string{"Technical", "Coding", "Verbal"}

// InterviewData is the payload of [Client.CompleteInterview].
type InterviewData struct {
	MCQScore        float64  `json:"mcq_score"`
	CodingScore     float64  `json:"coding_score"`
	VerbalScore     float64  `json:"verbal_score"`
	OverallScore    float64  `json:"overall_score"`
	RoundsCompleted []string `json:"rounds_completed"`
}

// Feedback is the narrative feedback bundle.
type Feedback struct {
	Summary         string   `json:"summary"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
	ActionPlan      []string `json:"action_plan"`
}

// UnmarshalJSON tolerates list fields sent as a single string.
func (f *Feedback) UnmarshalJSON(b []byte) error {
	var raw struct {
		Summary         any `json:"summary"`
		Strengths       any `json:"strengths"`
		Weaknesses      any `json:"weaknesses"`
		Recommendations any `json:"recommendations"`
		ActionPlan      any `json:"action_plan"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	f.Summary = strings.Join(stringList(raw.Summary), "\n")
	f.Strengths = stringList(raw.Strengths)
	f.Weaknesses = stringList(raw.Weaknesses)
	f.Recommendations = stringList(raw.Recommendations)
	f.ActionPlan = stringList(raw.ActionPlan)
	return nil
}

func stringList(v any) []string {
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		return []string{x}
	case map[string]any:
		b, _ := json.Marshal(x)
		return []string{string(b)}
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case nil:
			case map[string]any:
				b, _ := json.Marshal(s)
				out = append(out, string(b))
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	}
	return nil
}

// Completion is the reply to [Client.CompleteInterview].
type Completion struct {
	OverallScore float64  `json:"overall_score"`
	Feedback     Feedback `json:"feedback"`
}
