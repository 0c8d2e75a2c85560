// Package mock provides an in-memory [backend.Client] for tests.
//
// Every method records its arguments and returns the matching exported
// result or error field. Per-call hooks (the *Func fields) take precedence
// when set. The mock is safe for concurrent use.
//
// Example:
//
//	c := &mock.Client{MCQScore: 70}
//	score, err := c.SubmitMCQ(ctx, "asha", answers)
package mock

import (
	"context"
	"maps"
	"sync"

	"github.com/MrWong99/mockinterview/internal/backend"
)

var _ backend.Client = (*Client)(nil)

// Call records one invocation.
type Call struct {
	// Method is the [backend.Client] method name.
	Method string
	// Args holds the call arguments after ctx, in order.
	Args []any
}

// Client is a mock implementation of [backend.Client].
type Client struct {
	mu    sync.Mutex
	calls []Call

	Registration *backend.Registration
	RegisterErr  error

	Skills    *backend.Skills
	UploadErr error

	Match    *backend.JobMatch
	MatchErr error

	Questions   []backend.Question
	QuestionErr error

	MCQScore     float64
	SubmitMCQErr error

	Problems    []backend.Problem
	ProblemsErr error

	Run    *backend.RunReport
	RunErr error

	CodeScore     float64
	SubmitCodeErr error

	IntroAnalysis backend.Analysis
	IntroErr      error

	// NextQuestions is consumed in order by NextQuestion; when exhausted the
	// last entry is repeated.
	NextQuestions   []string
	NextQuestionErr error

	// AnswerAnalyses is consumed in order by SubmitVerbalAnswer.
	AnswerAnalyses []backend.Analysis
	AnswerErr      error

	Completion  *backend.Completion
	CompleteErr error

	// Optional hooks; when set they replace the field-based behaviour.
	SubmitMCQFunc    func(ctx context.Context, username string, answers map[string]string) (float64, error)
	SubmitCodeFunc   func(ctx context.Context, req backend.SubmitCodeRequest) (float64, error)
	NextQuestionFunc func(ctx context.Context, req backend.QuestionRequest) (string, error)
	CompleteFunc     func(ctx context.Context, username string, data backend.InterviewData) (*backend.Completion, error)

	nextQuestionIdx int
	answerIdx       int
}

func (c *Client) record(method string, args ...any) {
	c.calls = append(c.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsTo returns the recorded calls of one method.
func (c *Client) CallsTo(method string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// Methods returns the recorded method names in call order.
func (c *Client) Methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.Method
	}
	return out
}

// Reset clears the recorded calls and the sequence cursors.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
	c.nextQuestionIdx = 0
	c.answerIdx = 0
}

// RegisterCandidate implements [backend.Client].
func (c *Client) RegisterCandidate(_ context.Context, req backend.RegisterRequest) (*backend.Registration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("RegisterCandidate", req)
	if c.RegisterErr != nil {
		return nil, c.RegisterErr
	}
	if c.Registration != nil {
		r := *c.Registration
		return &r, nil
	}
	return &backend.Registration{Message: "User registered successfully", IsNew: true}, nil
}

// UploadResume implements [backend.Client].
func (c *Client) UploadResume(_ context.Context, username, filename string, data []byte) (*backend.Skills, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("UploadResume", username, filename, len(data))
	if c.UploadErr != nil {
		return nil, c.UploadErr
	}
	if c.Skills != nil {
		s := *c.Skills
		return &s, nil
	}
	return &backend.Skills{Filename: filename}, nil
}

// MatchJob implements [backend.Client].
func (c *Client) MatchJob(_ context.Context, username, jobDescription string) (*backend.JobMatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("MatchJob", username, jobDescription)
	if c.MatchErr != nil {
		return nil, c.MatchErr
	}
	if c.Match != nil {
		m := *c.Match
		return &m, nil
	}
	return &backend.JobMatch{}, nil
}

// FetchMCQ implements [backend.Client].
func (c *Client) FetchMCQ(_ context.Context, difficulty string, count int) ([]backend.Question, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("FetchMCQ", difficulty, count)
	if c.QuestionErr != nil {
		return nil, c.QuestionErr
	}
	return append([]backend.Question(nil), c.Questions...), nil
}

// SubmitMCQ implements [backend.Client].
func (c *Client) SubmitMCQ(ctx context.Context, username string, answers map[string]string) (float64, error) {
	c.mu.Lock()
	c.record("SubmitMCQ", username, maps.Clone(answers))
	fn := c.SubmitMCQFunc
	score, err := c.MCQScore, c.SubmitMCQErr
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, username, answers)
	}
	return score, err
}

// FetchProblems implements [backend.Client].
func (c *Client) FetchProblems(_ context.Context, difficulty string) ([]backend.Problem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("FetchProblems", difficulty)
	if c.ProblemsErr != nil {
		return nil, c.ProblemsErr
	}
	return append([]backend.Problem(nil), c.Problems...), nil
}

// RunCode implements [backend.Client].
func (c *Client) RunCode(_ context.Context, code string, problemID backend.ID) (*backend.RunReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("RunCode", code, problemID)
	if c.RunErr != nil {
		return nil, c.RunErr
	}
	if c.Run != nil {
		r := *c.Run
		return &r, nil
	}
	return &backend.RunReport{}, nil
}

// SubmitCode implements [backend.Client].
func (c *Client) SubmitCode(ctx context.Context, req backend.SubmitCodeRequest) (float64, error) {
	c.mu.Lock()
	c.record("SubmitCode", req)
	fn := c.SubmitCodeFunc
	score, err := c.CodeScore, c.SubmitCodeErr
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return score, err
}

// AnalyzeIntro implements [backend.Client].
func (c *Client) AnalyzeIntro(_ context.Context, username, introText string) (backend.Analysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("AnalyzeIntro", username, introText)
	if c.IntroErr != nil {
		return nil, c.IntroErr
	}
	return maps.Clone(c.IntroAnalysis), nil
}

// NextQuestion implements [backend.Client].
func (c *Client) NextQuestion(ctx context.Context, req backend.QuestionRequest) (string, error) {
	c.mu.Lock()
	req.History = append([]backend.Turn(nil), req.History...)
	c.record("NextQuestion", req)
	fn := c.NextQuestionFunc
	if fn != nil {
		c.mu.Unlock()
		return fn(ctx, req)
	}
	defer c.mu.Unlock()
	if c.NextQuestionErr != nil {
		return "", c.NextQuestionErr
	}
	if len(c.NextQuestions) == 0 {
		return "", nil
	}
	i := min(c.nextQuestionIdx, len(c.NextQuestions)-1)
	c.nextQuestionIdx++
	return c.NextQuestions[i], nil
}

// SubmitVerbalAnswer implements [backend.Client].
func (c *Client) SubmitVerbalAnswer(_ context.Context, username, question, answer string) (backend.Analysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SubmitVerbalAnswer", username, question, answer)
	if c.AnswerErr != nil {
		return nil, c.AnswerErr
	}
	if c.answerIdx >= len(c.AnswerAnalyses) {
		return backend.Analysis{}, nil
	}
	a := c.AnswerAnalyses[c.answerIdx]
	c.answerIdx++
	return maps.Clone(a), nil
}

// CompleteInterview implements [backend.Client].
func (c *Client) CompleteInterview(ctx context.Context, username string, data backend.InterviewData) (*backend.Completion, error) {
	c.mu.Lock()
	c.record("CompleteInterview", username, data)
	fn := c.CompleteFunc
	comp, err := c.Completion, c.CompleteErr
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, username, data)
	}
	if err != nil {
		return nil, err
	}
	if comp != nil {
		cp := *comp
		return &cp, nil
	}
	return &backend.Completion{OverallScore: data.OverallScore}, nil
}
