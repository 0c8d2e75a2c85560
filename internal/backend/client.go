package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/resilience"
)

// DefaultBaseURL is the API root of a locally running backend.
const DefaultBaseURL = "http://127.0.0.1:5000/api"

// maxBodyBytes bounds how much of any reply is read.
const maxBodyBytes = 8 << 20

var _ Client = (*HTTPClient)(nil)

// StatusError is returned when the backend answers with a non-2xx status.
// Message carries the body's "error" field when present.
type StatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend: %s: status %d", e.Operation, e.StatusCode)
}

// IsBreakerFailure reports whether err indicates an unhealthy backend. Caller
// cancellations and 4xx replies do not count.
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return true
}

// HTTPClient implements [Client] over the backend's JSON API.
// It is safe for concurrent use.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// Option is a functional option for [HTTPClient].
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying [http.Client].
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		if c != nil {
			h.httpClient = c
		}
	}
}

// WithTimeout bounds every request. A zero or negative value means no
// timeout beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) {
		if d > 0 {
			h.httpClient.Timeout = d
		}
	}
}

// WithBreaker routes every call through cb. An open breaker fails calls
// fast with [resilience.ErrCircuitOpen].
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(h *HTTPClient) { h.breaker = cb }
}

// WithMetrics records call metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *HTTPClient) {
		if m != nil {
			h.metrics = m
		}
	}
}

// New constructs an [HTTPClient]. An empty baseURL selects [DefaultBaseURL].
func New(baseURL string, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("backend: base url %q must be an absolute http(s) URL", baseURL)
	}

	h := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h, nil
}

// BaseURL returns the configured API root.
func (h *HTTPClient) BaseURL() string { return h.baseURL }

// Breaker returns the circuit breaker, or nil when none is configured.
func (h *HTTPClient) Breaker() *resilience.CircuitBreaker { return h.breaker }

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// RegisterCandidate implements [Client].
func (h *HTTPClient) RegisterCandidate(ctx context.Context, req RegisterRequest) (*Registration, error) {
	var out Registration
	if err := h.postJSON(ctx, "user.register", "/user/register", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadResume implements [Client] with a multipart "file" upload.
func (h *HTTPClient) UploadResume(ctx context.Context, username, filename string, data []byte) (*Skills, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("backend: resume.upload: build form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("backend: resume.upload: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("backend: resume.upload: build form: %w", err)
	}

	var out struct {
		Skills   Skills `json:"skills"`
		Filename string `json:"filename"`
	}
	path := "/resume/upload/" + url.PathEscape(username)
	if err := h.call(ctx, "resume.upload", http.MethodPost, path, &buf, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	out.Skills.Filename = out.Filename
	return &out.Skills, nil
}

// MatchJob implements [Client].
func (h *HTTPClient) MatchJob(ctx context.Context, username, jobDescription string) (*JobMatch, error) {
	var out struct {
		MatchResult JobMatch `json:"match_result"`
	}
	body := map[string]string{"job_description": jobDescription}
	path := "/resume/match/" + url.PathEscape(username)
	if err := h.postJSON(ctx, "resume.match", path, body, &out); err != nil {
		return nil, err
	}
	return &out.MatchResult, nil
}

// FetchMCQ implements [Client].
func (h *HTTPClient) FetchMCQ(ctx context.Context, difficulty string, count int) ([]Question, error) {
	q := url.Values{}
	q.Set("difficulty", difficulty)
	q.Set("count", strconv.Itoa(count))

	var out struct {
		Questions []Question `json:"questions"`
	}
	if err := h.call(ctx, "mcq.questions", http.MethodGet, "/mcq/questions?"+q.Encode(), nil, "", &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// SubmitMCQ implements [Client].
func (h *HTTPClient) SubmitMCQ(ctx context.Context, username string, answers map[string]string) (float64, error) {
	if answers == nil {
		answers = map[string]string{}
	}
	body := struct {
		Username string            `json:"username"`
		Answers  map[string]string `json:"answers"`
	}{username, answers}

	var out struct {
		Evaluation struct {
			ScorePercentage float64 `json:"score_percentage"`
		} `json:"evaluation"`
	}
	if err := h.postJSON(ctx, "mcq.evaluate", "/mcq/evaluate", body, &out); err != nil {
		return 0, err
	}
	return out.Evaluation.ScorePercentage, nil
}

// FetchProblems implements [Client].
func (h *HTTPClient) FetchProblems(ctx context.Context, difficulty string) ([]Problem, error) {
	q := url.Values{}
	q.Set("difficulty", difficulty)

	var out struct {
		Problems []Problem `json:"problems"`
	}
	if err := h.call(ctx, "coding.problems", http.MethodGet, "/coding/problems?"+q.Encode(), nil, "", &out); err != nil {
		return nil, err
	}
	return out.Problems, nil
}

// RunCode implements [Client].
func (h *HTTPClient) RunCode(ctx context.Context, code string, problemID ID) (*RunReport, error) {
	body := struct {
		Code      string `json:"code"`
		ProblemID ID     `json:"problem_id"`
	}{code, problemID}

	var out struct {
		Result RunReport `json:"result"`
	}
	if err := h.postJSON(ctx, "coding.execute", "/coding/execute", body, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// SubmitCode implements [Client].
func (h *HTTPClient) SubmitCode(ctx context.Context, req SubmitCodeRequest) (float64, error) {
	var out struct {
		Result struct {
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := h.postJSON(ctx, "coding.submit", "/coding/submit", req, &out); err != nil {
		return 0, err
	}
	return out.Result.Score, nil
}

// AnalyzeIntro implements [Client].
func (h *HTTPClient) AnalyzeIntro(ctx context.Context, username, introText string) (Analysis, error) {
	body := map[string]string{"username": username, "intro_text": introText}
	var out struct {
		Analysis Analysis `json:"analysis"`
	}
	if err := h.postJSON(ctx, "interview.intro", "/interview/intro", body, &out); err != nil {
		return nil, err
	}
	return out.Analysis, nil
}

// NextQuestion implements [Client].
func (h *HTTPClient) NextQuestion(ctx context.Context, req QuestionRequest) (string, error) {
	cat := req.Category
	if cat == "" {
		cat = CategoryBehavioral
	}
	if req.History == nil {
		req.History = []Turn{}
	}
	var out struct {
		Question string `json:"question"`
	}
	path := "/interview/" + url.PathEscape(string(cat)) + "/question"
	if err := h.postJSON(ctx, "interview.question."+string(cat), path, req, &out); err != nil {
		return "", err
	}
	return out.Question, nil
}

// SubmitVerbalAnswer implements [Client].
func (h *HTTPClient) SubmitVerbalAnswer(ctx context.Context, username, question, answer string) (Analysis, error) {
	body := map[string]string{"username": username, "question": question, "answer": answer}
	var out struct {
		Analysis Analysis `json:"analysis"`
	}
	if err := h.postJSON(ctx, "interview.answer", "/interview/hr/answer", body, &out); err != nil {
		return nil, err
	}
	return out.Analysis, nil
}

// CompleteInterview implements [Client].
func (h *HTTPClient) CompleteInterview(ctx context.Context, username string, data InterviewData) (*Completion, error) {
	if data.RoundsCompleted == nil {
		data.RoundsCompleted = append([]string(nil), Rounds...)
	}
	body := struct {
		InterviewData InterviewData `json:"interview_data"`
	}{data}

	var out Completion
	path := "/interview/complete/" + url.PathEscape(username)
	if err := h.postJSON(ctx, "interview.complete", path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (h *HTTPClient) postJSON(ctx context.Context, op, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("backend: %s: marshal request: %w", op, err)
	}
	return h.call(ctx, op, http.MethodPost, path, bytes.NewReader(data), "application/json", out)
}

// call issues one request through the breaker and decodes a 2xx body into
// out. A body that is not valid JSON leaves out at its zero value.
func (h *HTTPClient) call(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	ctx, span := observe.StartSpan(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("backend.operation", op),
		),
	)
	defer span.End()

	start := time.Now()
	do := func() error { return h.roundTrip(ctx, op, method, path, body, contentType, out) }

	var err error
	if h.breaker != nil {
		err = h.breaker.Execute(do)
	} else {
		err = do()
	}

	status := "ok"
	if err != nil {
		status = "error"
		kind := errorKind(err)
		h.metrics.RecordBackendError(ctx, op, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		observe.Logger(ctx).Warn("backend call failed", "operation", op, "kind", kind, "err", err)
	}
	h.metrics.RecordBackendCall(ctx, op, status, time.Since(start))
	return err
}

func (h *HTTPClient) roundTrip(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("backend: %s: build request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("backend: %s: read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &eb)
		return &StatusError{Operation: op, StatusCode: resp.StatusCode, Message: eb.Error}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		slog.Warn("backend: malformed response body, using defaults", "operation", op, "err", err)
	}
	return nil
}

func errorKind(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &se):
		return "status"
	default:
		return "transport"
	}
}
