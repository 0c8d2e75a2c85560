package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/resilience"
)

// newClient starts a test server for handler and returns a client rooted at
// its /api path.
func newClient(t *testing.T, handler http.HandlerFunc, opts ...backend.Option) *backend.HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	c, err := backend.New(srv.URL+"/api/", append([]backend.Option{backend.WithMetrics(m)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request body: %v", err)
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	t.Parallel()
	if _, err := backend.New("localhost:5000/api"); err == nil {
		t.Error("New accepted a URL without scheme")
	}
	c, err := backend.New("")
	if err != nil {
		t.Fatalf("New(\"\"): %v", err)
	}
	if c.BaseURL() != backend.DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", c.BaseURL(), backend.DefaultBaseURL)
	}
}

func TestRegisterCandidate(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/user/register" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		body := decodeBody(t, r)
		if body["username"] != "Asha" || body["experience_level"] != "Mid" {
			t.Errorf("body = %v", body)
		}
		if _, ok := body["job_description"]; !ok {
			t.Error("job_description missing from body")
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Welcome back!", "is_new": false})
	})

	got, err := c.RegisterCandidate(context.Background(), backend.RegisterRequest{
		Username: "Asha", ExperienceLevel: "Mid", TargetRole: "SRE",
	})
	if err != nil {
		t.Fatalf("RegisterCandidate: %v", err)
	}
	if got.Message != "Welcome back!" || got.IsNew {
		t.Errorf("got %+v", got)
	}
}

func TestUploadResume_Multipart(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/resume/upload/Asha%20K" {
			t.Errorf("path = %q, want escaped username", r.URL.EscapedPath())
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "cv.pdf" || string(data) != "%PDF-1.4" {
			t.Errorf("file = %q %q", hdr.Filename, data)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"filename": "cv.pdf",
			"skills": map[string]any{
				"technical_skills": []string{"Go", "SQL"},
				"soft_skills":      []string{"Communication"},
			},
		})
	})

	got, err := c.UploadResume(context.Background(), "Asha K", "cv.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("UploadResume: %v", err)
	}
	if len(got.Technical) != 2 || got.Soft[0] != "Communication" || got.Filename != "cv.pdf" {
		t.Errorf("got %+v", got)
	}
}

func TestMatchJob(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if body := decodeBody(t, r); body["job_description"] != "Go developer" {
			t.Errorf("body = %v", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"match_result": map[string]any{
				"match_score":     62.5,
				"matching_skills": []string{"Go"},
				"missing_skills":  []string{"Kubernetes"},
			},
		})
	})
	got, err := c.MatchJob(context.Background(), "asha", "Go developer")
	if err != nil {
		t.Fatalf("MatchJob: %v", err)
	}
	if got.Score != 62.5 || got.Missing[0] != "Kubernetes" {
		t.Errorf("got %+v", got)
	}
}

func TestFetchMCQ_MixedIDsAndMissingOptions(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mcq/questions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if q := r.URL.Query(); q.Get("difficulty") != "all" || q.Get("count") != "10" {
			t.Errorf("query = %v", q)
		}
		_, _ = io.WriteString(w, `{"questions":[
			{"id": 7, "question": "2+2?", "options": ["3","4"]},
			{"id": "q-8", "question": "Open?"}
		]}`)
	})

	qs, err := c.FetchMCQ(context.Background(), "all", 10)
	if err != nil {
		t.Fatalf("FetchMCQ: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("len = %d, want 2", len(qs))
	}
	if qs[0].ID != "7" || qs[1].ID != "q-8" {
		t.Errorf("ids = %q, %q", qs[0].ID, qs[1].ID)
	}
	if qs[1].Options != nil {
		t.Errorf("options = %v, want nil", qs[1].Options)
	}
}

func TestSubmitMCQ(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		answers, _ := body["answers"].(map[string]any)
		if answers["7"] != "B" || answers["8"] != "" {
			t.Errorf("answers = %v", answers)
		}
		writeJSON(w, http.StatusOK, map[string]any{"evaluation": map[string]any{"score_percentage": 70}})
	})
	score, err := c.SubmitMCQ(context.Background(), "asha", map[string]string{"7": "B", "8": ""})
	if err != nil {
		t.Fatalf("SubmitMCQ: %v", err)
	}
	if score != 70 {
		t.Errorf("score = %v, want 70", score)
	}
}

func TestRunCode_NumericProblemIDAndMessage(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), `"problem_id":3`) {
			t.Errorf("body = %s, want numeric problem_id", raw)
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{
			"passed": 1, "failed": 1,
			"results": []map[string]any{
				{"passed": true, "expected_output": "4", "actual_output": "4"},
				{"passed": false, "expected_output": "9", "actual_output": "6"},
			},
		}})
	})
	rep, err := c.RunCode(context.Background(), "def solve(): pass", "3")
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if got := rep.Message(); got != "Execution complete: 1 passed, 1 failed." {
		t.Errorf("Message = %q", got)
	}
	if rep.Results[1].Actual != "6" {
		t.Errorf("results = %+v", rep.Results)
	}

	withErr := &backend.RunReport{Error: "SyntaxError: invalid syntax"}
	if withErr.Message() != "SyntaxError: invalid syntax" {
		t.Errorf("Message = %q", withErr.Message())
	}
}

func TestSubmitCode(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["language"] != "python" || body["username"] != "asha" {
			t.Errorf("body = %v", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"score": 85}})
	})
	score, err := c.SubmitCode(context.Background(), backend.SubmitCodeRequest{
		Username: "asha", Code: "x", ProblemID: "1", Language: "python",
	})
	if err != nil || score != 85 {
		t.Fatalf("SubmitCode = %v, %v; want 85", score, err)
	}
}

func TestAnalyzeIntro_SendsIntroText(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["intro_text"] != "I am Asha" {
			t.Errorf("body = %v, want intro_text", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{"analysis": map[string]any{"Overall Score": "72"}})
	})
	a, err := c.AnalyzeIntro(context.Background(), "asha", "I am Asha")
	if err != nil {
		t.Fatalf("AnalyzeIntro: %v", err)
	}
	if a.Score() != 72 {
		t.Errorf("Score = %v, want 72", a.Score())
	}
}

func TestNextQuestion_CategoryAndHistory(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/interview/project/question" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			Username string         `json:"username"`
			History  []backend.Turn `json:"conversation_history"`
			Tone     string         `json:"tone"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.History) != 1 || body.History[0].Answer != "I build APIs" || body.Tone != "professional" {
			t.Errorf("body = %+v", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{"question": "Describe your hardest project."})
	})
	q, err := c.NextQuestion(context.Background(), backend.QuestionRequest{
		Username: "asha",
		Category: backend.CategoryProject,
		History:  []backend.Turn{{Question: "Tell me about yourself", Answer: "I build APIs"}},
		Tone:     "professional",
	})
	if err != nil || q != "Describe your hardest project." {
		t.Fatalf("NextQuestion = %q, %v", q, err)
	}
}

func TestSubmitVerbalAnswer(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/interview/hr/answer" {
			t.Errorf("path = %q", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{"analysis": map[string]any{"score": 90, "Overall Score": 10}})
	})
	a, err := c.SubmitVerbalAnswer(context.Background(), "asha", "Q", "A")
	if err != nil {
		t.Fatalf("SubmitVerbalAnswer: %v", err)
	}
	if a.Score() != 90 {
		t.Errorf("Score = %v, want 90 (score wins over Overall Score)", a.Score())
	}
}

func TestCompleteInterview(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/interview/complete/asha" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			Data backend.InterviewData `json:"interview_data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Data.OverallScore != 78 || len(body.Data.RoundsCompleted) != 3 {
			t.Errorf("interview_data = %+v", body.Data)
		}
		_, _ = io.WriteString(w, `{"overall_score": 78, "feedback": {
			"summary": "Solid performance.",
			"strengths": ["Clear communication"],
			"weaknesses": "Edge cases",
			"recommendations": [{"topic": "Testing", "link": "https://youtube.com/results?search_query=go+testing"}],
			"action_plan": ["Week 1: tests"]
		}}`)
	})
	got, err := c.CompleteInterview(context.Background(), "asha", backend.InterviewData{
		MCQScore: 70, CodingScore: 85, VerbalScore: 80, OverallScore: 78,
	})
	if err != nil {
		t.Fatalf("CompleteInterview: %v", err)
	}
	fb := got.Feedback
	if fb.Summary != "Solid performance." || fb.Strengths[0] != "Clear communication" {
		t.Errorf("feedback = %+v", fb)
	}
	if len(fb.Weaknesses) != 1 || fb.Weaknesses[0] != "Edge cases" {
		t.Errorf("weaknesses = %v, want single-string list", fb.Weaknesses)
	}
	if len(fb.Recommendations) != 1 || !strings.Contains(fb.Recommendations[0], "Testing") {
		t.Errorf("recommendations = %v", fb.Recommendations)
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found"})
	})
	_, err := c.SubmitMCQ(context.Background(), "ghost", nil)
	var se *backend.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != 404 || se.Message != "User not found" || se.Operation != "mcq.evaluate" {
		t.Errorf("StatusError = %+v", se)
	}
	if backend.IsBreakerFailure(err) {
		t.Error("4xx must not count against the breaker")
	}
}

func TestMalformedBodyYieldsDefaults(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>oops</html>`)
	})
	score, err := c.SubmitCode(context.Background(), backend.SubmitCodeRequest{Username: "a"})
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if score != 0 {
		t.Errorf("score = %v, want 0", score)
	}

	q, err := c.NextQuestion(context.Background(), backend.QuestionRequest{Username: "a"})
	if err != nil || q != "" {
		t.Errorf("NextQuestion = %q, %v; want empty, nil", q, err)
	}
}

func TestBreakerFailsFastWithoutRetry(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "backend",
		MaxFailures: 2,
		IsFailure:   backend.IsBreakerFailure,
	})
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, backend.WithBreaker(cb))

	for range 2 {
		if _, err := c.FetchProblems(context.Background(), "Easy"); err == nil {
			t.Fatal("expected error from 502")
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want exactly 2 (no retries)", hits.Load())
	}

	_, err := c.FetchProblems(context.Background(), "Easy")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("open breaker still reached the server")
	}
	if c.Breaker() != cb {
		t.Error("Breaker() did not return the configured breaker")
	}
}

func TestCallRecordsMetrics(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, _ := observe.NewMetrics(mp)

	c, _ := backend.New(srv.URL, backend.WithMetrics(m))
	_, _ = c.FetchMCQ(context.Background(), "all", 10)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "mockinterview.backend.errors" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				kind, _ := dp.Attributes.Value("kind")
				if kind.AsString() == "status" && dp.Value == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("backend error with kind=status not recorded")
	}
}

func TestAnalysisScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a    backend.Analysis
		want float64
	}{
		{"score number", backend.Analysis{"score": 80.0}, 80},
		{"overall fallback", backend.Analysis{"Overall Score": 65.0}, 65},
		{"numeric string", backend.Analysis{"score": " 75 "}, 75},
		{"percent string", backend.Analysis{"score": "90%"}, 90},
		{"unparseable score falls back", backend.Analysis{"score": "great", "Overall Score": 50.0}, 50},
		{"missing", backend.Analysis{"feedback": "ok"}, 0},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Score(); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIDJSON(t *testing.T) {
	t.Parallel()
	var ids []backend.ID
	if err := json.Unmarshal([]byte(`[1, "a-2", null, 3.0]`), &ids); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := []backend.ID{"1", "a-2", "", "3.0"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
	out, _ := json.Marshal([]backend.ID{"12", "007", "x"})
	if string(out) != `[12,"007","x"]` {
		t.Errorf("Marshal = %s", out)
	}
}
