package console_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/backend/mock"
	"github.com/MrWong99/mockinterview/internal/config"
	"github.com/MrWong99/mockinterview/internal/console"
	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/speech"
	"github.com/MrWong99/mockinterview/internal/store"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func scriptedBackend() *mock.Client {
	return &mock.Client{
		Registration: &backend.Registration{Message: "Welcome, Asha!", IsNew: true},
		Skills:       &backend.Skills{Technical: []string{"Go", "SQL"}},
		Questions: []backend.Question{
			{ID: "1", Text: "Which language has goroutines?", Options: []string{"Go", "Rust", "Python", "Java"}},
			{ID: "2", Text: "Which algorithm sorts in place?", Options: []string{"Quicksort", "Dijkstra", "Prim", "Kruskal"}},
		},
		MCQScore:       70,
		Problems:       []backend.Problem{{ID: "7", Title: "Two Sum", Difficulty: "Easy", Template: "def solve(nums, target):\n    pass"}},
		Run:            &backend.RunReport{Passed: 1, Failed: 1},
		CodeScore:      85,
		IntroAnalysis:  backend.Analysis{"score": 60.0},
		AnswerAnalyses: []backend.Analysis{{"score": 70.0}, {"score": 80.0}, {"score": 90.0}, {"score": 100.0}},
		NextQuestions:  []string{"Tell me about a project.", "What was hard?", "A conflict?", "Your weakness?"},
		Completion:     &backend.Completion{Feedback: backend.Feedback{Summary: "Solid fundamentals."}},
	}
}

func newDriver(t *testing.T, be *mock.Client, input []string, opts ...console.Option) (*console.Driver, *interview.Controller, *syncBuffer) {
	t.Helper()
	lines := make(chan string, len(input))
	for _, l := range input {
		lines <- l
	}
	close(lines)

	out := &syncBuffer{}
	c, err := interview.New(interview.Config{
		Key:     "console",
		Backend: be,
		Store:   store.NewMemoryStore(),
		Speech:  speech.NewConsole(lines, out),
		Settings: config.InterviewConfig{
			Voice: config.VoiceConfig{SilenceTimeout: time.Second},
		},
	})
	if err != nil {
		t.Fatalf("interview.New: %v", err)
	}
	t.Cleanup(c.Close)
	return console.New(c, lines, out, opts...), c, out
}

func TestDriver_FullInterview(t *testing.T) {
	t.Parallel()

	input := []string{
		// Registration.
		"Asha", "mid", "Backend Engineer", "", "cv.txt",
		// MCQ: answer, auto-advance, answer, submit.
		"go", "option one", "submit",
		// Coding.
		"edit", "def solve(nums, target):", "    return [0, 1]", ".", "run", "submit",
		// Voice: five answers, each ended by an empty line.
		"I am Asha", "", "Built a cache", "", "Led a migration", "", "Resolved a conflict", "", "Mentored juniors", "",
		// Results.
		"n",
	}
	be := scriptedBackend()
	d, c, out := newDriver(t, be, input, console.WithReadFile(func(path string) ([]byte, error) {
		if path != "cv.txt" {
			t.Errorf("readFile(%q)", path)
		}
		return []byte("resume"), nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v\noutput:\n%s", err, out.String())
	}

	if c.Stage() != interview.StageResults {
		t.Errorf("stage = %v, want results", c.Stage())
	}
	if p := c.Profile(); p.ExperienceLevel != interview.LevelMid || p.ResumeName != "cv.txt" {
		t.Errorf("profile = %+v", p)
	}
	answers := be.CallsTo("SubmitMCQ")[0].Args[1].(map[string]string)
	if answers["1"] != "A" || answers["2"] != "A" {
		t.Errorf("submitted answers = %v", answers)
	}
	req := be.CallsTo("SubmitCode")[0].Args[0].(backend.SubmitCodeRequest)
	if req.Code != "def solve(nums, target):\n    return [0, 1]" {
		t.Errorf("submitted code = %q", req.Code)
	}
	if got, _ := c.Score(interview.StageVoice); got != 80 {
		t.Errorf("voice score = %v, want 80", got)
	}

	text := out.String()
	for _, want := range []string{
		"Welcome, Asha!", "Skills found: Go, SQL",
		"Question 1/2", "Recorded A.", "MCQ score: 70%",
		"Two Sum [Easy]", "Execution complete: 1 passed, 1 failed.", "Coding score: 85%",
		"Interviewer: " + interview.OpeningQuestion, "Interviewer: Tell me about a project.",
		"Status: Shortlisted", "Overall: 78%", "Goodbye.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestDriver_InvalidRegistrationReprompts(t *testing.T) {
	t.Parallel()

	input := []string{
		"", "Wizard", "Backend", "", "",
		"Asha", "Senior", "Backend", "", "",
		":quit",
	}
	d, c, out := newDriver(t, scriptedBackend(), input)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(out.String(), "name is required") {
		t.Errorf("output missing validation message:\n%s", out.String())
	}
	if c.Stage() != interview.StageMCQ {
		t.Errorf("stage = %v, want mcq", c.Stage())
	}
}

func TestDriver_BackendErrorRetries(t *testing.T) {
	t.Parallel()

	be := scriptedBackend()
	be.RegisterErr = errors.New("connection refused")
	input := []string{"Asha", "Mid", "Backend", "", "", ""}
	d, c, out := newDriver(t, be, input)

	// Input runs out after the retry prompt; Run ends cleanly.
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(out.String(), "Press Enter to retry") {
		t.Errorf("output missing retry prompt:\n%s", out.String())
	}
	if c.Stage() != interview.StageRegistration {
		t.Errorf("stage = %v, want registration", c.Stage())
	}
}

func TestDriver_Commands(t *testing.T) {
	t.Parallel()

	input := []string{
		"Asha", "Mid", "Backend", "", "",
		":status", ":bogus", ":restart",
		"Asha", ":quit",
	}
	d, c, out := newDriver(t, scriptedBackend(), input)
	sid := c.SessionID()
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Stage: mcq", `Unknown command ":bogus"`, "Interview restarted."} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if c.Stage() != interview.StageRegistration || c.SessionID() == sid {
		t.Errorf("after restart stage = %v, session %q (was %q)", c.Stage(), c.SessionID(), sid)
	}
}

func TestDriver_CountdownForcesSubmission(t *testing.T) {
	t.Parallel()

	be := scriptedBackend()
	lines := make(chan string, 16)
	for _, l := range []string{"Asha", "Mid", "Backend", "", "", "b"} {
		lines <- l
	}
	out := &syncBuffer{}
	c, err := interview.New(interview.Config{
		Key:      "console",
		Backend:  be,
		Store:    store.NewMemoryStore(),
		Settings: config.InterviewConfig{MCQ: config.MCQConfig{Countdown: 200 * time.Millisecond}},
	})
	if err != nil {
		t.Fatalf("interview.New: %v", err)
	}
	t.Cleanup(c.Close)

	done := make(chan error, 1)
	go func() { done <- console.New(c, lines, out).Run(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for c.Stage() != interview.StageCoding {
		if time.Now().After(deadline) {
			t.Fatalf("stage = %v after countdown; output:\n%s", c.Stage(), out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(lines)
	if err := <-done; err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	answers := be.CallsTo("SubmitMCQ")[0].Args[1].(map[string]string)
	if answers["1"] != "B" || answers["2"] != "" {
		t.Errorf("forced answers = %v", answers)
	}
	if !strings.Contains(out.String(), "Time is up.") {
		t.Errorf("output missing countdown notice:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "MCQ score: 70%") {
		t.Errorf("output missing forced MCQ score:\n%s", out.String())
	}
}
