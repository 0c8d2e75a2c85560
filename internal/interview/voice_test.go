package interview_test

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/backend/mock"
	"github.com/MrWong99/mockinterview/internal/interview"
	speechmock "github.com/MrWong99/mockinterview/internal/speech/mock"
)

func voiceController(t *testing.T, be *mock.Client, sp *speechmock.Capability) *interview.Controller {
	t.Helper()
	c, _ := newController(t, be, func(cfg *interview.Config) {
		if sp != nil {
			cfg.Speech = sp
		}
	})
	recordScores(t, c, 70, 85)
	return c
}

func fiveScores() *mock.Client {
	return &mock.Client{
		IntroAnalysis:  backend.Analysis{"score": 60.0},
		AnswerAnalyses: []backend.Analysis{{"score": 70.0}, {"score": 80.0}, {"score": 90.0}, {"score": 100.0}},
		NextQuestions:  []string{"P1", "P2", "B1", "B2"},
	}
}

func TestVoice_ScriptAndMean(t *testing.T) {
	t.Parallel()

	be := fiveScores()
	sp := &speechmock.Capability{}
	c := voiceController(t, be, sp)
	ctx := context.Background()

	q, err := c.Voice().Start(ctx)
	if err != nil || q != interview.OpeningQuestion {
		t.Fatalf("Start = %q, %v; want opening question", q, err)
	}

	answers := []string{"I am Asha", "Built a cache", "Led a migration", "Resolved a conflict", "Mentored juniors"}
	for i, a := range answers {
		next, done, err := c.Voice().Answer(ctx, a)
		if err != nil {
			t.Fatalf("Answer %d: %v", i, err)
		}
		if i < 4 && next != be.NextQuestions[i] {
			t.Errorf("Answer %d next = %q, want %q", i, next, be.NextQuestions[i])
		}
		if done != (i == 4) {
			t.Errorf("Answer %d done = %v", i, done)
		}
	}

	if got, _ := c.Score(interview.StageVoice); got != 80 {
		t.Errorf("voice score = %v, want 80", got)
	}
	if c.Stage() != interview.StageResults {
		t.Errorf("stage = %v, want results", c.Stage())
	}

	calls := be.CallsTo("NextQuestion")
	if len(calls) != 4 {
		t.Fatalf("NextQuestion calls = %d, want 4", len(calls))
	}
	wantCats := []backend.Category{backend.CategoryProject, backend.CategoryProject, backend.CategoryBehavioral, backend.CategoryBehavioral}
	wantTones := []string{"professional", "professional", "friendly", "friendly"}
	for i, call := range calls {
		req := call.Args[0].(backend.QuestionRequest)
		if req.Category != wantCats[i] || req.Tone != wantTones[i] {
			t.Errorf("call %d = %s/%s, want %s/%s", i, req.Category, req.Tone, wantCats[i], wantTones[i])
		}
		if len(req.History) != i+1 {
			t.Errorf("call %d history length = %d, want %d", i, len(req.History), i+1)
		}
		if last := req.History[len(req.History)-1]; last.Answer != answers[i] {
			t.Errorf("call %d last answer = %q, want %q", i, last.Answer, answers[i])
		}
	}
	if first := calls[0].Args[0].(backend.QuestionRequest).History[0]; first.Question != interview.OpeningQuestion {
		t.Errorf("first turn question = %q, want opening question", first.Question)
	}

	if n := len(be.CallsTo("AnalyzeIntro")); n != 1 {
		t.Errorf("AnalyzeIntro calls = %d, want 1", n)
	}
	if n := len(be.CallsTo("SubmitVerbalAnswer")); n != 4 {
		t.Errorf("SubmitVerbalAnswer calls = %d, want 4", n)
	}

	wantSpoken := []string{interview.OpeningQuestion, "P1", "P2", "B1", "B2"}
	if got := sp.SpokenLines(); !slices.Equal(got, wantSpoken) {
		t.Errorf("spoken = %q, want %q", got, wantSpoken)
	}
}

func TestVoice_ScoresAfterAnswerOrder(t *testing.T) {
	t.Parallel()

	be := fiveScores()
	c := voiceController(t, be, nil)
	if _, _, err := c.Voice().Answer(context.Background(), "intro"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	want := []string{"AnalyzeIntro", "NextQuestion"}
	methods := be.Methods()
	if got := methods[len(methods)-2:]; !slices.Equal(got, want) {
		t.Errorf("call order = %v, want %v", got, want)
	}
}

func TestVoice_MissingScoresCountAsZero(t *testing.T) {
	t.Parallel()

	be := &mock.Client{
		IntroAnalysis:  backend.Analysis{"feedback": "ok"},
		AnswerAnalyses: []backend.Analysis{{"score": 100.0}, {"score": 100.0}},
		NextQuestions:  []string{"next"},
	}
	c := voiceController(t, be, nil)
	for i := range interview.VoiceSteps {
		if _, _, err := c.Voice().Answer(context.Background(), ""); err != nil {
			t.Fatalf("Answer %d: %v", i, err)
		}
	}
	if got, _ := c.Score(interview.StageVoice); got != 40 {
		t.Errorf("voice score = %v, want 40", got)
	}
}

func TestVoice_FetchFailureDoesNotRescore(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	be := fiveScores()
	be.NextQuestionFunc = func(context.Context, backend.QuestionRequest) (string, error) {
		if fetches.Add(1) == 1 {
			return "", errors.New("llm unavailable")
		}
		return "P1", nil
	}
	c := voiceController(t, be, nil)
	ctx := context.Background()

	if _, _, err := c.Voice().Answer(ctx, "first"); !errors.Is(err, interview.ErrBackend) {
		t.Fatalf("Answer = %v, want ErrBackend", err)
	}
	st, _ := c.Voice().State()
	if st.Step != interview.StepIntro || len(st.History) != 1 || len(st.Scores) != 1 {
		t.Fatalf("state after failed fetch = %+v", st)
	}

	next, _, err := c.Voice().Answer(ctx, "ignored retry text")
	if err != nil || next != "P1" {
		t.Fatalf("retry = %q, %v; want P1", next, err)
	}
	if n := len(be.CallsTo("AnalyzeIntro")); n != 1 {
		t.Errorf("AnalyzeIntro calls = %d, want 1", n)
	}
	st, _ = c.Voice().State()
	if st.Step != interview.StepProject1 || st.History[0].Answer != "first" {
		t.Errorf("state after retry = %+v", st)
	}
}

func TestVoice_SpeechFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	sp := &speechmock.Capability{SpeakErr: errors.New("tts down")}
	c := voiceController(t, fiveScores(), sp)
	if _, err := c.Voice().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, _, err := c.Voice().Answer(context.Background(), "hello"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if n := len(sp.SpokenLines()); n != 2 {
		t.Errorf("speak attempts = %d, want 2", n)
	}
}

func TestVoice_ListenCapturesTranscript(t *testing.T) {
	t.Parallel()

	sp := &speechmock.Capability{Script: []string{"I build", "distributed systems"}}
	c := voiceController(t, fiveScores(), sp)
	text, err := c.Voice().Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if text != "I build distributed systems" {
		t.Errorf("transcript = %q", text)
	}

	noSpeech := voiceController(t, fiveScores(), nil)
	if _, err := noSpeech.Voice().Listen(context.Background()); err == nil {
		t.Error("Listen without speech capability returned nil error")
	}
}

func TestVoice_BusyGuard(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	be := fiveScores()
	be.NextQuestionFunc = func(context.Context, backend.QuestionRequest) (string, error) {
		close(entered)
		<-unblock
		return "P1", nil
	}
	c := voiceController(t, be, nil)

	done := make(chan error, 1)
	go func() {
		_, _, err := c.Voice().Answer(context.Background(), "a")
		done <- err
	}()
	<-entered
	if _, _, err := c.Voice().Answer(context.Background(), "b"); !errors.Is(err, interview.ErrBusy) {
		t.Errorf("concurrent Answer = %v, want ErrBusy", err)
	}
	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("Answer: %v", err)
	}
}
