package interview_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/backend/mock"
	"github.com/MrWong99/mockinterview/internal/config"
	"github.com/MrWong99/mockinterview/internal/interview"
)

func TestOverall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		m, c, v float64
		want    float64
	}{
		{70, 85, 80, 78},
		{0, 0, 0, 0},
		{100, 100, 100, 100},
		{1, 1, 0, 1},
		{0, 0, 1, 0},
		{50, 60, 70, 60},
	}
	for _, tt := range tests {
		got := interview.Overall(tt.m, tt.c, tt.v)
		if got != tt.want {
			t.Errorf("Overall(%v, %v, %v) = %v, want %v", tt.m, tt.c, tt.v, got, tt.want)
		}
		if got < 0 || got > 100 {
			t.Errorf("Overall(%v, %v, %v) = %v out of range", tt.m, tt.c, tt.v, got)
		}
	}
}

func TestResults_Complete(t *testing.T) {
	t.Parallel()

	be := &mock.Client{Completion: &backend.Completion{
		OverallScore: 12,
		Feedback: backend.Feedback{
			Summary:         "Strong problem solver.",
			Strengths:       []string{"Algorithms", "Communication"},
			Weaknesses:      []string{"System design depth"},
			Recommendations: []string{"Read DDIA"},
			ActionPlan:      []string{"Week 1: caching", "Week 2: queues"},
		},
	}}
	c, _ := newController(t, be)
	recordScores(t, c, 70, 85, 80)
	ctx := context.Background()

	if _, err := c.Results().Summary(); !errors.Is(err, interview.ErrNotLoaded) {
		t.Errorf("Summary before Complete = %v, want ErrNotLoaded", err)
	}

	sum, err := c.Results().Complete(ctx)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if sum.Overall != 78 || sum.Status != interview.StatusShortlisted {
		t.Errorf("summary = %v %q, want 78 Shortlisted", sum.Overall, sum.Status)
	}

	calls := be.CallsTo("CompleteInterview")
	if len(calls) != 1 {
		t.Fatalf("CompleteInterview calls = %d, want 1", len(calls))
	}
	data := calls[0].Args[1].(backend.InterviewData)
	if data.MCQScore != 70 || data.CodingScore != 85 || data.VerbalScore != 80 || data.OverallScore != 78 {
		t.Errorf("interview data = %+v", data)
	}
	if !slices.Equal(data.RoundsCompleted, []string{"Technical", "Coding", "Verbal"}) {
		t.Errorf("rounds = %v", data.RoundsCompleted)
	}

	again, err := c.Results().Complete(ctx)
	if err != nil || again.Overall != 78 {
		t.Fatalf("second Complete = %+v, %v", again, err)
	}
	if n := len(be.CallsTo("CompleteInterview")); n != 1 {
		t.Errorf("CompleteInterview calls = %d, want 1", n)
	}
	if c.Stage() != interview.StageResults {
		t.Errorf("stage = %v, want results", c.Stage())
	}

	var buf bytes.Buffer
	if err := c.Results().Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Status: Shortlisted", "Overall: 78%", "Strong problem solver.",
		"Strengths", "  - Algorithms", "Weaknesses", "Recommendations", "Action plan", "  - Week 2: queues",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q:\n%s", want, out)
		}
	}
}

func TestResults_StatusThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold int
		scores    []float64
		want      string
	}{
		{"below default", 0, []float64{50, 60, 70}, interview.StatusNeedImprovement},
		{"exactly default", 0, []float64{70, 70, 70}, interview.StatusShortlisted},
		{"custom threshold", 55, []float64{50, 60, 70}, interview.StatusShortlisted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newController(t, &mock.Client{}, func(cfg *interview.Config) {
				cfg.Settings = config.InterviewConfig{Results: config.ResultsConfig{PassThreshold: tt.threshold}}
			})
			recordScores(t, c, tt.scores...)
			sum, err := c.Results().Complete(context.Background())
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if sum.Status != tt.want {
				t.Errorf("status = %q, want %q", sum.Status, tt.want)
			}
		})
	}
}

func TestResults_FailureAllowsRetry(t *testing.T) {
	t.Parallel()

	be := &mock.Client{CompleteErr: errors.New("feedback generation failed")}
	c, _ := newController(t, be)
	recordScores(t, c, 70, 85, 80)

	if _, err := c.Results().Complete(context.Background()); !errors.Is(err, interview.ErrBackend) {
		t.Fatalf("Complete = %v, want ErrBackend", err)
	}
	be.CompleteFunc = func(_ context.Context, _ string, d backend.InterviewData) (*backend.Completion, error) {
		return &backend.Completion{OverallScore: d.OverallScore}, nil
	}
	sum, err := c.Results().Complete(context.Background())
	if err != nil || sum.Overall != 78 {
		t.Fatalf("retry = %+v, %v", sum, err)
	}
}
