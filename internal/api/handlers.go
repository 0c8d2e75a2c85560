package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/interview"
)

// ─── Session ─────────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, c *interview.Controller) {
	writeJSON(w, http.StatusOK, c.Status())
}

type registerRequest struct {
	Name            string                    `json:"name"`
	ExperienceLevel interview.ExperienceLevel `json:"experience_level"`
	TargetRole      string                    `json:"target_role"`
	JobDescription  string                    `json:"job_description"`
	Resume          *resumeUpload             `json:"resume"`
}

// resumeUpload carries a resume inline. Data is base64 in JSON.
type resumeUpload struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

type registerResponse struct {
	Registration *interview.Registration `json:"registration"`
	Status       interview.Status        `json:"status"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p := interview.Profile{
		Name:            req.Name,
		ExperienceLevel: req.ExperienceLevel,
		TargetRole:      req.TargetRole,
		JobDescription:  req.JobDescription,
	}
	var resume *interview.Resume
	if req.Resume != nil && len(req.Resume.Data) > 0 {
		resume = &interview.Resume{Filename: req.Resume.Filename, Data: req.Resume.Data}
	}

	reg, err := c.Register(r.Context(), p, resume)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Registration: reg, Status: c.Status()})
}

// handleRelease drops the in-memory session. The snapshot stays in the
// store, so the next request for the key resumes it.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !s.sessions.Remove(r.Context(), key) {
		writeError(w, r, fmt.Errorf("%w: no open session %q", errNotFound, key))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	if err := c.Restart(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Status())
}

// ─── MCQ ─────────────────────────────────────────────────────────────────────

type mcqState struct {
	Questions        []backend.Question `json:"questions"`
	Answers          map[int]string     `json:"answers"`
	RemainingSeconds float64            `json:"remaining_seconds"`
}

func (s *Server) mcqState(c *interview.Controller, questions []backend.Question) (mcqState, error) {
	answers, err := c.MCQ().Answers()
	if err != nil {
		return mcqState{}, err
	}
	remaining, err := c.MCQ().Remaining()
	if err != nil {
		return mcqState{}, err
	}
	return mcqState{Questions: questions, Answers: answers, RemainingSeconds: remaining.Round(time.Second).Seconds()}, nil
}

func (s *Server) handleMCQLoad(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	qs, err := c.MCQ().Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.mcqState(c, qs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMCQState(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	qs, err := c.MCQ().Questions()
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.mcqState(c, qs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func pathIndex(r *http.Request) (int, error) {
	raw := r.PathValue("index")
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: question index %q", errBadRequest, raw)
	}
	return i, nil
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type answerResponse struct {
	Index  int    `json:"index"`
	Letter string `json:"letter"`
}

func (s *Server) handleMCQAnswer(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	i, err := pathIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	letter, err := c.MCQ().Answer(i, req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Index: i, Letter: letter})
}

func (s *Server) handleMCQClear(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	i, err := pathIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.MCQ().Clear(i); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scoreResponse struct {
	Score  float64          `json:"score"`
	Status interview.Status `json:"status"`
}

func (s *Server) handleMCQSubmit(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	score, err := c.MCQ().Submit(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Score: score, Status: c.Status()})
}

// ─── Coding ──────────────────────────────────────────────────────────────────

func (s *Server) handleCodingLoad(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	if _, err := c.Coding().Load(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	s.handleCodingDraft(w, r, c)
}

func (s *Server) handleCodingDraft(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	d, err := c.Coding().Draft()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type sourceRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleCodingSource(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	var req sourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.Coding().Edit(req.Source); err != nil {
		writeError(w, r, err)
		return
	}
	s.handleCodingDraft(w, r, c)
}

type runResponse struct {
	Message string             `json:"message"`
	Report  *backend.RunReport `json:"report,omitempty"`
}

// handleCodingRun reports executor failures in the body with 502 so the
// client can still show the advisory message.
func (s *Server) handleCodingRun(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	msg, report, err := c.Coding().Run(r.Context())
	if err != nil && msg == "" {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = StatusFor(err)
	}
	writeJSON(w, status, runResponse{Message: msg, Report: report})
}

func (s *Server) handleCodingSubmit(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	score, err := c.Coding().Submit(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Score: score, Status: c.Status()})
}

// ─── Voice ───────────────────────────────────────────────────────────────────

func (s *Server) handleVoiceState(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	st, err := c.Voice().State()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type voiceAnswerRequest struct {
	Transcript string `json:"transcript"`
}

type voiceAnswerResponse struct {
	NextQuestion string           `json:"next_question,omitempty"`
	Done         bool             `json:"done"`
	Status       interview.Status `json:"status"`
}

func (s *Server) handleVoiceAnswer(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	var req voiceAnswerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	next, done, err := c.Voice().Answer(r.Context(), req.Transcript)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceAnswerResponse{NextQuestion: next, Done: done, Status: c.Status()})
}

// ─── Results ─────────────────────────────────────────────────────────────────

func (s *Server) handleResultsComplete(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	sum, err := c.Results().Complete(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleResultsSummary(w http.ResponseWriter, r *http.Request, c *interview.Controller) {
	sum, err := c.Results().Summary()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
