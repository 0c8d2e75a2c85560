// Package api exposes interview sessions over HTTP.
//
// Every route is scoped to a client key: /v1/sessions/{key}/... . The first
// request for a key creates (or resumes) its session. Stage operations map
// one-to-one onto the [interview.Controller] methods; controller errors are
// translated into HTTP statuses by [StatusFor].
//
// DELETE /v1/sessions/{key} drops the in-memory session without deleting its
// snapshot; the next request resumes it.
//
// GET /v1/sessions/{key}/events upgrades to a WebSocket carrying
// [interview.Event] values as JSON text frames.
package api

import (
	"context"
	"net/http"

	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/observe"
)

// Sessions resolves a client key to its controller.
type Sessions interface {
	Get(ctx context.Context, key string) (*interview.Controller, error)

	// Remove closes the controller for key and reports whether one was
	// open. Stored snapshots are kept.
	Remove(ctx context.Context, key string) bool
}

// maxBodyBytes bounds request bodies. Resumes are sent inline as base64.
const maxBodyBytes = 10 << 20

// Server serves the session API.
type Server struct {
	sessions Sessions
	metrics  *observe.Metrics

	// eventBuffer is the per-connection subscription buffer.
	eventBuffer int
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics instruments used for the event subscriber
// gauge and HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEventBuffer sets how many events may queue for a slow WebSocket
// client before further events are dropped. Default: 32.
func WithEventBuffer(n int) Option {
	return func(s *Server) { s.eventBuffer = n }
}

// New returns a Server backed by sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{sessions: sessions, eventBuffer: 32}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register adds the session routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/sessions/{key}", s.session(s.handleStatus))
	mux.HandleFunc("DELETE /v1/sessions/{key}", s.handleRelease)
	mux.HandleFunc("POST /v1/sessions/{key}/register", s.session(s.handleRegister))
	mux.HandleFunc("POST /v1/sessions/{key}/restart", s.session(s.handleRestart))

	mux.HandleFunc("GET /v1/sessions/{key}/mcq", s.session(s.handleMCQState))
	mux.HandleFunc("POST /v1/sessions/{key}/mcq/load", s.session(s.handleMCQLoad))
	mux.HandleFunc("PUT /v1/sessions/{key}/mcq/answers/{index}", s.session(s.handleMCQAnswer))
	mux.HandleFunc("DELETE /v1/sessions/{key}/mcq/answers/{index}", s.session(s.handleMCQClear))
	mux.HandleFunc("POST /v1/sessions/{key}/mcq/submit", s.session(s.handleMCQSubmit))

	mux.HandleFunc("GET /v1/sessions/{key}/coding", s.session(s.handleCodingDraft))
	mux.HandleFunc("POST /v1/sessions/{key}/coding/load", s.session(s.handleCodingLoad))
	mux.HandleFunc("PUT /v1/sessions/{key}/coding/source", s.session(s.handleCodingSource))
	mux.HandleFunc("POST /v1/sessions/{key}/coding/run", s.session(s.handleCodingRun))
	mux.HandleFunc("POST /v1/sessions/{key}/coding/submit", s.session(s.handleCodingSubmit))

	mux.HandleFunc("GET /v1/sessions/{key}/voice", s.session(s.handleVoiceState))
	mux.HandleFunc("POST /v1/sessions/{key}/voice/answer", s.session(s.handleVoiceAnswer))

	mux.HandleFunc("GET /v1/sessions/{key}/results", s.session(s.handleResultsSummary))
	mux.HandleFunc("POST /v1/sessions/{key}/results", s.session(s.handleResultsComplete))

	mux.HandleFunc("GET /v1/sessions/{key}/events", s.session(s.handleEvents))
}

// Handler returns the session routes wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, c *interview.Controller)

// session resolves the {key} path value to its controller before calling h.
func (s *Server) session(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.sessions.Get(r.Context(), r.PathValue("key"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		h(w, r, c)
	}
}
