// Package store persists interview session snapshots.
//
// A [Snapshot] is the durable part of a session: who the candidate is, which
// stage they reached, and the authoritative score of every completed stage.
// Stage-local working data (loaded questions, draft source code, the voice
// transcript) is never persisted and is re-fetched after a resume.
//
// Three implementations are provided: [MemoryStore], [FileStore] and
// [PostgresStore]. All are safe for concurrent use.
package store

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrInvalidSnapshot is returned by Save when the snapshot has no key or no
// session id.
var ErrInvalidSnapshot = errors.New("store: snapshot requires key and session id")

// Profile is the persisted form of a candidate profile.
type Profile struct {
	Name            string `json:"name"`
	ExperienceLevel string `json:"experience_level"`
	TargetRole      string `json:"target_role"`
	JobDescription  string `json:"job_description,omitempty"`
	ResumeName      string `json:"resume_name,omitempty"`
}

// Snapshot is one session's durable state, keyed by the client key.
type Snapshot struct {
	Key       string             `json:"key"`
	SessionID string             `json:"session_id"`
	Stage     string             `json:"stage"`
	Profile   Profile            `json:"profile"`
	Scores    map[string]float64 `json:"scores"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of s so callers can never alias a stored value.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Scores = maps.Clone(s.Scores)
	if c.Scores == nil {
		c.Scores = map[string]float64{}
	}
	return &c
}

func (s *Snapshot) validate() error {
	if s == nil || s.Key == "" || s.SessionID == "" {
		return ErrInvalidSnapshot
	}
	return nil
}

// Store is a get/set/delete black box for session snapshots.
type Store interface {
	// Load returns the snapshot stored under key. Returns (nil, nil) if no
	// snapshot exists.
	Load(ctx context.Context, key string) (*Snapshot, error)

	// Save replaces the snapshot stored under snap.Key. It returns only once
	// the write is durable for the implementation.
	Save(ctx context.Context, snap *Snapshot) error

	// Delete removes the snapshot stored under key. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}
