package interview

import (
	"context"
	"strings"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/observe"
)

// Registration is what the backend reported while registering the
// candidate. It is returned for display and is not part of the snapshot.
type Registration struct {
	Message string            `json:"message"`
	IsNew   bool              `json:"is_new"`
	Skills  *backend.Skills   `json:"skills,omitempty"`
	Match   *backend.JobMatch `json:"match,omitempty"`
}

// Register validates p, registers the candidate, uploads resume when given
// and matches it against the job description when both are present. The
// profile is then saved and the session advances to MCQ. Any failure leaves
// the session at Registration; retrying is safe.
func (c *Controller) Register(ctx context.Context, p Profile, resume *Resume) (*Registration, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sid, err := c.begin(StageRegistration, actRegister)
	if err != nil {
		return nil, err
	}
	defer c.release(actRegister, sid)

	ctx, span := observe.StartSpan(ctx, "interview.register", observe.SessionSpan(c.key, sid))
	defer span.End()

	reg, err := c.backend.RegisterCandidate(ctx, backend.RegisterRequest{
		Username:        p.Name,
		ExperienceLevel: string(p.ExperienceLevel),
		TargetRole:      p.TargetRole,
		JobDescription:  p.JobDescription,
	})
	if err != nil {
		return nil, c.backendErr(ctx, sid, StageRegistration, "register", err)
	}
	out := &Registration{Message: reg.Message, IsNew: reg.IsNew}

	if resume != nil && len(resume.Data) > 0 {
		skills, err := c.backend.UploadResume(ctx, p.Name, resume.Filename, resume.Data)
		if err != nil {
			return nil, c.backendErr(ctx, sid, StageRegistration, "upload resume", err)
		}
		out.Skills = skills
		p.ResumeName = resume.Filename

		if strings.TrimSpace(p.JobDescription) != "" {
			match, err := c.backend.MatchJob(ctx, p.Name, p.JobDescription)
			if err != nil {
				return nil, c.backendErr(ctx, sid, StageRegistration, "match job", err)
			}
			out.Match = match
		}
	} else {
		p.ResumeName = ""
	}

	if err := c.advance(ctx, sid, StageRegistration, func(s *state) {
		s.profile = p
	}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.st.sessionID == sid {
		c.registration = out
	}
	c.mu.Unlock()

	observe.Logger(ctx).Info("interview: candidate registered", "key", c.key, "session_id", sid, "name", p.Name, "level", string(p.ExperienceLevel), "new", out.IsNew)
	c.publish(Event{Kind: EventRegistered, SessionID: sid, Stage: StageMCQ.String(), Message: out.Message})
	return out, nil
}

// Profile returns the registered candidate profile. The zero value is
// returned before registration.
func (c *Controller) Profile() Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.profile
}

// Registration returns the result of the last successful registration of the
// current session, or nil after a resume.
func (c *Controller) Registration() *Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registration
}
