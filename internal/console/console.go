// Package console drives a single interview session from a terminal.
//
// Input arrives as lines on a channel shared with the console speech
// capability, so the voice stage reads spoken answers from the same stream.
// A line starting with ':' is a command (:quit, :restart, :status, :help);
// anything else is stage input.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/mockinterview/internal/interview"
)

// errQuit ends Run without an error.
var errQuit = errors.New("console: quit")

// errRestart unwinds the current stage after a restart.
var errRestart = errors.New("console: restart")

// Driver walks a candidate through the interview stages.
type Driver struct {
	c     *interview.Controller
	lines <-chan string
	out   io.Writer

	readFile func(string) ([]byte, error)
}

// Option configures a [Driver].
type Option func(*Driver)

// WithReadFile replaces the function used to read resume files.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(d *Driver) { d.readFile = fn }
}

// New returns a Driver for c reading input from lines and writing to out.
func New(c *interview.Controller, lines <-chan string, out io.Writer, opts ...Option) *Driver {
	d := &Driver{c: c, lines: lines, out: out, readFile: os.ReadFile}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run drives the session from its current stage until the results are shown
// and the candidate declines another attempt, :quit is entered, input ends
// or ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	d.printf("Mock interview (%s). Type :help for commands.\n", d.c.Key())
	for {
		var err error
		switch d.c.Stage() {
		case interview.StageRegistration:
			err = d.registration(ctx)
		case interview.StageMCQ:
			err = d.mcq(ctx)
		case interview.StageCoding:
			err = d.coding(ctx)
		case interview.StageVoice:
			err = d.voice(ctx)
		case interview.StageResults:
			err = d.results(ctx)
		}
		switch {
		case err == nil, errors.Is(err, errRestart):
		case errors.Is(err, errQuit), errors.Is(err, io.EOF):
			d.printf("Goodbye.\n")
			return nil
		default:
			return err
		}
	}
}

func (d *Driver) printf(format string, args ...any) {
	fmt.Fprintf(d.out, format, args...)
}

// read returns the next line. Commands are handled here; stage code only
// sees plain input.
func (d *Driver) read(ctx context.Context) (string, error) {
	return d.readUntil(ctx, nil)
}

// prompt prints label and reads one line.
func (d *Driver) prompt(ctx context.Context, label string) (string, error) {
	d.printf("%s: ", label)
	return d.read(ctx)
}

func (d *Driver) command(ctx context.Context, line string) error {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case ":quit", ":q", ":exit":
		return errQuit
	case ":restart":
		if err := d.c.Restart(ctx); err != nil {
			d.printf("Restart failed: %v\n", err)
			return nil
		}
		d.printf("Interview restarted.\n")
		return errRestart
	case ":status":
		st := d.c.Status()
		d.printf("Stage: %s  Session: %s\n", st.Stage, st.SessionID)
		for _, s := range []interview.Stage{interview.StageMCQ, interview.StageCoding, interview.StageVoice} {
			if v, ok := st.Scores[s.String()]; ok {
				d.printf("  %s: %.0f%%\n", s, v)
			}
		}
	case ":help":
		d.printf("Commands: :status, :restart, :quit\n")
		d.printf("MCQ: a letter, number or option text answers; n/p navigate; clear; submit\n")
		d.printf("Coding: edit (end with a line containing only .), show, run, submit\n")
	default:
		d.printf("Unknown command %q. Type :help.\n", line)
	}
	return nil
}

// retry reports err and waits for Enter. It returns the read error, if any.
func (d *Driver) retry(ctx context.Context, err error) error {
	d.printf("Error: %v\nPress Enter to retry.\n", err)
	_, rerr := d.read(ctx)
	return rerr
}

// ─── Registration ────────────────────────────────────────────────────────────

func (d *Driver) registration(ctx context.Context) error {
	d.printf("\n== Registration ==\n")
	var p interview.Profile
	var err error
	if p.Name, err = d.prompt(ctx, "Name"); err != nil {
		return err
	}
	level, err := d.prompt(ctx, "Experience level (Fresher/Junior/Mid/Senior)")
	if err != nil {
		return err
	}
	p.ExperienceLevel = normaliseLevel(level)
	if p.TargetRole, err = d.prompt(ctx, "Target role"); err != nil {
		return err
	}
	if p.JobDescription, err = d.prompt(ctx, "Job description (optional)"); err != nil {
		return err
	}
	path, err := d.prompt(ctx, "Resume file (optional)")
	if err != nil {
		return err
	}

	var resume *interview.Resume
	if path != "" {
		data, rerr := d.readFile(path)
		if rerr != nil {
			d.printf("Could not read resume: %v\n", rerr)
		} else {
			resume = &interview.Resume{Filename: filepath.Base(path), Data: data}
		}
	}

	reg, err := d.c.Register(ctx, p, resume)
	if err != nil {
		if errors.Is(err, interview.ErrInvalid) {
			d.printf("%v\n", err)
			return nil
		}
		return d.retry(ctx, err)
	}
	d.printf("%s\n", reg.Message)
	if reg.Skills != nil && len(reg.Skills.Technical) > 0 {
		d.printf("Skills found: %s\n", strings.Join(reg.Skills.Technical, ", "))
	}
	if reg.Match != nil {
		d.printf("Job match: %.0f%%\n", reg.Match.Score)
	}
	return nil
}

func normaliseLevel(s string) interview.ExperienceLevel {
	for _, l := range []interview.ExperienceLevel{interview.LevelFresher, interview.LevelJunior, interview.LevelMid, interview.LevelSenior} {
		if strings.EqualFold(s, string(l)) {
			return l
		}
	}
	return interview.ExperienceLevel(s)
}
