package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/interview"
)

// errExpired is returned by readUntil when the stop channel closes first.
var errExpired = errors.New("console: countdown expired")

// readUntil is read with an extra stop channel. A nil stop never fires.
func (d *Driver) readUntil(ctx context.Context, stop <-chan struct{}) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", errQuit
		case <-stop:
			return "", errExpired
		case line, ok := <-d.lines:
			if !ok {
				return "", io.EOF
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, ":") {
				return line, nil
			}
			if err := d.command(ctx, line); err != nil {
				return "", err
			}
		}
	}
}

// ─── MCQ ─────────────────────────────────────────────────────────────────────

func (d *Driver) mcq(ctx context.Context) error {
	d.printf("\n== Multiple choice ==\n")
	round := d.c.MCQ()

	events, cancel := d.c.Subscribe(64)
	defer cancel()

	qs, err := round.Load(ctx)
	if err != nil {
		return d.retry(ctx, err)
	}
	if rem, err := round.Remaining(); err == nil {
		d.printf("%d questions, %s remaining. Answer with a letter, number or the option text.\n", len(qs), rem.Round(time.Second))
	}

	view, err := round.Current()
	if err != nil {
		return err
	}
	d.showQuestion(view)

	expired := round.Expired()
	for {
		line, err := d.readUntil(ctx, expired)
		if errors.Is(err, errExpired) {
			expired = nil
			if d.awaitForcedSubmit(ctx, events) {
				return nil
			}
			d.printf("Automatic submission failed. Type submit to try again.\n")
			continue
		}
		if err != nil {
			return err
		}

		switch strings.ToLower(line) {
		case "":
			d.showQuestion(view)
		case "n", "next":
			if view, err = round.Next(); err == nil {
				d.showQuestion(view)
			}
		case "p", "prev", "previous":
			if view, err = round.Previous(); err == nil {
				d.showQuestion(view)
			}
		case "clear":
			if err = round.Clear(view.Index); err == nil {
				d.printf("Answer cleared.\n")
			}
		case "submit":
			score, serr := round.Submit(ctx)
			if serr == nil {
				d.printf("MCQ score: %.0f%%\n", score)
				return nil
			}
			if d.c.Stage() != interview.StageMCQ {
				return nil
			}
			err = serr
		default:
			var letter string
			if letter, err = round.Answer(view.Index, line); err == nil {
				d.printf("Recorded %s.\n", letter)
				if view.Index+1 < view.Total {
					if view, err = round.Next(); err == nil {
						d.showQuestion(view)
					}
				} else {
					d.printf("That was the last question. Type submit when ready.\n")
				}
			}
		}
		if err != nil {
			d.printf("%v\n", err)
		}
	}
}

// awaitForcedSubmit waits for the countdown submission to finish and
// reports whether it moved the session on.
func (d *Driver) awaitForcedSubmit(ctx context.Context, events <-chan interview.Event) bool {
	d.printf("\nTime is up. Submitting your answers.\n")
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if d.c.Stage() != interview.StageMCQ {
			if score, ok := d.c.Score(interview.StageMCQ); ok {
				d.printf("MCQ score: %.0f%%\n", score)
			}
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		case ev, ok := <-events:
			if !ok {
				return false
			}
			switch ev.Kind {
			case interview.EventForced:
				if ev.Score != nil {
					d.printf("MCQ score: %.0f%%\n", *ev.Score)
				}
				return true
			case interview.EventError:
				if d.c.Stage() == interview.StageMCQ {
					return false
				}
			}
		}
	}
}

func (d *Driver) showQuestion(v interview.QuestionView) {
	d.printf("\nQuestion %d/%d: %s\n", v.Index+1, v.Total, v.Question.Text)
	for i, opt := range v.Question.Options {
		d.printf("  %c) %s\n", 'A'+i, opt)
	}
	if len(v.Question.Options) == 0 {
		d.printf("  (no options; type n to skip)\n")
	}
	if v.Answer != "" {
		d.printf("Current answer: %s\n", v.Answer)
	}
}

// ─── Coding ──────────────────────────────────────────────────────────────────

func (d *Driver) coding(ctx context.Context) error {
	d.printf("\n== Coding ==\n")
	round := d.c.Coding()
	p, err := round.Load(ctx)
	if err != nil {
		return d.retry(ctx, err)
	}
	d.showProblem(p)

	for {
		line, err := d.read(ctx)
		if err != nil {
			return err
		}
		switch strings.ToLower(line) {
		case "show":
			if dr, err := round.Draft(); err == nil {
				d.printf("%s\n", dr.Source)
			}
		case "edit":
			src, err := d.readBlock(ctx)
			if err != nil {
				return err
			}
			if err := round.Edit(src); err != nil {
				d.printf("%v\n", err)
			} else {
				d.printf("Source updated (%d lines).\n", strings.Count(src, "\n")+1)
			}
		case "run":
			msg, report, _ := round.Run(ctx)
			d.printf("%s\n", msg)
			if report != nil {
				for i, r := range report.Results {
					mark := "FAIL"
					if r.Passed {
						mark = "ok"
					}
					d.printf("  test %d: %s (expected %s, got %s)\n", i+1, mark, r.Expected, r.Actual)
				}
			}
		case "submit":
			score, err := round.Submit(ctx)
			if err != nil {
				d.printf("%v\n", err)
				continue
			}
			d.printf("Coding score: %.0f%%\n", score)
			return nil
		default:
			d.printf("Type edit, show, run or submit.\n")
		}
	}
}

// readBlock reads lines until one containing only ".".
func (d *Driver) readBlock(ctx context.Context) (string, error) {
	d.printf("Enter your solution. Finish with a line containing only \".\".\n")
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", errQuit
		case line, ok := <-d.lines:
			if !ok {
				return "", io.EOF
			}
			if strings.TrimSpace(line) == "." {
				return strings.TrimSuffix(b.String(), "\n"), nil
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
}

func (d *Driver) showProblem(p *backend.Problem) {
	d.printf("%s [%s]\n\n%s\n", p.Title, p.Difficulty, p.Description)
	for i, ex := range p.Examples {
		d.printf("\nExample %d:\n  Input:  %s\n  Output: %s\n", i+1, ex.Input, ex.Output)
		if ex.Explanation != "" {
			d.printf("  %s\n", ex.Explanation)
		}
	}
	d.printf("\nTemplate:\n%s\n", p.Template)
	d.printf("Type edit to write your solution, run to test it, submit when done.\n")
}

// ─── Voice ───────────────────────────────────────────────────────────────────

func (d *Driver) voice(ctx context.Context) error {
	d.printf("\n== Interview ==\nAnswer each question, then send an empty line.\n")
	round := d.c.Voice()
	if _, err := round.Start(ctx); err != nil {
		return err
	}

	for {
		text, err := round.Listen(ctx)
		if err != nil {
			return d.retry(ctx, err)
		}
		if ctx.Err() != nil {
			return errQuit
		}
		if cmd := strings.TrimSpace(text); strings.HasPrefix(cmd, ":") {
			if err := d.command(ctx, cmd); err != nil {
				return err
			}
			continue
		}

		for {
			_, done, err := round.Answer(ctx, text)
			if err == nil {
				if done {
					d.printf("Interview round complete.\n")
					return nil
				}
				break
			}
			if rerr := d.retry(ctx, err); rerr != nil {
				return rerr
			}
		}
	}
}

// ─── Results ─────────────────────────────────────────────────────────────────

func (d *Driver) results(ctx context.Context) error {
	d.printf("\n== Results ==\n")
	if _, err := d.c.Results().Complete(ctx); err != nil {
		return d.retry(ctx, err)
	}
	if err := d.c.Results().Render(d.out); err != nil {
		return fmt.Errorf("console: render results: %w", err)
	}

	ans, err := d.prompt(ctx, "\nStart a new interview? (y/N)")
	if err != nil {
		return err
	}
	if !strings.EqualFold(ans, "y") && !strings.EqualFold(ans, "yes") {
		return errQuit
	}
	if err := d.c.Restart(ctx); err != nil {
		return d.retry(ctx, err)
	}
	return errRestart
}
