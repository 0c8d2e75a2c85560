package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Capture listens on c until the candidate has been silent for the silence
// window after their last final transcript, until c stops listening on its
// own, or until ctx is done. It returns the transcripts joined with spaces.
//
// The silence window only starts once the first transcript arrives, so a
// candidate who takes a moment to begin is not cut off. A cancelled ctx is
// not an error: whatever was heard so far is returned.
func Capture(ctx context.Context, c Capability, silence time.Duration) (string, error) {
	var (
		mu    sync.Mutex
		parts []string
	)
	heard := make(chan struct{}, 1)
	ended := make(chan struct{})
	var endOnce sync.Once

	c.OnFinalTranscript(func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		mu.Lock()
		parts = append(parts, text)
		mu.Unlock()
		select {
		case heard <- struct{}{}:
		default:
		}
	})
	c.OnListeningEnd(func() { endOnce.Do(func() { close(ended) }) })
	defer func() {
		c.OnFinalTranscript(nil)
		c.OnListeningEnd(nil)
	}()

	if err := c.StartListening(ctx); err != nil {
		return "", fmt.Errorf("speech: start listening: %w", err)
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

loop:
	for {
		select {
		case <-heard:
			if timer == nil {
				timer = time.NewTimer(silence)
			} else {
				timer.Reset(silence)
			}
			timerC = timer.C
		case <-timerC:
			break loop
		case <-ended:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	stopErr := c.StopListening()

	mu.Lock()
	text := strings.Join(parts, " ")
	mu.Unlock()
	if stopErr != nil {
		return text, fmt.Errorf("speech: stop listening: %w", stopErr)
	}
	return text, nil
}
