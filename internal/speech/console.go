package speech

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

var _ Capability = (*Console)(nil)

// Console is a text stand-in for a speech endpoint. Each line received on
// the input channel is a final transcript; an empty line ends listening.
// Spoken text is written to the output with a speaker prefix.
type Console struct {
	in     <-chan string
	out    io.Writer
	prefix string

	mu           sync.Mutex
	onTranscript func(string)
	onListenEnd  func()
	onSpeechEnd  func()
	listening    bool
	speaking     bool
	stop         chan struct{}
	stopFn       func()
	wg           sync.WaitGroup
}

// ConsoleOption configures a [Console].
type ConsoleOption func(*Console)

// WithSpeakerPrefix sets the label written before each spoken line.
// The default is "Interviewer: ".
func WithSpeakerPrefix(p string) ConsoleOption {
	return func(c *Console) { c.prefix = p }
}

// NewConsole returns a [Console] reading transcript lines from in and
// writing speech to out. The channel is shared with the caller and is never
// closed by Console.
func NewConsole(in <-chan string, out io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{in: in, out: out, prefix: "Interviewer: "}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartListening implements [Capability].
func (c *Console) StartListening(ctx context.Context) error {
	c.mu.Lock()
	if c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = true
	stop := make(chan struct{})
	c.stop = stop
	c.stopFn = sync.OnceFunc(func() { close(stop) })
	c.mu.Unlock()

	c.wg.Add(1)
	go c.listen(ctx, stop)
	return nil
}

func (c *Console) listen(ctx context.Context, stop chan struct{}) {
	defer c.wg.Done()
	defer c.endListening(stop)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case line, ok := <-c.in:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				return
			}
			c.mu.Lock()
			fn := c.onTranscript
			c.mu.Unlock()
			if fn != nil {
				fn(line)
			}
		}
	}
}

// endListening flips the state and fires OnListeningEnd exactly once per
// StartListening.
func (c *Console) endListening(stop chan struct{}) {
	c.mu.Lock()
	if c.stop != stop || !c.listening {
		c.mu.Unlock()
		return
	}
	c.listening = false
	c.stop = nil
	c.stopFn = nil
	fn := c.onListenEnd
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// StopListening implements [Capability]. It waits for the reader goroutine
// to exit so no transcript is delivered afterwards.
func (c *Console) StopListening() error {
	c.mu.Lock()
	stopFn := c.stopFn
	c.mu.Unlock()
	if stopFn != nil {
		stopFn()
	}
	c.wg.Wait()
	return nil
}

// OnFinalTranscript implements [Capability].
func (c *Console) OnFinalTranscript(fn func(string)) {
	c.mu.Lock()
	c.onTranscript = fn
	c.mu.Unlock()
}

// OnListeningEnd implements [Capability].
func (c *Console) OnListeningEnd(fn func()) {
	c.mu.Lock()
	c.onListenEnd = fn
	c.mu.Unlock()
}

// OnSpeechEnd implements [Capability].
func (c *Console) OnSpeechEnd(fn func()) {
	c.mu.Lock()
	c.onSpeechEnd = fn
	c.mu.Unlock()
}

// Speak implements [Capability] by writing one line to the output.
func (c *Console) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.speaking = true
	c.mu.Unlock()

	_, err := fmt.Fprintf(c.out, "%s%s\n", c.prefix, text)

	c.mu.Lock()
	c.speaking = false
	fn := c.onSpeechEnd
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	if err != nil {
		return fmt.Errorf("speech: console speak: %w", err)
	}
	return nil
}

// Speaking implements [Capability].
func (c *Console) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Listening implements [Capability].
func (c *Console) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}
