// Package mock provides an in-memory [speech.Capability] for tests.
//
// The mock records every Speak call and lets the test drive recognition with
// [Capability.Emit] and [Capability.EndListening]. It is safe for concurrent
// use.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mockinterview/internal/speech"
)

var _ speech.Capability = (*Capability)(nil)

// Capability is a mock implementation of [speech.Capability].
type Capability struct {
	mu sync.Mutex

	// StartErr is returned by StartListening.
	StartErr error
	// SpeakErr is returned by Speak.
	SpeakErr error
	// Script, if set, is emitted as final transcripts right after
	// StartListening, followed by an end of listening.
	Script []string

	// Spoken accumulates the text of every Speak call, including failed ones.
	Spoken []string
	// StartCalls counts StartListening calls.
	StartCalls int
	// StopCalls counts StopListening calls.
	StopCalls int

	onTranscript func(string)
	onListenEnd  func()
	onSpeechEnd  func()
	listening    bool
	speaking     bool
}

// StartListening implements [speech.Capability].
func (c *Capability) StartListening(_ context.Context) error {
	c.mu.Lock()
	c.StartCalls++
	if c.StartErr != nil {
		err := c.StartErr
		c.mu.Unlock()
		return err
	}
	c.listening = true
	script := append([]string(nil), c.Script...)
	c.mu.Unlock()

	if len(script) > 0 {
		go func() {
			for _, line := range script {
				c.Emit(line)
			}
			c.EndListening()
		}()
	}
	return nil
}

// StopListening implements [speech.Capability].
func (c *Capability) StopListening() error {
	c.mu.Lock()
	c.StopCalls++
	c.mu.Unlock()
	c.EndListening()
	return nil
}

// Emit delivers text to the registered transcript callback if listening.
func (c *Capability) Emit(text string) {
	c.mu.Lock()
	fn := c.onTranscript
	ok := c.listening
	c.mu.Unlock()
	if ok && fn != nil {
		fn(text)
	}
}

// EndListening stops listening and fires the listening-end callback once.
func (c *Capability) EndListening() {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return
	}
	c.listening = false
	fn := c.onListenEnd
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnFinalTranscript implements [speech.Capability].
func (c *Capability) OnFinalTranscript(fn func(string)) {
	c.mu.Lock()
	c.onTranscript = fn
	c.mu.Unlock()
}

// OnListeningEnd implements [speech.Capability].
func (c *Capability) OnListeningEnd(fn func()) {
	c.mu.Lock()
	c.onListenEnd = fn
	c.mu.Unlock()
}

// OnSpeechEnd implements [speech.Capability].
func (c *Capability) OnSpeechEnd(fn func()) {
	c.mu.Lock()
	c.onSpeechEnd = fn
	c.mu.Unlock()
}

// Speak implements [speech.Capability].
func (c *Capability) Speak(_ context.Context, text string) error {
	c.mu.Lock()
	c.Spoken = append(c.Spoken, text)
	err := c.SpeakErr
	fn := c.onSpeechEnd
	c.mu.Unlock()
	if err == nil && fn != nil {
		fn()
	}
	return err
}

// SpokenLines returns a copy of every text passed to Speak.
func (c *Capability) SpokenLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Spoken...)
}

// Speaking implements [speech.Capability].
func (c *Capability) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Listening implements [speech.Capability].
func (c *Capability) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}
