// Package speech defines the speech capability used by the voice stage.
//
// Recognition and synthesis happen outside this module. A [Capability] only
// exposes the lifecycle the interview needs: start and stop listening,
// receive final transcripts, speak a line and learn when it has been spoken.
// Speech is never authoritative: failures are logged by callers and the
// interview continues with whatever transcript text was captured.
package speech

import "context"

// Capability is a speech recognition and synthesis endpoint.
//
// Callback setters replace any previously registered callback. Callbacks may
// be invoked from any goroutine and must not block.
type Capability interface {
	// StartListening begins recognition. Final transcripts are delivered to
	// the OnFinalTranscript callback until StopListening is called, ctx is
	// cancelled, or the capability ends listening on its own.
	StartListening(ctx context.Context) error

	// StopListening ends recognition. It is safe to call when not listening.
	StopListening() error

	// OnFinalTranscript registers the callback for finalised transcript text.
	OnFinalTranscript(fn func(text string))

	// OnListeningEnd registers the callback invoked once each time listening
	// stops, for whatever reason.
	OnListeningEnd(fn func())

	// Speak synthesises text and blocks until playback finishes or ctx is done.
	Speak(ctx context.Context, text string) error

	// OnSpeechEnd registers the callback invoked after each Speak completes.
	OnSpeechEnd(fn func())

	// Speaking reports whether synthesis is in progress.
	Speaking() bool

	// Listening reports whether recognition is active.
	Listening() bool
}
