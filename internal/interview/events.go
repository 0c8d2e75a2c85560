package interview

import "time"

// EventKind classifies an [Event].
type EventKind string

const (
	EventStage      EventKind = "stage"
	EventScore      EventKind = "score"
	EventQuestion   EventKind = "question"
	EventRun        EventKind = "run"
	EventForced     EventKind = "forced_submit"
	EventError      EventKind = "error"
	EventRestart    EventKind = "restart"
	EventResults    EventKind = "results"
	EventMCQExpired EventKind = "mcq_expired"
	EventRegistered EventKind = "registered"
)

// Event is a notification about a session change.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Score     *float64  `json:"score,omitempty"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// Subscribe returns a channel receiving every future event and a function
// that cancels the subscription. Events are dropped for a subscriber whose
// buffer is full. buffer values below 1 are raised to 1.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Controller) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func scorePtr(v float64) *float64 { return &v }
