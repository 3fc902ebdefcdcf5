package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
)

// State is a submission lifecycle state
type State string

// Submission states
const (
	StateReceived        State = "received"
	StateValidated       State = "validated"
	StatePersisted       State = "persisted"
	StateRejected        State = "rejected"
	StateAuthorized      State = "authorized"
	StateGenerated       State = "generated"
	StatePublished       State = "published"
	StateRecorded        State = "recorded"
	StateResponded       State = "responded"
	StateFailed          State = "failed"
	StateNotified        State = "notified"
	StateNotifyExhausted State = "notify_exhausted"
)

var allowedTransitions = map[State][]State{
	StateReceived:   {StateValidated, StateRejected},
	StateValidated:  {StatePersisted, StateFailed},
	StatePersisted:  {StateAuthorized, StateRejected},
	StateAuthorized: {StateGenerated, StateFailed},
	StateGenerated:  {StatePublished},
	StatePublished:  {StateRecorded, StateFailed},
	StateRecorded:   {StateResponded},
	StateResponded:  {StateNotified, StateNotifyExhausted},
}

// IsTerminal reports whether the request side of a submission is finished.
// Responded is terminal even though notification continues after it.
func IsTerminal(s State) bool {
	switch s {
	case StateRejected, StateResponded, StateFailed, StateNotified, StateNotifyExhausted:
		return true
	default:
		return false
	}
}

func isAllowedTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports a disallowed state change
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("disallowed transition: %s -> %s", e.From, e.To)
}

// submission tracks one request through the state machine. The background
// notification advances it after the request goroutine has returned.
type submission struct {
	mu      sync.Mutex
	state   State
	history []State
	logger  *slog.Logger
}

func newSubmission(logger *slog.Logger) *submission {
	return &submission{state: StateReceived, history: []State{StateReceived}, logger: logger}
}

func (s *submission) advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isAllowedTransition(s.state, to) {
		return &TransitionError{From: s.state, To: to}
	}
	s.logger.Debug("submission state", slog.String("from", string(s.state)), slog.String("to", string(to)))
	s.state = to
	s.history = append(s.history, to)
	return nil
}

func (s *submission) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *submission) trail() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}
