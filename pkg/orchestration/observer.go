package orchestration

import "github.com/rhuss/stepwise/pkg/api"

// Observer receives orchestration events, typically to export metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	// StepTransition is called when a session's active step changes.
	// from is empty when the session had no active step.
	StepTransition(from, to string)

	// SequenceViolation is called when a tool is invoked out of order.
	SequenceViolation(step string)

	// ToolUsed is called for every processed tool invocation.
	ToolUsed(tool string)

	// StateError is called when a state operation fails.
	StateError(op string, kind api.ErrorKind)

	// SessionsSwept is called after a cleanup pass removed n sessions.
	SessionsSwept(n int)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) StepTransition(string, string)    {}
func (NopObserver) SequenceViolation(string)         {}
func (NopObserver) ToolUsed(string)                  {}
func (NopObserver) StateError(string, api.ErrorKind) {}
func (NopObserver) SessionsSwept(int)                {}
