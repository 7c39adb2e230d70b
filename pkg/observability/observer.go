package observability

import (
	"github.com/rhuss/stepwise/pkg/api"
	"github.com/rhuss/stepwise/pkg/orchestration"
)

var _ orchestration.Observer = Observer{}

// Observer exports orchestration events as Prometheus metrics.
type Observer struct{}

// StepTransition increments stepwise_step_transitions_total.
func (Observer) StepTransition(from, to string) {
	StepTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SequenceViolation increments stepwise_sequence_violations_total.
func (Observer) SequenceViolation(step string) {
	SequenceViolationsTotal.WithLabelValues(step).Inc()
}

// ToolUsed increments stepwise_tool_usage_total.
func (Observer) ToolUsed(tool string) {
	ToolUsageTotal.WithLabelValues(tool).Inc()
}

// StateError increments stepwise_state_errors_total.
func (Observer) StateError(op string, kind api.ErrorKind) {
	StateErrorsTotal.WithLabelValues(op, string(kind)).Inc()
}

// SessionsSwept adds n to stepwise_sessions_swept_total.
func (Observer) SessionsSwept(n int) {
	SessionsSweptTotal.Add(float64(n))
}
