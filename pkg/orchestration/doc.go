// Package orchestration decides, on every conversational turn, which
// workflow step is active for a session, which tools the agent may call,
// and how a tool invocation moves the workflow forward.
//
// The package is built from three layers:
//   - [StateManager]: persisted per-session [api.State] records
//   - [Sequencer]: ordered tool invocation within a step
//   - [Manager]: step resolution, tool filtering and tool-usage processing
//
// Operations never abort the calling conversation. Failures are logged
// with session context and returned as *api.Error values; the Manager
// falls back to "no orchestration guarantees" instead of failing a turn.
//
// No locking is done per session. Callers must ensure at most one
// in-flight turn per session; concurrent writers to the same session
// resolve as last writer wins.
package orchestration
