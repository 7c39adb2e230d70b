// Package transport defines the contracts between the stepwise HTTP
// surface and the orchestration engine, together with the HTTP-level
// middleware shared by every endpoint.
//
// # Contracts
//
//   - Orchestrator is the engine operation set served over HTTP and MCP.
//     *orchestration.Manager satisfies it.
//   - AgentRegistry resolves named orchestration configs from the service
//     configuration, so callers can reference an agent instead of sending
//     its steps on every turn.
//   - HealthChecker backs the readiness probe.
//
// # Middleware
//
// Middleware wraps an http.Handler. Built-in middleware provides panic
// recovery, request ID assignment (X-Request-ID) and structured access
// logging via log/slog. Errors are written as the api.ErrorResponse JSON
// envelope with a status derived from the error type.
package transport
