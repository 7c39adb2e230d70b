// Package api defines the core types for the stepwise orchestration engine.
//
// This package provides the data model shared by the engine, the storage
// layer and the transport adapters: workflow steps and their conditions,
// the per-agent orchestration config, the session-scoped orchestration
// state, the outward state projection, typed engine errors, HTTP error
// payloads, config validation and session ID generation.
//
// The package performs no I/O. All types produce JSON with snake_case
// field names.
//
// Core types:
//   - [Step]: Named workflow unit with conditions, tool filters and an optional tool sequence
//   - [Config]: Ordered list of steps for one agent, supplied per call
//   - [State]: Persisted per-session orchestration state
//   - [AIState]: The subset of [State] exposed outside the engine
//   - [Error]: Typed engine error carrying an [ErrorKind]
//   - [APIError]: Structured error for HTTP responses
//
// Steps reference each other only by name. A config is looked up with
// [Config.Step] and [Config.DefaultStep], so a step graph with cycles needs
// no special handling.
package api
