// Package auth provides pluggable authentication for the stepwise HTTP API.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default decides
// when all authenticators abstain.
//
// Auth is implemented as HTTP middleware, keeping it decoupled from the
// orchestration engine. The middleware injects the caller's tenant into
// the request context, which scopes every session key the engine touches.
package auth
