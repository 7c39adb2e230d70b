// Package mcpserver exposes a read-only view of the orchestration engine
// as an MCP server, so that a model can ask where it is in its workflow.
//
// Two tools are registered:
//   - workflow_state: the [api.AIState] projection of a session
//   - allowed_tools: the tools the session's active step permits
//
// The server is served over the streamable HTTP transport of
// github.com/modelcontextprotocol/go-sdk and is mounted next to the
// JSON API, behind the same authentication middleware.
package mcpserver
