// Package agent provides the core conversation loop shared by Vigil's
// interaction modes (terminal CLI and ACP server).
//
// # Architecture
//
// The agent package is organized into three main components:
//
//   - Core agent (this package): the Agent type and the turn-processing
//     state machine
//   - Terminal subpackage (agent/terminal): the CLI interaction mode
//   - ACP subpackage (agent/acp): the Agent Client Protocol server for
//     IDE integration
//
// # Turn processing
//
// ProcessUserInput appends the user's message and then alternates
// between model calls and tool invocations until the model answers with
// plain text. Along the way it:
//
//   - bounds the history (summarize, then truncate) before each model call
//   - streams assistant text through the OnAssistantDelta callback
//   - runs each requested tool through the single-slot invocation engine
//   - routes confirmation requests from mutating tools to the front-end
//   - appends a tool-result message for every tool call, including
//     declined and interrupted ones
//   - honors the continuation marker for multi-round answers
//   - saves the session after each append
//
// Front-ends supply a ProcessCallbacks value; the agent never renders
// anything itself.
package agent
