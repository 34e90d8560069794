// Package terminal implements the command-line interface mode for the
// Vigil agent.
//
// It reads prompts from stdin, prints streamed assistant text as it
// arrives, asks for confirmation before tool execution in prompt mode,
// and shows pending file mutations before they are applied. The exit
// commands /quit and /exit end the session; so does EOF.
package terminal
