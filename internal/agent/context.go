// Package agent implements the Conversation Engine core: driving the
// LM through a streaming, tool-using turn and assembling the
// first-exchange system prompt from composable context providers.
package agent

import "context"

// ContextProvider contributes a block of text to the system prompt
// assembled on a thread's first exchange. Implementations that have
// nothing to add for a given user message return an empty string and
// a nil error; a returned error is logged and the provider's
// contribution is dropped rather than aborting prompt assembly.
type ContextProvider interface {
	GetContext(ctx context.Context, userMessage string) (string, error)
}
