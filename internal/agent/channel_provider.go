package agent

import (
	"context"

	"github.com/nugget/selfhosted-assistant/internal/tools"
)

// channelNotes maps source hint values to system prompt context notes.
// Each note describes the channel's characteristics so the agent can
// adjust its communication style accordingly.
var channelNotes = map[string]string{
	"sms": "[Source: SMS \u2014 terse input is normal; typing on a phone " +
		"is slow and brevity is not an indicator of emotional state.]",
	"wake": "[Source: scheduled wake \u2014 this exchange was not initiated " +
		"by the user; there is no one waiting to read a reply in real time.]",
}

// ChannelProvider is a ContextProvider that injects channel-specific
// notes into the system prompt based on the "source" routing hint
// attached to the request context. When no recognized source is
// present, it returns an empty string.
type ChannelProvider struct{}

// NewChannelProvider creates a channel awareness context provider.
func NewChannelProvider() *ChannelProvider {
	return &ChannelProvider{}
}

// GetContext returns a channel-specific note if the request context
// carries a "source" hint that matches a known channel. Returns an
// empty string otherwise.
func (p *ChannelProvider) GetContext(ctx context.Context, _ string) (string, error) {
	hints := tools.HintsFromContext(ctx)
	if hints == nil {
		return "", nil
	}
	if note, ok := channelNotes[hints["source"]]; ok {
		return note, nil
	}
	return "", nil
}
