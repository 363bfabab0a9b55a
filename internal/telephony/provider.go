// Package telephony abstracts the outbound call bridge. CallInitiator calls
// Client.Bridge once the voice engine has allocated a join session; each
// concrete implementation dials the customer's phone number and streams the
// leg into that session the way its provider natively supports (§4.4 step 4,
// §6).
package telephony

import "context"

// BridgeRequest carries everything a provider needs to place the real
// outbound leg and correlate its status callbacks back to a Contact.
type BridgeRequest struct {
	FromPhone       string
	ToPhone         string
	JoinURL         string
	Credentials     map[string]string
	CorrelationTags map[string]string
}

// Client bridges a customer phone number into a voice-engine session.
// Implementations: Twilio-style (TwiML <Connect><Stream>), Vonage-style
// (NCCO connect action), and a mock used outside production.
type Client interface {
	Bridge(ctx context.Context, req BridgeRequest) error
}

// Registry resolves a Client by the provider tag stored on a campaign's
// OutboundMedium.
type Registry map[string]Client

// Resolve looks up the client registered for provider and reports false if
// none is configured — surfaced by CallInitiator as a configuration error (§7).
func (r Registry) Resolve(provider string) (Client, bool) {
	c, ok := r[provider]
	return c, ok
}
