// Package vonage implements telephony.Client for Vonage-style providers
// using the real Vonage Voice API SDK.
package vonage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	vg "github.com/vonage/vonage-go-sdk"
	"github.com/vonage/vonage-go-sdk/ncco"

	"github.com/acme/campaign-orchestrator/internal/telephony"
)

// Client bridges calls through Vonage by dialing toPhone and connecting the
// resulting leg into the voice engine's joinUrl via an NCCO connect action
// targeting a websocket endpoint.
type Client struct {
	statusCallbackBase string
	requestTimeout     time.Duration
}

// New constructs a Client. requestTimeout is CallBridgeConfig.RequestTimeout,
// the bound placed on the CreateCall round trip; zero falls back to 8s.
func New(statusCallbackBase string, requestTimeout time.Duration) *Client {
	return &Client{statusCallbackBase: statusCallbackBase, requestTimeout: requestTimeout}
}

// Bridge dials req.ToPhone from req.FromPhone using the application
// credentials supplied in req.Credentials ("application_id", "private_key").
func (c *Client) Bridge(ctx context.Context, req telephony.BridgeRequest) error {
	appID := req.Credentials["application_id"]
	privateKey := req.Credentials["private_key"]
	if appID == "" || privateKey == "" {
		return fmt.Errorf("vonage bridge: missing application_id/private_key credentials")
	}

	auth, err := vg.CreateAuthFromAppPrivateKey(appID, []byte(privateKey))
	if err != nil {
		return fmt.Errorf("vonage bridge: build auth: %w", err)
	}
	voiceClient, err := vg.NewVoiceClient(auth)
	if err != nil {
		return fmt.Errorf("vonage bridge: build voice client: %w", err)
	}

	connectAction := ncco.ConnectAction{
		Endpoint: []ncco.ConnectEndpoint{
			ncco.WebSocketEndpoint{URI: req.JoinURL, ContentType: "audio/l16;rate=16000"},
		},
	}

	callReq := vg.CreateCallReq{
		To: []vg.CallTo{vg.CallTo{Type: "phone", Number: req.ToPhone}},
		From: vg.CallFrom{Type: "phone", Number: req.FromPhone},
		Ncco: ncco.Ncco{Actions: []ncco.Action{connectAction}},
	}
	if cb := c.statusCallbackURL(req.CorrelationTags); cb != "" {
		callReq.EventUrl = []string{cb}
	}

	timeout := c.requestTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := voiceClient.CreateCall(callReq)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("vonage bridge: create call: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("vonage bridge: create call: %w", ctx.Err())
	case <-time.After(timeout):
		return fmt.Errorf("vonage bridge: create call: timed out after %s", timeout)
	}
}

func (c *Client) statusCallbackURL(tags map[string]string) string {
	if c.statusCallbackBase == "" {
		return ""
	}
	values := url.Values{}
	for k, v := range tags {
		values.Set(k, v)
	}
	return c.statusCallbackBase + "?" + values.Encode()
}
