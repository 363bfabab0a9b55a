// Package twilio implements telephony.Client for Twilio-style providers
// using the real Twilio REST API.
package twilio

import (
	"context"
	"fmt"
	"net/url"
	"time"

	twiliogo "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/acme/campaign-orchestrator/internal/telephony"
)

// Client bridges calls through Twilio by dialing toPhone and connecting the
// resulting leg into the voice engine's joinUrl via a <Connect><Stream>
// TwiML document.
type Client struct {
	statusCallbackBase string
	requestTimeout     time.Duration
}

// New constructs a Client. statusCallbackBase, if set, receives the
// correlation tags as query parameters on every call's status callback URL.
// requestTimeout is CallBridgeConfig.RequestTimeout, the bound placed on the
// CreateCall round trip; zero falls back to 8s.
func New(statusCallbackBase string, requestTimeout time.Duration) *Client {
	return &Client{statusCallbackBase: statusCallbackBase, requestTimeout: requestTimeout}
}

// Bridge dials req.ToPhone from req.FromPhone using the account credentials
// supplied in req.Credentials ("account_sid", "account_token").
func (c *Client) Bridge(ctx context.Context, req telephony.BridgeRequest) error {
	accountSID := req.Credentials["account_sid"]
	authToken := req.Credentials["account_token"]
	if accountSID == "" || authToken == "" {
		return fmt.Errorf("twilio bridge: missing account_sid/account_token credentials")
	}

	rest := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	params := &openapi.CreateCallParams{}
	params.SetTo(req.ToPhone)
	params.SetFrom(req.FromPhone)
	params.SetTwiml(connectStreamTwiML(req.JoinURL))

	if cb := c.statusCallbackURL(req.CorrelationTags); cb != "" {
		params.SetStatusCallback(cb)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
		params.SetStatusCallbackMethod("POST")
	}

	timeout := c.requestTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		_, err := rest.Api.CreateCall(params)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("twilio bridge: create call: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("twilio bridge: create call: %w", ctx.Err())
	case <-time.After(timeout):
		return fmt.Errorf("twilio bridge: create call: timed out after %s", timeout)
	}
}

func connectStreamTwiML(joinURL string) string {
	return fmt.Sprintf(`<Response><Connect><Stream url="%s"/></Connect></Response>`, joinURL)
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
