// Package mock provides a telephony.Client for local development and tests.
package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/acme/campaign-orchestrator/internal/telephony"
)

// Client simulates bridging without placing a real call.
type Client struct {
	successRate float64
	minDelay    time.Duration
	maxJitter   time.Duration
	rng         *rand.Rand
}

// New constructs a mock client whose randomness is seeded from the clock.
func New() *Client {
	return &Client{
		successRate: 0.9,
		minDelay:    100 * time.Millisecond,
		maxJitter:   400 * time.Millisecond,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Bridge simulates a bridge attempt, succeeding successRate of the time.
func (c *Client) Bridge(ctx context.Context, req telephony.BridgeRequest) error {
	delay := c.minDelay + time.Duration(c.rng.Int63n(int64(c.maxJitter)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}

	if c.rng.Float64() <= c.successRate {
		return nil
	}
	return errSimulatedFailure{toPhone: req.ToPhone}
}

type errSimulatedFailure struct {
	toPhone string
}

func (e errSimulatedFailure) Error() string {
	return "mock telephony: simulated bridge failure dialing " + e.toPhone
}
