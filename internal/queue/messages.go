package queue

import "time"

// WebhookEventMessage carries one normalized terminal call event from an
// inbound webhook handler to the StatusApplier worker that does the actual
// store writes, decoupling webhook HTTP latency from store latency.
type WebhookEventMessage struct {
	EngineCallID    string     `json:"engine_call_id"`
	Outcome         string     `json:"outcome"`
	DurationSeconds int        `json:"duration_seconds"`
	EndReason       string     `json:"end_reason"`
	JoinedAt        *time.Time `json:"joined_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	ShortSummary    string     `json:"short_summary,omitempty"`
	RecordingURL    string     `json:"recording_url,omitempty"`
	ReceivedAt      time.Time  `json:"received_at"`
}

// WakeupMessage instructs the scheduler to run processUserCalls for one
// user slightly ahead of the next fixed-interval tick (§4.5 step 6, §4.6
// step 4).
type WakeupMessage struct {
	UserID    string    `json:"user_id"`
	NotBefore time.Time `json:"not_before"`
}
