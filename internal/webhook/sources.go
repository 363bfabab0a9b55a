package webhook

import (
	"fmt"
	"time"
)

// EnginePayload is the voice engine's call.ended / call.billed webhook body.
type EnginePayload struct {
	EngineCallID string     `json:"callId"`
	EndReason    string     `json:"endReason"`
	JoinedAt     *time.Time `json:"joinedAt"`
	EndedAt      *time.Time `json:"endedAt"`
	Summary      string     `json:"summary"`
	ShortSummary string     `json:"shortSummary"`
	RecordingURL string     `json:"recordingUrl"`
}

// FromEngine normalizes a voice-engine webhook body onto CallTerminated.
func FromEngine(p EnginePayload) (CallTerminated, error) {
	outcome, ok := EngineEndReasonOutcome(p.EndReason)
	if !ok {
		return CallTerminated{}, fmt.Errorf("webhook: unrecognized engine endReason %q", p.EndReason)
	}
	return CallTerminated{
		EngineCallID: p.EngineCallID,
		Outcome:      outcome,
		JoinedAt:     p.JoinedAt,
		EndedAt:      p.EndedAt,
		Summary:      p.Summary,
		ShortSummary: p.ShortSummary,
		RecordingURL: p.RecordingURL,
	}, nil
}

// TwilioStatusPayload is the subset of Twilio's status-callback form fields
// this reducer cares about. EngineCallID is recovered from the
// correlation tags appended to the status callback URL, not from Twilio's
// own CallSid.
type TwilioStatusPayload struct {
	EngineCallID  string
	CallStatus    string
	CallDuration  int
}

// FromTwilio normalizes a Twilio status callback onto CallTerminated.
// busyIsRetryable is BudgetConfig.BusyIsRetryable, forwarded to
// TelephonyStatusOutcome.
func FromTwilio(p TwilioStatusPayload, busyIsRetryable bool) (CallTerminated, error) {
	outcome, ok := TelephonyStatusOutcome(normalizeTwilioStatus(p.CallStatus), p.CallDuration, busyIsRetryable)
	if !ok {
		return CallTerminated{}, fmt.Errorf("webhook: unrecognized twilio CallStatus %q", p.CallStatus)
	}
	return CallTerminated{
		EngineCallID:    p.EngineCallID,
		Outcome:         outcome,
		DurationSeconds: p.CallDuration,
		EndReason:       p.CallStatus,
	}, nil
}

func normalizeTwilioStatus(status string) string {
	if status == "no-answer" {
		return "no-answer"
	}
	return status
}

// PlivoStatusPayload mirrors Plivo's hangup callback fields this reducer uses.
type PlivoStatusPayload struct {
	EngineCallID string
	HangupCause  string
	Duration     int
}

// FromPlivo normalizes a Plivo hangup callback onto CallTerminated. Plivo's
// hangup causes are mapped onto the same telephony vocabulary as Twilio's
// CallStatus since both describe a terminated leg the same way.
func FromPlivo(p PlivoStatusPayload, busyIsRetryable bool) (CallTerminated, error) {
	status := mapPlivoHangupCause(p.HangupCause, p.Duration)
	outcome, ok := TelephonyStatusOutcome(status, p.Duration, busyIsRetryable)
	if !ok {
		return CallTerminated{}, fmt.Errorf("webhook: unrecognized plivo HangupCause %q", p.HangupCause)
	}
	return CallTerminated{
		EngineCallID:    p.EngineCallID,
		Outcome:         outcome,
		DurationSeconds: p.Duration,
		EndReason:       p.HangupCause,
	}, nil
}

func mapPlivoHangupCause(cause string, duration int) string {
	switch cause {
	case "NORMAL_CLEARING":
		if duration > 0 {
			return "completed"
		}
		return "failed"
	case "USER_BUSY":
		return "busy"
	case "NO_USER_RESPONSE", "NO_ANSWER":
		return "no-answer"
	case "ORIGINATOR_CANCEL":
		return "canceled"
	default:
		return "failed"
	}
}

// TelnyxStatusPayload mirrors the Telnyx call.hangup webhook's data.payload fields.
type TelnyxStatusPayload struct {
	EngineCallID  string
	HangupCause   string
	CallDuration  int
}

// FromTelnyx normalizes a Telnyx hangup event onto CallTerminated.
func FromTelnyx(p TelnyxStatusPayload, busyIsRetryable bool) (CallTerminated, error) {
	status := mapTelnyxHangupCause(p.HangupCause, p.CallDuration)
	outcome, ok := TelephonyStatusOutcome(status, p.CallDuration, busyIsRetryable)
	if !ok {
		return CallTerminated{}, fmt.Errorf("webhook: unrecognized telnyx hangup cause %q", p.HangupCause)
	}
	return CallTerminated{
		EngineCallID:    p.EngineCallID,
		Outcome:         outcome,
		DurationSeconds: p.CallDuration,
		EndReason:       p.HangupCause,
	}, nil
}

func mapTelnyxHangupCause(cause string, duration int) string {
	switch cause {
	case "normal_clearing", "call_rejected":
		if duration > 0 {
			return "completed"
		}
		return "failed"
	case "user_busy":
		return "busy"
	case "no_answer", "timeout":
		return "no-answer"
	case "originator_cancel":
		return "canceled"
	default:
		return "failed"
	}
}
