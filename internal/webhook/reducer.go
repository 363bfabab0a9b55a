// Package webhook implements WebhookReducer (§4.5): normalization of
// terminal call events from the voice engine and from each telephony
// provider into one CallTerminated event, applied idempotently.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-orchestrator/internal/budget"
	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

// Outcome is the normalized terminal status a source event maps onto.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoAnswer  Outcome = "no-answer"
)

// CallTerminated is the single normalized shape every source projects onto
// before the reducer applies state (§4.5).
type CallTerminated struct {
	EngineCallID    string
	Outcome         Outcome
	DurationSeconds int
	EndReason       string
	JoinedAt        *time.Time
	EndedAt         *time.Time
	Summary         string
	ShortSummary    string
	RecordingURL    string
}

// EngineEndReasonOutcome maps a voice-engine endReason to a normalized outcome.
func EngineEndReasonOutcome(endReason string) (Outcome, bool) {
	switch endReason {
	case "hangup", "agent_hangup":
		return OutcomeCompleted, true
	case "unjoined", "timeout":
		return OutcomeNoAnswer, true
	case "connection_error", "system_error":
		return OutcomeFailed, true
	default:
		return "", false
	}
}

// TelephonyStatusOutcome maps a telephony provider's per-leg status to a
// normalized outcome. durationSeconds disambiguates "completed" with no
// audio exchanged, which providers sometimes report as completed anyway.
//
// busyIsRetryable is the §9 open-question knob (BudgetConfig.BusyIsRetryable):
// the source's current behavior of mapping "busy" onto terminal failed is
// preserved when it is false (the default). When true, "busy" is mapped
// onto no-answer instead of failed so it lands in a distinct bucket in
// ContactsSummary/admin reporting rather than being indistinguishable from a
// hard failure; this package still never re-dials a Contact on its own.
func TelephonyStatusOutcome(status string, durationSeconds int, busyIsRetryable bool) (Outcome, bool) {
	switch status {
	case "completed":
		if durationSeconds > 0 {
			return OutcomeCompleted, true
		}
		return OutcomeFailed, true
	case "busy":
		if busyIsRetryable {
			return OutcomeNoAnswer, true
		}
		return OutcomeFailed, true
	case "canceled", "failed", "machine":
		return OutcomeFailed, true
	case "no-answer", "timeout":
		return OutcomeNoAnswer, true
	default:
		return "", false
	}
}

// outcomeToCallStatus maps a normalized Outcome onto the Contact/CallHistory
// CallStatus vocabulary.
func outcomeToCallStatus(o Outcome) domain.CallStatus {
	switch o {
	case OutcomeCompleted:
		return domain.CallStatusCompleted
	case OutcomeNoAnswer:
		return domain.CallStatusNoAnswer
	default:
		return domain.CallStatusFailed
	}
}

// Waker schedules a short delayed wake of processUserCalls(userId) so the
// next contact dials without waiting for the next full scheduler tick.
type Waker interface {
	WakeUserAfter(ctx context.Context, userID string, delay time.Duration) error
}

// Reducer applies normalized terminal events against durable state.
type Reducer struct {
	campaigns    repository.CampaignStore
	history      repository.CallHistoryStore
	budget       *budget.Store
	waker        Waker
	wakeDelay    time.Duration
	signingKey   []byte
	log          *logger.Logger
}

// New constructs a Reducer. signingKey, if non-empty, is required to match
// the HMAC-SHA256 the engine webhook presents.
func New(campaigns repository.CampaignStore, history repository.CallHistoryStore, budgetStore *budget.Store, waker Waker, wakeDelay time.Duration, signingKey string, log *logger.Logger) *Reducer {
	if wakeDelay <= 0 {
		wakeDelay = time.Second
	}
	return &Reducer{
		campaigns:  campaigns,
		history:    history,
		budget:     budgetStore,
		waker:      waker,
		wakeDelay:  wakeDelay,
		signingKey: []byte(signingKey),
		log:        log,
	}
}

// VerifySignature checks an HMAC-SHA256 of rawBody against the
// hex-encoded signature header value, per §4.5's "Signature verification".
// Returns true when no signing key is configured (verification disabled).
func (r *Reducer) VerifySignature(rawBody []byte, signatureHeader string) bool {
	if len(r.signingKey) == 0 {
		return true
	}
	mac := hmac.New(sha256.New, r.signingKey)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// Apply runs the reducer's six steps for one normalized terminal event.
// Every step is idempotent on event.EngineCallID: a duplicate or
// already-applied event is a safe no-op, never an error returned to the
// caller.
func (r *Reducer) Apply(ctx context.Context, event CallTerminated) error {
	campaignID, contact, err := r.campaigns.FindContactByEngineCallID(ctx, event.EngineCallID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.log.Warn("webhook: no contact found for engine call id, ignoring", zap.String("engineCallId", event.EngineCallID))
			return nil
		}
		return fmt.Errorf("webhook: find contact by engine call id: %w", err)
	}
	if contact == nil {
		return nil
	}

	history, err := r.history.Get(ctx, event.EngineCallID)
	if err != nil {
		return fmt.Errorf("webhook: get call history: %w", err)
	}

	alreadyTerminal := contact.CallStatus.IsTerminal()

	// Step 1: drop the ActiveCallRecord under the real key, and the
	// synthetic fallback key in case the rename in CallInitiator step 4
	// never completed.
	if err := r.budget.DropActiveCallRecord(ctx, history.UserID, event.EngineCallID); err != nil {
		return fmt.Errorf("webhook: drop active call record: %w", err)
	}
	if err := r.budget.DropActiveCallRecord(ctx, history.UserID, budget.PendingCallKey(campaignID, contact.ContactID)); err != nil {
		return fmt.Errorf("webhook: drop synthetic active call record: %w", err)
	}

	if alreadyTerminal {
		// Everything below is already applied; still re-schedule a wake in
		// case the prior delivery's wake was lost, but otherwise stop here.
		return r.scheduleWake(ctx, history.UserID)
	}

	// Step 2: update the CallHistory row.
	mappedStatus := outcomeToCallStatus(event.Outcome)
	duration := event.DurationSeconds
	if event.JoinedAt != nil && event.EndedAt != nil {
		duration = int(event.EndedAt.Sub(*event.JoinedAt).Seconds())
	}
	billed := 0
	if duration > 0 {
		billed = duration
		if billed < 60 {
			billed = 60
		}
	}
	history.Status = mappedStatus
	history.EndedAt = event.EndedAt
	history.DurationSeconds = duration
	history.EndReason = event.EndReason
	history.BilledDuration = billed
	if event.Summary != "" {
		history.Summary = event.Summary
	}
	if event.ShortSummary != "" {
		history.ShortSummary = event.ShortSummary
	}
	if event.RecordingURL != "" {
		history.RecordingURL = event.RecordingURL
	}
	if err := r.history.Update(ctx, history); err != nil {
		return fmt.Errorf("webhook: update call history: %w", err)
	}
	if err := r.history.AppendAttempt(ctx, history.CallID, domain.CallAttempt{
		AttemptNumber: len(history.Attempts) + 1,
		Status:        mappedStatus,
		Reason:        event.EndReason,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		r.log.Warn("webhook: append call attempt failed", zap.Error(err), zap.String("engineCallId", history.CallID))
	}

	// Step 3: update the Contact.
	contact.CallStatus = mappedStatus
	contact.CallDuration = duration
	contact.CallNotes = event.EndReason
	if err := r.campaigns.UpdateContact(ctx, campaignID, *contact); err != nil {
		return fmt.Errorf("webhook: update contact: %w", err)
	}

	delta := repository.CampaignTotalsDelta{CompletedDelta: 1}
	if mappedStatus == domain.CallStatusCompleted {
		delta.SuccessfulDelta = 1
	} else {
		delta.FailedDelta = 1
	}
	if err := r.campaigns.IncrementTotals(ctx, campaignID, delta); err != nil {
		return fmt.Errorf("webhook: increment campaign totals: %w", err)
	}

	// Step 4: release the owning user's budget slot.
	if err := r.budget.Release(ctx, history.UserID); err != nil {
		return fmt.Errorf("webhook: release budget slot: %w", err)
	}

	// Step 5: complete the campaign if no work remains.
	if err := r.maybeCompleteCampaign(ctx, campaignID); err != nil {
		return fmt.Errorf("webhook: complete campaign check: %w", err)
	}

	// Step 6: wake processUserCalls for the next contact.
	return r.scheduleWake(ctx, history.UserID)
}

func (r *Reducer) maybeCompleteCampaign(ctx context.Context, campaignID uuid.UUID) error {
	summary, err := r.campaigns.ContactsSummary(ctx, campaignID)
	if err != nil {
		return err
	}
	if summary.Pending > 0 || summary.InProgress > 0 {
		return nil
	}
	return r.campaigns.UpdateStatus(ctx, campaignID, domain.CampaignStatusCompleted, "")
}

func (r *Reducer) scheduleWake(ctx context.Context, userID uuid.UUID) error {
	if r.waker == nil {
		return nil
	}
	if err := r.waker.WakeUserAfter(ctx, userID.String(), r.wakeDelay); err != nil {
		return fmt.Errorf("webhook: schedule wake: %w", err)
	}
	return nil
}
