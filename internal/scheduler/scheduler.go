// Package scheduler implements SchedulerLoop (§4.7): the fixed-interval
// tick that reaps stale calls, opens and closes campaign windows, and fans
// out per-user dialing.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/campaign-orchestrator/internal/budget"
	"github.com/acme/campaign-orchestrator/internal/callinit"
	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/reaper"
	"github.com/acme/campaign-orchestrator/internal/repository"
	"github.com/acme/campaign-orchestrator/internal/scheduler/window"
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

var tracer = otel.Tracer("orchestrator.scheduler")

// Loop runs the fixed-interval tick described in §4.7.
type Loop struct {
	campaigns    repository.CampaignStore
	budget       *budget.Store
	reaper       *reaper.Reaper
	initiator    *callinit.Initiator
	tickInterval time.Duration
	fetchLimit   int
	startGrace   time.Duration
	log          *logger.Logger
}

// New constructs a Loop. startGrace is SchedulerConfig.StartGracePeriod,
// the window a restarted process may still pick up a just-opened campaign
// window in; zero uses window.StartGrace.
func New(campaigns repository.CampaignStore, budgetStore *budget.Store, r *reaper.Reaper, initiator *callinit.Initiator, tickInterval time.Duration, fetchLimit int, startGrace time.Duration, log *logger.Logger) *Loop {
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	if fetchLimit <= 0 {
		fetchLimit = 200
	}
	return &Loop{
		campaigns:    campaigns,
		budget:       budgetStore,
		reaper:       r,
		initiator:    initiator,
		tickInterval: tickInterval,
		fetchLimit:   fetchLimit,
		startGrace:   startGrace,
		log:          log,
	}
}

// Run blocks, firing Tick on every tickInterval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	for {
		if err := l.Tick(ctx); err != nil && ctx.Err() == nil {
			l.log.Error("scheduler: tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs the five ordered steps of §4.7 once.
func (l *Loop) Tick(ctx context.Context) error {
	tctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	reaped, err := l.reaper.Sweep(tctx)
	if err != nil {
		span.RecordError(err)
		l.log.Warn("scheduler: stale call sweep failed", zap.Error(err))
	}
	span.SetAttributes(attribute.Int("reaper.reaped", reaped))

	if err := l.startDueCampaigns(tctx); err != nil {
		span.RecordError(err)
		l.log.Warn("scheduler: start due campaigns failed", zap.Error(err))
	}
	if err := l.resumeParkedCampaigns(tctx); err != nil {
		span.RecordError(err)
		l.log.Warn("scheduler: resume parked campaigns failed", zap.Error(err))
	}
	if err := l.stopClosedWindows(tctx); err != nil {
		span.RecordError(err)
		l.log.Warn("scheduler: stop closed windows failed", zap.Error(err))
	}

	userIDs, err := l.campaigns.ActiveUserIDs(tctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("scheduler: list active user ids: %w", err)
	}
	span.SetAttributes(attribute.Int("users.active", len(userIDs)))
	for _, userID := range userIDs {
		if err := l.ProcessUserCalls(tctx, userID); err != nil {
			l.log.Warn("scheduler: process user calls failed", zap.String("userId", userID.String()), zap.Error(err))
		}
	}
	return nil
}

// startDueCampaigns is §4.7 step 2.
func (l *Loop) startDueCampaigns(ctx context.Context) error {
	campaigns, err := l.campaigns.ListByStatus(ctx, domain.CampaignStatusScheduled, l.fetchLimit)
	if err != nil {
		return fmt.Errorf("list scheduled campaigns: %w", err)
	}
	now := time.Now().UTC()
	for _, c := range campaigns {
		if c.Type != domain.CampaignTypeOutbound || c.Schedule == nil {
			continue
		}
		if !window.ShouldStart(c.Schedule, now, window.Options{StartGrace: l.startGrace}) {
			continue
		}
		if err := l.campaigns.UpdateStatus(ctx, c.ID, domain.CampaignStatusActive, ""); err != nil {
			l.log.Warn("scheduler: failed to start due campaign", zap.String("campaignId", c.ID.String()), zap.Error(err))
			continue
		}
		if err := l.ProcessUserCalls(ctx, c.UserID); err != nil {
			l.log.Warn("scheduler: process user calls after start failed", zap.String("userId", c.UserID.String()), zap.Error(err))
		}
	}
	return nil
}

// resumeParkedCampaigns is §4.7 step 3.
func (l *Loop) resumeParkedCampaigns(ctx context.Context) error {
	campaigns, err := l.campaigns.ListByStatus(ctx, domain.CampaignStatusPausedTimeWindow, l.fetchLimit)
	if err != nil {
		return fmt.Errorf("list parked campaigns: %w", err)
	}
	now := time.Now().UTC()
	for _, c := range campaigns {
		if c.Type != domain.CampaignTypeOutbound || c.Schedule == nil {
			continue
		}
		if !hasPending(c) {
			continue
		}
		if !window.CanResumeInWindow(c.Schedule, now) {
			continue
		}
		c.Status = domain.CampaignStatusActive
		c.PausedReason = ""
		c.StartedAt = &now
		if err := l.campaigns.Update(ctx, c); err != nil {
			l.log.Warn("scheduler: failed to resume parked campaign", zap.String("campaignId", c.ID.String()), zap.Error(err))
			continue
		}
		if err := l.ProcessUserCalls(ctx, c.UserID); err != nil {
			l.log.Warn("scheduler: process user calls after resume failed", zap.String("userId", c.UserID.String()), zap.Error(err))
		}
	}
	return nil
}

// stopClosedWindows is §4.7 step 4.
func (l *Loop) stopClosedWindows(ctx context.Context) error {
	campaigns, err := l.campaigns.ListByStatus(ctx, domain.CampaignStatusActive, l.fetchLimit)
	if err != nil {
		return fmt.Errorf("list active campaigns: %w", err)
	}
	now := time.Now().UTC()
	for _, c := range campaigns {
		if c.Type != domain.CampaignTypeOutbound || c.Schedule == nil {
			continue
		}
		if !window.ShouldStop(c.Schedule, now) {
			continue
		}
		if hasPending(c) {
			if err := l.campaigns.UpdateStatus(ctx, c.ID, domain.CampaignStatusPausedTimeWindow, "end-time-reached"); err != nil {
				l.log.Warn("scheduler: failed to park campaign at window close", zap.String("campaignId", c.ID.String()), zap.Error(err))
			}
			continue
		}
		if err := l.campaigns.UpdateStatus(ctx, c.ID, domain.CampaignStatusCompleted, ""); err != nil {
			l.log.Warn("scheduler: failed to complete campaign at window close", zap.String("campaignId", c.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// ProcessUserCalls is the inner hot loop described in §4.7: under the
// processing latch, it repeatedly claims a pending Contact from each of
// the user's active campaigns in round-robin order and hands the claim to
// CallInitiator, until the available budget is exhausted or a full pass
// yields no claim.
func (l *Loop) ProcessUserCalls(ctx context.Context, userID uuid.UUID) error {
	acquired, err := l.budget.TryAcquireProcessingLatch(ctx, userID)
	if err != nil {
		return fmt.Errorf("acquire processing latch: %w", err)
	}
	if !acquired {
		// Another invocation for this user is already running.
		return nil
	}
	defer func() {
		if err := l.budget.ReleaseProcessingLatch(ctx, userID); err != nil {
			l.log.Warn("scheduler: release processing latch failed", zap.String("userId", userID.String()), zap.Error(err))
		}
	}()

	for {
		available, err := l.budget.Available(ctx, userID)
		if err != nil {
			return fmt.Errorf("compute available budget: %w", err)
		}
		if available <= 0 {
			return nil
		}

		campaigns, err := l.campaigns.ListByUserAndStatus(ctx, userID, domain.CampaignStatusActive)
		if err != nil {
			return fmt.Errorf("list active campaigns: %w", err)
		}
		if len(campaigns) == 0 {
			return nil
		}

		claimedAny := false
		for _, c := range campaigns {
			available, err := l.budget.Available(ctx, userID)
			if err != nil {
				return fmt.Errorf("compute available budget: %w", err)
			}
			if available <= 0 {
				return nil
			}

			contact, err := l.campaigns.ClaimPendingContact(ctx, c.ID)
			if err != nil {
				l.log.Warn("scheduler: claim pending contact failed", zap.String("campaignId", c.ID.String()), zap.Error(err))
				continue
			}
			if contact == nil {
				continue
			}
			claimedAny = true

			if err := l.initiator.Initiate(ctx, c, *contact); err != nil {
				l.log.Warn("scheduler: call initiation failed", zap.String("campaignId", c.ID.String()), zap.String("contactId", contact.ContactID), zap.Error(err))
			}
		}

		if !claimedAny {
			if err := l.completeDrainedCampaigns(ctx, campaigns); err != nil {
				l.log.Warn("scheduler: complete drained campaigns failed", zap.String("userId", userID.String()), zap.Error(err))
			}
			return nil
		}
	}
}

// completeDrainedCampaigns marks any campaign with zero pending and zero
// in-progress contacts as completed, the completion-check routine §4.7
// references at the end of a processing pass.
func (l *Loop) completeDrainedCampaigns(ctx context.Context, campaigns []*domain.Campaign) error {
	for _, c := range campaigns {
		summary, err := l.campaigns.ContactsSummary(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("contacts summary for campaign %s: %w", c.ID, err)
		}
		if summary.Pending == 0 && summary.InProgress == 0 {
			if err := l.campaigns.UpdateStatus(ctx, c.ID, domain.CampaignStatusCompleted, ""); err != nil {
				return fmt.Errorf("complete drained campaign %s: %w", c.ID, err)
			}
		}
	}
	return nil
}

func hasPending(c *domain.Campaign) bool {
	for _, contact := range c.Contacts {
		if contact.CallStatus == domain.CallStatusPending {
			return true
		}
	}
	return false
}
