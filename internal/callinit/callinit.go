// Package callinit implements CallInitiator (§4.4): given a claimed
// Contact, it produces a real call or fails the Contact outright. The five
// ordered steps below mirror the contract exactly, including the rule that
// a budget slot is never charged for a Contact that fails validation.
package callinit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-orchestrator/internal/budget"
	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
	"github.com/acme/campaign-orchestrator/internal/telephony"
	"github.com/acme/campaign-orchestrator/internal/voiceengine"
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

// Config carries the engine call defaults from §6 Configuration.
type Config struct {
	MaxDuration      time.Duration
	RecordingEnabled bool
	// DefaultProvider is CallBridgeConfig.DefaultProvider: the provider tag
	// substituted when a campaign's OutboundMedium.Provider is unset, so an
	// operator can onboard campaigns against a single default provider
	// without stamping it onto every OutboundMedium record.
	DefaultProvider string
}

// Initiator wires VoiceEngineClient and TelephonyClient together under the
// UserBudget and ActiveCallRecord bookkeeping §4.4 requires.
type Initiator struct {
	campaigns repository.CampaignStore
	settings  repository.UserSettingsStore
	history   repository.CallHistoryStore
	budget    *budget.Store
	engine    voiceengine.Client
	providers telephony.Registry
	cfg       Config
	log       *logger.Logger
}

// New constructs an Initiator.
func New(
	campaigns repository.CampaignStore,
	settings repository.UserSettingsStore,
	history repository.CallHistoryStore,
	budgetStore *budget.Store,
	engine voiceengine.Client,
	providers telephony.Registry,
	cfg Config,
	log *logger.Logger,
) *Initiator {
	return &Initiator{
		campaigns: campaigns,
		settings:  settings,
		history:   history,
		budget:    budgetStore,
		engine:    engine,
		providers: providers,
		cfg:       cfg,
		log:       log,
	}
}

// Initiate runs the ordered five-step contract against a just-claimed
// Contact. It always terminates the Contact one way or another: a returned
// error here means the Contact could not even be marked failed and the
// caller should treat the claim as lost.
func (init *Initiator) Initiate(ctx context.Context, campaign *domain.Campaign, contact domain.Contact) error {
	if campaign.OutboundMedium != nil && campaign.OutboundMedium.Provider == "" && init.cfg.DefaultProvider != "" {
		campaign.OutboundMedium.Provider = init.cfg.DefaultProvider
	}

	// Step 1: validate medium, credentials, agent.
	if err := init.validate(ctx, campaign); err != nil {
		return init.fail(ctx, campaign, contact, fmt.Sprintf("validation failed: %s", err))
	}

	userSettings, err := init.settings.Get(ctx, campaign.UserID)
	if err != nil {
		return init.fail(ctx, campaign, contact, fmt.Sprintf("validation failed: load user settings: %s", err))
	}
	cred, ok := userSettings.Telephony[campaign.OutboundMedium.Provider]
	if !ok {
		return init.fail(ctx, campaign, contact, fmt.Sprintf("validation failed: no %s credentials for user", campaign.OutboundMedium.Provider))
	}
	provider, ok := init.providers.Resolve(campaign.OutboundMedium.Provider)
	if !ok {
		return init.fail(ctx, campaign, contact, fmt.Sprintf("validation failed: no telephony client registered for provider %s", campaign.OutboundMedium.Provider))
	}

	// Step 2: acquire a budget slot, insert the synthetic ActiveCallRecord.
	max, err := init.budget.MaxConcurrentCalls(ctx, campaign.UserID)
	if err != nil {
		return init.fail(ctx, campaign, contact, fmt.Sprintf("budget lookup failed: %s", err))
	}
	acquired, err := init.budget.Acquire(ctx, campaign.UserID, max)
	if err != nil {
		return init.fail(ctx, campaign, contact, fmt.Sprintf("budget acquire failed: %s", err))
	}
	if !acquired {
		return init.fail(ctx, campaign, contact, "no budget slot available")
	}

	pendingKey := budget.PendingCallKey(campaign.ID, contact.ContactID)
	startedAt := time.Now().UTC()
	if err := init.budget.PutActiveCallRecord(ctx, budget.ActiveCallRecord{
		Key:        pendingKey,
		UserID:     campaign.UserID,
		CampaignID: campaign.ID,
		ContactID:  contact.ContactID,
		StartedAt:  startedAt,
	}); err != nil {
		_ = init.budget.Release(ctx, campaign.UserID)
		return init.fail(ctx, campaign, contact, fmt.Sprintf("record active call: %s", err))
	}

	// Step 3: ask the voice engine to allocate a join session.
	maxDuration := init.cfg.MaxDuration
	if maxDuration <= 0 {
		maxDuration = 600 * time.Second
	}
	createResp, err := init.engine.CreateCall(ctx, voiceengine.CreateCallRequest{
		AgentID: campaign.AgentRef,
		Medium: voiceengine.CallMedium{
			Provider: campaign.OutboundMedium.Provider,
			Incoming: true,
		},
		MaxDuration:      int(maxDuration.Seconds()),
		RecordingEnabled: init.cfg.RecordingEnabled,
		CorrelationTags: map[string]string{
			"campaignId": campaign.ID.String(),
			"contactId":  contact.ContactID,
		},
	})
	if err != nil {
		return init.abort(ctx, campaign, contact, pendingKey, fmt.Sprintf("create call: %s", err))
	}

	// Step 4: replace the synthetic record, persist CallHistory, update the
	// Contact, then bridge the real call in.
	if err := init.budget.RenameActiveCallRecord(ctx, campaign.UserID, pendingKey, createResp.EngineCallID); err != nil {
		return init.abort(ctx, campaign, contact, pendingKey, fmt.Sprintf("rename active call record: %s", err))
	}

	callHistoryID := uuid.New()
	history := &domain.CallHistory{
		CallID:        createResp.EngineCallID,
		UserID:        campaign.UserID,
		AgentID:       campaign.AgentRef,
		CustomerName:  contact.Name,
		CustomerPhone: contact.PhoneNumber,
		Status:        domain.CallStatusInProgress,
		StartedAt:     startedAt,
		Metadata: map[string]string{
			"campaignId": campaign.ID.String(),
			"contactId":  contact.ContactID,
		},
	}
	if err := init.history.Create(ctx, history); err != nil {
		return init.abort(ctx, campaign, contact, createResp.EngineCallID, fmt.Sprintf("persist call history: %s", err))
	}
	if err := init.history.AppendAttempt(ctx, createResp.EngineCallID, domain.CallAttempt{
		AttemptNumber: 1,
		Status:        domain.CallStatusInProgress,
		Reason:        "call created",
		OccurredAt:    startedAt,
	}); err != nil {
		init.log.Warn("append call attempt failed", zap.Error(err), zap.String("engineCallId", createResp.EngineCallID))
	}

	contact.EngineCallID = createResp.EngineCallID
	contact.CallHistoryID = callHistoryID
	if err := init.campaigns.UpdateContact(ctx, campaign.ID, contact); err != nil {
		return init.abort(ctx, campaign, contact, createResp.EngineCallID, fmt.Sprintf("update contact: %s", err))
	}

	bridgeErr := provider.Bridge(ctx, telephony.BridgeRequest{
		FromPhone: campaign.OutboundMedium.FromPhone,
		ToPhone:   contact.PhoneNumber,
		JoinURL:   createResp.JoinURL,
		Credentials: cred.Values,
		CorrelationTags: map[string]string{
			"campaignId":    campaign.ID.String(),
			"contactId":     contact.ContactID,
			"callHistoryId": callHistoryID.String(),
		},
	})
	if bridgeErr != nil {
		return init.abort(ctx, campaign, contact, createResp.EngineCallID, fmt.Sprintf("telephony bridge: %s", bridgeErr))
	}

	init.log.Info("call initiated", initiationFields(campaign, contact, createResp.EngineCallID)...)
	return nil
}

// validate checks the ordering §4.4 step 1 requires: a non-empty
// outboundMedium provider and fromPhone before anything else is touched.
func (init *Initiator) validate(ctx context.Context, campaign *domain.Campaign) error {
	if campaign.Type != domain.CampaignTypeOutbound {
		return fmt.Errorf("campaign %s is not an outbound campaign", campaign.ID)
	}
	if campaign.OutboundMedium == nil || campaign.OutboundMedium.Provider == "" || campaign.OutboundMedium.FromPhone == "" {
		return fmt.Errorf("campaign %s has no outbound medium configured", campaign.ID)
	}
	if campaign.AgentRef == "" {
		return fmt.Errorf("campaign %s has no agent configured", campaign.ID)
	}
	return nil
}

// abort implements step 5: release the slot, drop the record under
// whichever key it currently lives, and fail the Contact.
func (init *Initiator) abort(ctx context.Context, campaign *domain.Campaign, contact domain.Contact, recordKey, reason string) error {
	if err := init.budget.DropActiveCallRecord(ctx, campaign.UserID, recordKey); err != nil {
		init.log.Warn("drop active call record during abort failed", zap.Error(err), zap.String("key", recordKey))
	}
	if err := init.budget.Release(ctx, campaign.UserID); err != nil {
		init.log.Warn("release budget slot during abort failed", zap.Error(err))
	}
	return init.fail(ctx, campaign, contact, reason)
}

// fail sets the Contact to failed with a notes string; never charges a
// budget slot for a Contact that never reached step 2.
func (init *Initiator) fail(ctx context.Context, campaign *domain.Campaign, contact domain.Contact, reason string) error {
	contact.CallStatus = domain.CallStatusFailed
	contact.CallNotes = reason
	now := time.Now().UTC()
	contact.CalledAt = &now
	if err := init.campaigns.UpdateContact(ctx, campaign.ID, contact); err != nil {
		return fmt.Errorf("callinit: mark contact failed: %w", err)
	}
	return nil
}

func initiationFields(campaign *domain.Campaign, contact domain.Contact, engineCallID string) []zap.Field {
	return []zap.Field{
		zap.String("campaignId", campaign.ID.String()),
		zap.String("contactId", contact.ContactID),
		zap.String("engineCallId", engineCallID),
	}
}
