package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignType distinguishes the dialing discipline a campaign follows.
// Only CampaignTypeOutbound participates in the scheduling loop; inbound and
// ondemand campaigns are addressed solely through the administrative
// surface.
type CampaignType string

const (
	CampaignTypeOutbound CampaignType = "outbound"
	CampaignTypeInbound  CampaignType = "inbound"
	CampaignTypeOnDemand CampaignType = "ondemand"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft            CampaignStatus = "draft"
	CampaignStatusScheduled        CampaignStatus = "scheduled"
	CampaignStatusActive           CampaignStatus = "active"
	CampaignStatusPaused           CampaignStatus = "paused"
	CampaignStatusPausedTimeWindow CampaignStatus = "paused-time-window"
	CampaignStatusCompleted        CampaignStatus = "completed"
)

// CallStatus enumerates lifecycle stages for an individual contact's call.
type CallStatus string

const (
	CallStatusPending    CallStatus = "pending"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no-answer"
)

// Campaign models an outbound call campaign definition together with its
// contact list and accumulated totals. Durable state lives entirely in the
// CampaignStore; this struct is the in-process view of one row.
type Campaign struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Type            CampaignType
	AgentRef        string
	Status          CampaignStatus
	Schedule        *Schedule
	OutboundMedium  *OutboundMedium
	Contacts        []Contact
	CompletedCalls  int
	SuccessfulCalls int
	FailedCalls     int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastProcessedAt *time.Time
	PausedReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OutboundMedium captures the provider/caller-ID pair a campaign dials from.
type OutboundMedium struct {
	Provider  string
	FromPhone string
}

// Schedule describes a campaign's daily active window in a named timezone.
// EndTime is required for outbound campaigns.
type Schedule struct {
	ScheduledDate time.Time // calendar date, time-of-day ignored
	ScheduledTime string    // "HH:MM"
	EndTime       string    // "HH:MM"
	TimeZone      string    // IANA name
}

// Contact is one outbound dialing target inside a Campaign. CallStatus
// transitions only along pending -> in-progress -> {completed, failed,
// no-answer}; no transition returns to pending. resetUserCallState moves
// in-progress Contacts to failed.
type Contact struct {
	ContactID     string
	Name          string
	PhoneNumber   string
	CallStatus    CallStatus
	EngineCallID  string
	CallHistoryID uuid.UUID
	CalledAt      *time.Time
	CallDuration  int // seconds
	CallNotes     string
}

// UserSettings captures the per-user concurrency cap and telephony
// credentials keyed by provider tag.
type UserSettings struct {
	UserID             uuid.UUID
	MaxConcurrentCalls int
	Telephony          map[string]TelephonyCredential
}

// TelephonyCredential is an opaque provider credential blob. The scheduler
// core never inspects its contents beyond presence.
type TelephonyCredential struct {
	Provider string
	Values   map[string]string
}

// CallHistory is one row per initiated call, keyed by the voice engine's
// call id. Created when CallInitiator receives a successful call-creation
// response; updated by the WebhookReducer.
type CallHistory struct {
	CallID          string
	UserID          uuid.UUID
	AgentID         string
	CustomerName    string
	CustomerPhone   string
	Status          CallStatus
	StartedAt       time.Time
	JoinedAt        *time.Time
	EndedAt         *time.Time
	DurationSeconds int
	EndReason       string
	BilledDuration  int
	Summary         string
	ShortSummary    string
	RecordingURL    string
	Metadata        map[string]string // always carries campaignId, contactId
	Attempts        []CallAttempt
}

// CallAttempt records one step in a call's lifecycle, from the initial
// engine create through its terminal webhook. Supplements CallHistory with
// an audit trail; CallHistory's own fields remain the source of truth for
// current state.
type CallAttempt struct {
	AttemptNumber int
	Status        CallStatus
	Reason        string
	OccurredAt    time.Time
}

// CampaignContactsSummary groups one campaign's contacts by outcome. Backs
// getPendingContactsSummary.
type CampaignContactsSummary struct {
	CampaignID uuid.UUID
	Status     CampaignStatus
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	NoAnswer   int
}

// ResumableCampaign annotates a paused-time-window campaign with whether its
// daily window is open right now. Backs getResumableCampaigns.
type ResumableCampaign struct {
	Campaign        *Campaign
	WindowOpenNow   bool
	PendingContacts int
}

// IsTerminal reports whether status is one a Contact never leaves;
// resetUserCallState only touches in-progress Contacts.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer:
		return true
	default:
		return false
	}
}
