package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
)

// CampaignStore implements repository.CampaignStore on PostgreSQL. Contacts
// live in a child table, one row per contact; ClaimPendingContact uses
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent schedulers never claim the
// same contact twice.
type CampaignStore struct {
	db *sqlx.DB
}

// NewCampaignStore constructs the store.
func NewCampaignStore(db *sqlx.DB) *CampaignStore {
	return &CampaignStore{db: db}
}

// Create inserts a campaign and its contact list in one transaction.
func (s *CampaignStore) Create(ctx context.Context, campaign *domain.Campaign) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var scheduledDate, scheduledTime, endTime, timeZone sql.NullString
		if campaign.Schedule != nil {
			scheduledDate = sql.NullString{String: campaign.Schedule.ScheduledDate.Format("2006-01-02"), Valid: true}
			scheduledTime = sql.NullString{String: campaign.Schedule.ScheduledTime, Valid: true}
			endTime = sql.NullString{String: campaign.Schedule.EndTime, Valid: true}
			timeZone = sql.NullString{String: campaign.Schedule.TimeZone, Valid: true}
		}
		var provider, fromPhone sql.NullString
		if campaign.OutboundMedium != nil {
			provider = sql.NullString{String: campaign.OutboundMedium.Provider, Valid: true}
			fromPhone = sql.NullString{String: campaign.OutboundMedium.FromPhone, Valid: true}
		}

		q := `INSERT INTO campaigns (
			id, user_id, type, agent_ref, status, scheduled_date, scheduled_time, end_time, time_zone,
			medium_provider, medium_from_phone, paused_reason, created_at, updated_at
		) VALUES (
			:id, :user_id, :type, :agent_ref, :status, :scheduled_date, :scheduled_time, :end_time, :time_zone,
			:medium_provider, :medium_from_phone, :paused_reason, :created_at, :updated_at
		)`
		params := map[string]any{
			"id":                campaign.ID,
			"user_id":           campaign.UserID,
			"type":              campaign.Type,
			"agent_ref":         campaign.AgentRef,
			"status":            campaign.Status,
			"scheduled_date":    scheduledDate,
			"scheduled_time":    scheduledTime,
			"end_time":          endTime,
			"time_zone":         timeZone,
			"medium_provider":   provider,
			"medium_from_phone": fromPhone,
			"paused_reason":     campaign.PausedReason,
			"created_at":        campaign.CreatedAt,
			"updated_at":        campaign.UpdatedAt,
		}
		if _, err := tx.NamedExecContext(ctx, q, params); err != nil {
			return fmt.Errorf("campaign store: insert campaign: %w", err)
		}

		for _, c := range campaign.Contacts {
			cq := `INSERT INTO campaign_contacts (
				campaign_id, contact_id, name, phone_number, call_status, created_at
			) VALUES (:campaign_id, :contact_id, :name, :phone_number, :call_status, :created_at)`
			if _, err := tx.NamedExecContext(ctx, cq, map[string]any{
				"campaign_id":  campaign.ID,
				"contact_id":   c.ContactID,
				"name":         c.Name,
				"phone_number": c.PhoneNumber,
				"call_status":  c.CallStatus,
				"created_at":   campaign.CreatedAt,
			}); err != nil {
				return fmt.Errorf("campaign store: insert contact %s: %w", c.ContactID, err)
			}
		}
		return nil
	})
}

// Get fetches a campaign with its full contact list.
func (s *CampaignStore) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	var rec campaignRecord
	if err := s.db.GetContext(ctx, &rec, campaignSelect+` WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign store: get: %w", err)
	}
	campaign := rec.toDomain()

	contacts, err := s.contactsByCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	campaign.Contacts = contacts
	return &campaign, nil
}

// Update replaces campaign metadata, including agent and outbound medium
// (not contacts; use UpdateContact for those).
func (s *CampaignStore) Update(ctx context.Context, campaign *domain.Campaign) error {
	var scheduledDate, scheduledTime, endTime, timeZone sql.NullString
	if campaign.Schedule != nil {
		scheduledDate = sql.NullString{String: campaign.Schedule.ScheduledDate.Format("2006-01-02"), Valid: true}
		scheduledTime = sql.NullString{String: campaign.Schedule.ScheduledTime, Valid: true}
		endTime = sql.NullString{String: campaign.Schedule.EndTime, Valid: true}
		timeZone = sql.NullString{String: campaign.Schedule.TimeZone, Valid: true}
	}
	var provider, fromPhone sql.NullString
	if campaign.OutboundMedium != nil {
		provider = sql.NullString{String: campaign.OutboundMedium.Provider, Valid: true}
		fromPhone = sql.NullString{String: campaign.OutboundMedium.FromPhone, Valid: true}
	}

	q := `UPDATE campaigns SET
		agent_ref = :agent_ref, medium_provider = :medium_provider, medium_from_phone = :medium_from_phone,
		status = :status, scheduled_date = :scheduled_date, scheduled_time = :scheduled_time,
		end_time = :end_time, time_zone = :time_zone, paused_reason = :paused_reason,
		started_at = :started_at, completed_at = :completed_at, last_processed_at = :last_processed_at,
		completed_calls = :completed_calls, successful_calls = :successful_calls, failed_calls = :failed_calls,
		updated_at = :updated_at
	 WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                campaign.ID,
		"agent_ref":         campaign.AgentRef,
		"medium_provider":   provider,
		"medium_from_phone": fromPhone,
		"status":            campaign.Status,
		"scheduled_date":    scheduledDate,
		"scheduled_time":    scheduledTime,
		"end_time":          endTime,
		"time_zone":         timeZone,
		"paused_reason":     campaign.PausedReason,
		"started_at":        campaign.StartedAt,
		"completed_at":      campaign.CompletedAt,
		"last_processed_at": campaign.LastProcessedAt,
		"completed_calls":   campaign.CompletedCalls,
		"successful_calls":  campaign.SuccessfulCalls,
		"failed_calls":      campaign.FailedCalls,
		"updated_at":        campaign.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("campaign store: update: %w", err)
	}
	return requireRowsAffected(res, "campaign store: update")
}

// UpdateStatus transitions a campaign's status and, where applicable, its
// pausedReason in a single statement.
func (s *CampaignStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus, pausedReason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, paused_reason = $2, updated_at = now() WHERE id = $3`,
		status, pausedReason, id)
	if err != nil {
		return fmt.Errorf("campaign store: update status: %w", err)
	}
	return requireRowsAffected(res, "campaign store: update status")
}

// ListByUserAndStatus returns a user's outbound campaigns in the given status.
func (s *CampaignStore) ListByUserAndStatus(ctx context.Context, userID uuid.UUID, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	var recs []campaignRecord
	q := campaignSelect + ` WHERE user_id = $1 AND status = $2 AND type = $3 ORDER BY created_at ASC`
	if err := s.db.SelectContext(ctx, &recs, q, userID, status, domain.CampaignTypeOutbound); err != nil {
		return nil, fmt.Errorf("campaign store: list by user and status: %w", err)
	}
	return s.hydrateAll(ctx, recs)
}

// ListByStatus returns up to limit outbound campaigns in the given status,
// oldest-processed first, used by the scheduler tick's full sweeps.
func (s *CampaignStore) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 200
	}
	var recs []campaignRecord
	q := campaignSelect + ` WHERE status = $1 AND type = $2 ORDER BY last_processed_at ASC NULLS FIRST LIMIT $3`
	if err := s.db.SelectContext(ctx, &recs, q, status, domain.CampaignTypeOutbound, limit); err != nil {
		return nil, fmt.Errorf("campaign store: list by status: %w", err)
	}
	return s.hydrateAll(ctx, recs)
}

// ActiveUserIDs returns the distinct set of users with at least one active
// outbound campaign.
func (s *CampaignStore) ActiveUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := `SELECT DISTINCT user_id FROM campaigns WHERE status = $1 AND type = $2`
	if err := s.db.SelectContext(ctx, &ids, q, domain.CampaignStatusActive, domain.CampaignTypeOutbound); err != nil {
		return nil, fmt.Errorf("campaign store: active user ids: %w", err)
	}
	return ids, nil
}

// ClaimPendingContact is the atomic claim described in §4.2: a single
// UPDATE ... FROM (SELECT ... FOR UPDATE SKIP LOCKED) statement that both
// selects and flips the first pending contact, or affects zero rows.
func (s *CampaignStore) ClaimPendingContact(ctx context.Context, campaignID uuid.UUID) (*domain.Contact, error) {
	const maxAttempts = 3
	var rec contactRecord

	q := `UPDATE campaign_contacts SET call_status = $1, called_at = now()
		WHERE (campaign_id, contact_id) = (
			SELECT campaign_id, contact_id FROM campaign_contacts
			WHERE campaign_id = $2 AND call_status = $3
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING contact_id, name, phone_number, call_status, engine_call_id, call_history_id,
		          called_at, call_duration, call_notes`

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.db.GetContext(ctx, &rec, q, domain.CallStatusInProgress, campaignID, domain.CallStatusPending)
		if err == nil {
			contact := rec.toDomain()
			return &contact, nil
		}
		if err == sql.ErrNoRows {
			return nil, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("campaign store: claim pending contact: %w", lastErr)
}

// UpdateContact replaces one contact's mutable fields.
func (s *CampaignStore) UpdateContact(ctx context.Context, campaignID uuid.UUID, contact domain.Contact) error {
	var engineCallID, callNotes sql.NullString
	var callHistoryID uuid.NullUUID
	if contact.EngineCallID != "" {
		engineCallID = sql.NullString{String: contact.EngineCallID, Valid: true}
	}
	if contact.CallNotes != "" {
		callNotes = sql.NullString{String: contact.CallNotes, Valid: true}
	}
	if contact.CallHistoryID != uuid.Nil {
		callHistoryID = uuid.NullUUID{UUID: contact.CallHistoryID, Valid: true}
	}

	q := `UPDATE campaign_contacts SET
		call_status = $1, engine_call_id = $2, call_history_id = $3,
		called_at = $4, call_duration = $5, call_notes = $6
	 WHERE campaign_id = $7 AND contact_id = $8`
	res, err := s.db.ExecContext(ctx, q, contact.CallStatus, engineCallID, callHistoryID,
		contact.CalledAt, contact.CallDuration, callNotes, campaignID, contact.ContactID)
	if err != nil {
		return fmt.Errorf("campaign store: update contact: %w", err)
	}
	return requireRowsAffected(res, "campaign store: update contact")
}

// ResetInProgressContacts implements resetUserCallState's contact reset (§4.8).
func (s *CampaignStore) ResetInProgressContacts(ctx context.Context, userID uuid.UUID, notes string) (int, error) {
	q := `UPDATE campaign_contacts cc SET call_status = $1, call_notes = $2
		FROM campaigns c
		WHERE cc.campaign_id = c.id AND c.user_id = $3 AND c.type = $4 AND cc.call_status = $5`
	res, err := s.db.ExecContext(ctx, q, domain.CallStatusFailed, notes, userID, domain.CampaignTypeOutbound, domain.CallStatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("campaign store: reset in-progress contacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("campaign store: rows affected: %w", err)
	}
	return int(n), nil
}

// ContactsSummary groups one campaign's contacts by callStatus.
func (s *CampaignStore) ContactsSummary(ctx context.Context, campaignID uuid.UUID) (domain.CampaignContactsSummary, error) {
	summary := domain.CampaignContactsSummary{CampaignID: campaignID}

	var campaignStatus domain.CampaignStatus
	if err := s.db.GetContext(ctx, &campaignStatus, `SELECT status FROM campaigns WHERE id = $1`, campaignID); err != nil {
		if err == sql.ErrNoRows {
			return summary, repository.ErrNotFound
		}
		return summary, fmt.Errorf("campaign store: contacts summary status: %w", err)
	}
	summary.Status = campaignStatus

	rows, err := s.db.QueryxContext(ctx, `SELECT call_status, count(*) FROM campaign_contacts WHERE campaign_id = $1 GROUP BY call_status`, campaignID)
	if err != nil {
		return summary, fmt.Errorf("campaign store: contacts summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return summary, fmt.Errorf("campaign store: contacts summary scan: %w", err)
		}
		switch domain.CallStatus(status) {
		case domain.CallStatusPending:
			summary.Pending = count
		case domain.CallStatusInProgress:
			summary.InProgress = count
		case domain.CallStatusCompleted:
			summary.Completed = count
		case domain.CallStatusFailed:
			summary.Failed = count
		case domain.CallStatusNoAnswer:
			summary.NoAnswer = count
		}
	}
	return summary, rows.Err()
}

// IncrementTotals bumps a campaign's aggregate counters.
func (s *CampaignStore) IncrementTotals(ctx context.Context, campaignID uuid.UUID, delta repository.CampaignTotalsDelta) error {
	q := `UPDATE campaigns SET
		completed_calls = completed_calls + $1,
		successful_calls = successful_calls + $2,
		failed_calls = failed_calls + $3,
		updated_at = now()
	 WHERE id = $4`
	_, err := s.db.ExecContext(ctx, q, delta.CompletedDelta, delta.SuccessfulDelta, delta.FailedDelta, campaignID)
	if err != nil {
		return fmt.Errorf("campaign store: increment totals: %w", err)
	}
	return nil
}

// FindContactByEngineCallID resolves a terminal webhook's engineCallId to
// the owning campaign and contact.
func (s *CampaignStore) FindContactByEngineCallID(ctx context.Context, engineCallID string) (uuid.UUID, *domain.Contact, error) {
	var rec contactRecord
	var campaignID uuid.UUID
	q := `SELECT campaign_id, contact_id, name, phone_number, call_status, engine_call_id, call_history_id,
	             called_at, call_duration, call_notes
	      FROM campaign_contacts WHERE engine_call_id = $1`
	row := s.db.QueryRowxContext(ctx, q, engineCallID)
	var rawCampaignID uuid.UUID
	if err := row.Scan(&rawCampaignID, &rec.ContactID, &rec.Name, &rec.PhoneNumber, &rec.CallStatus,
		&rec.EngineCallID, &rec.CallHistoryID, &rec.CalledAt, &rec.CallDuration, &rec.CallNotes); err != nil {
		if err == sql.ErrNoRows {
			return uuid.Nil, nil, repository.ErrNotFound
		}
		return uuid.Nil, nil, fmt.Errorf("campaign store: find contact by engine call id: %w", err)
	}
	campaignID = rawCampaignID
	contact := rec.toDomain()
	return campaignID, &contact, nil
}

func (s *CampaignStore) contactsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Contact, error) {
	var recs []contactRecord
	q := `SELECT contact_id, name, phone_number, call_status, engine_call_id, call_history_id,
	             called_at, call_duration, call_notes
	      FROM campaign_contacts WHERE campaign_id = $1 ORDER BY created_at ASC`
	if err := s.db.SelectContext(ctx, &recs, q, campaignID); err != nil {
		return nil, fmt.Errorf("campaign store: list contacts: %w", err)
	}
	contacts := make([]domain.Contact, 0, len(recs))
	for _, r := range recs {
		contacts = append(contacts, r.toDomain())
	}
	return contacts, nil
}

func (s *CampaignStore) hydrateAll(ctx context.Context, recs []campaignRecord) ([]*domain.Campaign, error) {
	results := make([]*domain.Campaign, 0, len(recs))
	for _, rec := range recs {
		campaign := rec.toDomain()
		contacts, err := s.contactsByCampaign(ctx, campaign.ID)
		if err != nil {
			return nil, err
		}
		campaign.Contacts = contacts
		results = append(results, &campaign)
	}
	return results, nil
}

func requireRowsAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const campaignSelect = `SELECT id, user_id, type, agent_ref, status, scheduled_date, scheduled_time, end_time, time_zone,
	medium_provider, medium_from_phone, completed_calls, successful_calls, failed_calls,
	started_at, completed_at, last_processed_at, paused_reason, created_at, updated_at
	FROM campaigns`

type campaignRecord struct {
	ID               uuid.UUID      `db:"id"`
	UserID           uuid.UUID      `db:"user_id"`
	Type             string         `db:"type"`
	AgentRef         string         `db:"agent_ref"`
	Status           string         `db:"status"`
	ScheduledDate    sql.NullString `db:"scheduled_date"`
	ScheduledTime    sql.NullString `db:"scheduled_time"`
	EndTime          sql.NullString `db:"end_time"`
	TimeZone         sql.NullString `db:"time_zone"`
	MediumProvider   sql.NullString `db:"medium_provider"`
	MediumFromPhone  sql.NullString `db:"medium_from_phone"`
	CompletedCalls   int            `db:"completed_calls"`
	SuccessfulCalls  int            `db:"successful_calls"`
	FailedCalls      int            `db:"failed_calls"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	LastProcessedAt  sql.NullTime   `db:"last_processed_at"`
	PausedReason     string         `db:"paused_reason"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	c := domain.Campaign{
		ID:           r.ID,
		UserID:       r.UserID,
		Type:         domain.CampaignType(r.Type),
		AgentRef:     r.AgentRef,
		Status:       domain.CampaignStatus(r.Status),
		PausedReason: r.PausedReason,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ScheduledDate.Valid {
		date, _ := time.Parse("2006-01-02", r.ScheduledDate.String)
		c.Schedule = &domain.Schedule{
			ScheduledDate: date,
			ScheduledTime: r.ScheduledTime.String,
			EndTime:       r.EndTime.String,
			TimeZone:      r.TimeZone.String,
		}
	}
	if r.MediumProvider.Valid {
		c.OutboundMedium = &domain.OutboundMedium{
			Provider:  r.MediumProvider.String,
			FromPhone: r.MediumFromPhone.String,
		}
	}
	c.CompletedCalls = r.CompletedCalls
	c.SuccessfulCalls = r.SuccessfulCalls
	c.FailedCalls = r.FailedCalls
	if r.StartedAt.Valid {
		c.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		c.CompletedAt = &r.CompletedAt.Time
	}
	if r.LastProcessedAt.Valid {
		c.LastProcessedAt = &r.LastProcessedAt.Time
	}
	return c
}

type contactRecord struct {
	ContactID     string         `db:"contact_id"`
	Name          string         `db:"name"`
	PhoneNumber   string         `db:"phone_number"`
	CallStatus    string         `db:"call_status"`
	EngineCallID  sql.NullString `db:"engine_call_id"`
	CallHistoryID uuid.NullUUID  `db:"call_history_id"`
	CalledAt      sql.NullTime   `db:"called_at"`
	CallDuration  int            `db:"call_duration"`
	CallNotes     sql.NullString `db:"call_notes"`
}

func (r contactRecord) toDomain() domain.Contact {
	c := domain.Contact{
		ContactID:    r.ContactID,
		Name:         r.Name,
		PhoneNumber:  r.PhoneNumber,
		CallStatus:   domain.CallStatus(r.CallStatus),
		EngineCallID: r.EngineCallID.String,
		CallDuration: r.CallDuration,
		CallNotes:    r.CallNotes.String,
	}
	if r.CallHistoryID.Valid {
		c.CallHistoryID = r.CallHistoryID.UUID
	}
	if r.CalledAt.Valid {
		c.CalledAt = &r.CalledAt.Time
	}
	return c
}
