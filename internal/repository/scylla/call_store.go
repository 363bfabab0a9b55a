package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
)

// CallHistoryStore implements repository.CallHistoryStore in Scylla. Rows
// are bucketed by day of StartedAt so a single user's call volume never
// concentrates into one wide partition, following the calls_by_campaign /
// calls_by_status bucketing this keyspace already uses elsewhere.
type CallHistoryStore struct {
	session *gocql.Session
}

// NewCallHistoryStore creates a new call history store.
func NewCallHistoryStore(session *gocql.Session) *CallHistoryStore {
	return &CallHistoryStore{session: session}
}

// Create inserts a new CallHistory row, keyed by the voice engine's call id,
// plus its lookup index by day bucket.
func (s *CallHistoryStore) Create(ctx context.Context, record *domain.CallHistory) error {
	bucket := bucketDate(record.StartedAt)
	metadata := record.Metadata

	if err := s.session.Query(`INSERT INTO call_history (call_id, user_id, agent_id, customer_name, customer_phone,
		status, started_at, joined_at, ended_at, duration_seconds, end_reason, billed_duration,
		summary, short_summary, recording_url, metadata, bucket)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CallID, record.UserID, record.AgentID, record.CustomerName, record.CustomerPhone,
		string(record.Status), record.StartedAt, record.JoinedAt, record.EndedAt, record.DurationSeconds,
		record.EndReason, record.BilledDuration, record.Summary, record.ShortSummary, record.RecordingURL,
		metadata, bucket,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history store: insert call_history: %w", err)
	}

	if err := s.session.Query(`INSERT INTO call_history_by_user (user_id, bucket, call_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.UserID, bucket, record.CallID, string(record.Status), record.StartedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history store: insert call_history_by_user: %w", err)
	}

	return nil
}

// Get fetches a CallHistory row by the engine's call id.
func (s *CallHistoryStore) Get(ctx context.Context, callID string) (*domain.CallHistory, error) {
	var (
		userID                                    uuid.UUID
		agentID, customerName, customerPhone      string
		status, endReason, summary, shortSummary  string
		recordingURL                              string
		startedAt                                 time.Time
		joinedAt, endedAt                          *time.Time
		durationSeconds, billedDuration           int
		metadata                                  map[string]string
	)

	iter := s.session.Query(`SELECT user_id, agent_id, customer_name, customer_phone, status, started_at,
		joined_at, ended_at, duration_seconds, end_reason, billed_duration, summary, short_summary,
		recording_url, metadata FROM call_history WHERE call_id = ?`, callID).WithContext(ctx).Iter()

	ok := iter.Scan(&userID, &agentID, &customerName, &customerPhone, &status, &startedAt,
		&joinedAt, &endedAt, &durationSeconds, &endReason, &billedDuration, &summary, &shortSummary,
		&recordingURL, &metadata)
	if !ok {
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("call history store: get close: %w", err)
		}
		return nil, repository.ErrNotFound
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("call history store: get close: %w", err)
	}

	attempts, err := s.attempts(ctx, callID)
	if err != nil {
		return nil, err
	}

	return &domain.CallHistory{
		CallID:          callID,
		UserID:          userID,
		AgentID:         agentID,
		CustomerName:    customerName,
		CustomerPhone:   customerPhone,
		Status:          domain.CallStatus(status),
		StartedAt:       startedAt,
		JoinedAt:        joinedAt,
		EndedAt:         endedAt,
		DurationSeconds: durationSeconds,
		EndReason:       endReason,
		BilledDuration:  billedDuration,
		Summary:         summary,
		ShortSummary:    shortSummary,
		RecordingURL:    recordingURL,
		Metadata:        metadata,
		Attempts:        attempts,
	}, nil
}

// Update applies the WebhookReducer's terminal-event fields to an existing
// row and keeps the by-user status index in sync. Idempotent: re-applying
// the same terminal status is a harmless overwrite (§4.5).
func (s *CallHistoryStore) Update(ctx context.Context, record *domain.CallHistory) error {
	existing, err := s.Get(ctx, record.CallID)
	if err != nil {
		return err
	}
	bucket := bucketDate(existing.StartedAt)

	if err := s.session.Query(`UPDATE call_history SET status = ?, joined_at = ?, ended_at = ?,
		duration_seconds = ?, end_reason = ?, billed_duration = ?, summary = ?, short_summary = ?,
		recording_url = ? WHERE call_id = ?`,
		string(record.Status), record.JoinedAt, record.EndedAt, record.DurationSeconds,
		record.EndReason, record.BilledDuration, record.Summary, record.ShortSummary,
		record.RecordingURL, record.CallID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history store: update call_history: %w", err)
	}

	if existing.Status != record.Status {
		if err := s.session.Query(`DELETE FROM call_history_by_user WHERE user_id = ? AND bucket = ? AND call_id = ?`,
			existing.UserID, bucket, record.CallID,
		).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("call history store: delete stale status index: %w", err)
		}
		if err := s.session.Query(`INSERT INTO call_history_by_user (user_id, bucket, call_id, status, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			existing.UserID, bucket, record.CallID, string(record.Status), existing.StartedAt,
		).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("call history store: insert refreshed status index: %w", err)
		}
	}

	return nil
}

// AppendAttempt inserts one CallAttempt row into the call's attempt log.
func (s *CallHistoryStore) AppendAttempt(ctx context.Context, callID string, attempt domain.CallAttempt) error {
	if err := s.session.Query(`INSERT INTO call_attempts (call_id, attempt_number, status, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		callID, attempt.AttemptNumber, string(attempt.Status), attempt.Reason, attempt.OccurredAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history store: insert call_attempts: %w", err)
	}
	return nil
}

func (s *CallHistoryStore) attempts(ctx context.Context, callID string) ([]domain.CallAttempt, error) {
	iter := s.session.Query(`SELECT attempt_number, status, reason, occurred_at FROM call_attempts
		WHERE call_id = ? ORDER BY attempt_number ASC`, callID).WithContext(ctx).Iter()

	var attempts []domain.CallAttempt
	var (
		attemptNumber int
		status        string
		reason        string
		occurredAt    time.Time
	)
	for iter.Scan(&attemptNumber, &status, &reason, &occurredAt) {
		attempts = append(attempts, domain.CallAttempt{
			AttemptNumber: attemptNumber,
			Status:        domain.CallStatus(status),
			Reason:        reason,
			OccurredAt:    occurredAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("call history store: list call_attempts: %w", err)
	}
	return attempts, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
