package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
)

// UserSettingsStore implements repository.UserSettingsStore on PostgreSQL.
// This system never writes to it; account and credential management are
// out of scope (§1).
type UserSettingsStore struct {
	db *sqlx.DB
}

// NewUserSettingsStore constructs the store.
func NewUserSettingsStore(db *sqlx.DB) *UserSettingsStore {
	return &UserSettingsStore{db: db}
}

// Get loads a user's concurrency cap and telephony credentials.
func (s *UserSettingsStore) Get(ctx context.Context, userID uuid.UUID) (*domain.UserSettings, error) {
	var rec userSettingsRecord
	q := `SELECT user_id, max_concurrent_calls, telephony FROM user_settings WHERE user_id = $1`
	if err := s.db.GetContext(ctx, &rec, q, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("user settings store: get: %w", err)
	}

	settings := &domain.UserSettings{
		UserID:             rec.UserID,
		MaxConcurrentCalls: rec.MaxConcurrentCalls,
		Telephony:          map[string]domain.TelephonyCredential{},
	}
	if len(rec.Telephony) > 0 {
		var raw map[string]domain.TelephonyCredential
		if err := json.Unmarshal(rec.Telephony, &raw); err != nil {
			return nil, fmt.Errorf("user settings store: unmarshal telephony: %w", err)
		}
		settings.Telephony = raw
	}
	return settings, nil
}

type userSettingsRecord struct {
	UserID             uuid.UUID `db:"user_id"`
	MaxConcurrentCalls int       `db:"max_concurrent_calls"`
	Telephony          []byte    `db:"telephony"`
}
