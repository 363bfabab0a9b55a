package budget

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// PutActiveCallRecord registers a call under its key for budget/reaper
// bookkeeping (§4.4 step 2). Writes the record hash, the global staleness
// index, and the per-user membership set in one pipeline.
func (s *Store) PutActiveCallRecord(ctx context.Context, rec ActiveCallRecord) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recordHashKey(rec.Key), map[string]any{
		"user_id":     rec.UserID.String(),
		"campaign_id": rec.CampaignID.String(),
		"contact_id":  rec.ContactID,
		"started_at":  rec.StartedAt.Unix(),
	})
	pipe.ZAdd(ctx, activeIndexKey, redis.Z{Score: float64(rec.StartedAt.Unix()), Member: rec.Key})
	pipe.SAdd(ctx, byUserKey(rec.UserID), rec.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("budget: put active call record: %w", err)
	}
	return nil
}

// RenameActiveCallRecord replaces a synthetic key with the engine's real
// call id once createCall succeeds (§4.4 step 4), preserving startedAt.
func (s *Store) RenameActiveCallRecord(ctx context.Context, userID uuid.UUID, oldKey, newKey string) error {
	rec, err := s.getRecord(ctx, oldKey)
	if err != nil {
		return err
	}
	if rec == nil {
		// Already renamed or reaped; nothing to do.
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordHashKey(oldKey))
	pipe.ZRem(ctx, activeIndexKey, oldKey)
	pipe.SRem(ctx, byUserKey(userID), oldKey)
	pipe.HSet(ctx, recordHashKey(newKey), map[string]any{
		"user_id":     rec.UserID.String(),
		"campaign_id": rec.CampaignID.String(),
		"contact_id":  rec.ContactID,
		"started_at":  rec.StartedAt.Unix(),
	})
	pipe.ZAdd(ctx, activeIndexKey, redis.Z{Score: float64(rec.StartedAt.Unix()), Member: newKey})
	pipe.SAdd(ctx, byUserKey(userID), newKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("budget: rename active call record: %w", err)
	}
	return nil
}

// DropActiveCallRecord removes a record by key; a no-op if absent, so the
// webhook reducer and the reaper can race to drop the same key safely.
func (s *Store) DropActiveCallRecord(ctx context.Context, userID uuid.UUID, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordHashKey(key))
	pipe.ZRem(ctx, activeIndexKey, key)
	pipe.SRem(ctx, byUserKey(userID), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("budget: drop active call record: %w", err)
	}
	return nil
}

// ActiveCallRecords lists a single user's open records.
func (s *Store) ActiveCallRecords(ctx context.Context, userID uuid.UUID) ([]ActiveCallRecord, error) {
	keys, err := s.client.SMembers(ctx, byUserKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("budget: list active call records: %w", err)
	}
	records := make([]ActiveCallRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := s.getRecord(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// StaleActiveCallRecords returns every ActiveCallRecord across all users
// whose age is at least threshold, for the reaper's full sweep (§4.6). The
// global sorted set lets this run as one range query instead of a per-user scan.
func (s *Store) StaleActiveCallRecords(ctx context.Context, now time.Time, threshold time.Duration) ([]ActiveCallRecord, error) {
	cutoff := now.Add(-threshold).Unix()
	keys, err := s.client.ZRangeByScore(ctx, activeIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("budget: stale active call records: %w", err)
	}

	records := make([]ActiveCallRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := s.getRecord(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (s *Store) getRecord(ctx context.Context, key string) (*ActiveCallRecord, error) {
	values, err := s.client.HGetAll(ctx, recordHashKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("budget: get active call record %s: %w", key, err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	userID, err := uuid.Parse(values["user_id"])
	if err != nil {
		return nil, fmt.Errorf("budget: parse user id for record %s: %w", key, err)
	}
	campaignID, err := uuid.Parse(values["campaign_id"])
	if err != nil {
		return nil, fmt.Errorf("budget: parse campaign id for record %s: %w", key, err)
	}
	startedUnix, err := strconv.ParseInt(values["started_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("budget: parse started_at for record %s: %w", key, err)
	}

	return &ActiveCallRecord{
		Key:        key,
		UserID:     userID,
		CampaignID: campaignID,
		ContactID:  values["contact_id"],
		StartedAt:  time.Unix(startedUnix, 0).UTC(),
	}, nil
}

// PendingCallKey formats the synthetic ActiveCallRecord key used before the
// voice engine returns a real call id (§4.4 step 2).
func PendingCallKey(campaignID uuid.UUID, contactID string) string {
	return fmt.Sprintf("pending_%s_%s", campaignID, contactID)
}

const activeIndexKey = "orchestrator:activecalls:index"

func recordHashKey(key string) string {
	return fmt.Sprintf("orchestrator:activecalls:record:%s", key)
}

func byUserKey(userID uuid.UUID) string {
	return fmt.Sprintf("orchestrator:activecalls:byuser:%s", userID.String())
}
