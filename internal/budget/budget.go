// Package budget implements UserBudget (§4.3): the per-user concurrent-call
// cap that spans all of a user's outbound campaigns, plus the ActiveCallRecord
// index the reaper and webhook reducer use to track in-flight calls. Both are
// process-wide mutable state backed by Redis so a restart reconciles against
// durable truth rather than an empty in-memory map (§5).
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
)

// ActiveCallRecord is the ephemeral in-flight marker for a single call slot.
// Key is either "pending_<campaignId>_<contactId>" (before the engine call
// id is known, §4.4 step 2) or the engine's real call id (after step 4).
type ActiveCallRecord struct {
	Key        string
	UserID     uuid.UUID
	CampaignID uuid.UUID
	ContactID  string
	StartedAt  time.Time
}

// Store is the Redis-backed UserBudget and ActiveCallRecord index. It
// generalizes the per-campaign concurrency limiter into a per-user one: the
// cap is a user-level resource, not a campaign-level one.
type Store struct {
	client       *redis.Client
	campaigns    repository.CampaignStore
	settings     repository.UserSettingsStore
	defaultMax   int
	latchTTL     time.Duration
	acquireScript *redis.Script
	releaseScript *redis.Script
}

// NewStore constructs a budget store. defaultMax is used when a user has no
// UserSettings row yet; latchTTL bounds how long a crashed processUserCalls
// invocation can wedge the per-user processing latch.
func NewStore(client *redis.Client, campaigns repository.CampaignStore, settings repository.UserSettingsStore, defaultMax int, latchTTL time.Duration) *Store {
	if latchTTL <= 0 {
		latchTTL = 2 * time.Minute
	}
	if defaultMax <= 0 {
		defaultMax = 1
	}
	return &Store{
		client:     client,
		campaigns:  campaigns,
		settings:   settings,
		defaultMax: defaultMax,
		latchTTL:   latchTTL,
		acquireScript: redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  redis.call('INCR', key)
  return 1
end
return 0
`),
		releaseScript: redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  redis.call('SET', key, 0)
  return 0
end
return redis.call('DECR', key)
`),
	}
}

// MaxConcurrentCalls re-reads a user's cap from UserSettingsStore so operator
// changes take effect without restart; falls back to the configured default
// when the user has no settings row.
func (s *Store) MaxConcurrentCalls(ctx context.Context, userID uuid.UUID) (int, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.defaultMax, nil
		}
		return 0, fmt.Errorf("budget: load user settings: %w", err)
	}
	if settings.MaxConcurrentCalls <= 0 {
		return s.defaultMax, nil
	}
	return settings.MaxConcurrentCalls, nil
}

// Active returns the cached active-call count, rebuilding it from durable
// state (summing in-progress Contacts across the user's active outbound
// campaigns) on a cold cache.
func (s *Store) Active(ctx context.Context, userID uuid.UUID) (int, error) {
	val, err := s.client.Get(ctx, activeCountKey(userID)).Int()
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("budget: get active count: %w", err)
	}
	return s.rebuild(ctx, userID)
}

func (s *Store) rebuild(ctx context.Context, userID uuid.UUID) (int, error) {
	campaigns, err := s.campaigns.ListByUserAndStatus(ctx, userID, domain.CampaignStatusActive)
	if err != nil {
		return 0, fmt.Errorf("budget: rebuild: list active campaigns: %w", err)
	}
	count := 0
	for _, c := range campaigns {
		for _, contact := range c.Contacts {
			if contact.CallStatus == domain.CallStatusInProgress {
				count++
			}
		}
	}
	if err := s.client.Set(ctx, activeCountKey(userID), count, 0).Err(); err != nil {
		return 0, fmt.Errorf("budget: rebuild: seed cache: %w", err)
	}
	return count, nil
}

// Available computes max(0, maxConcurrentCalls - activeCalls).
func (s *Store) Available(ctx context.Context, userID uuid.UUID) (int, error) {
	max, err := s.MaxConcurrentCalls(ctx, userID)
	if err != nil {
		return 0, err
	}
	active, err := s.Active(ctx, userID)
	if err != nil {
		return 0, err
	}
	if active >= max {
		return 0, nil
	}
	return max - active, nil
}

// Acquire reserves one slot if active < max, atomically. Ensures the cache
// is warm first so a cold start doesn't under-count and over-acquire.
func (s *Store) Acquire(ctx context.Context, userID uuid.UUID, max int) (bool, error) {
	if _, err := s.Active(ctx, userID); err != nil {
		return false, err
	}
	res, err := s.acquireScript.Run(ctx, s.client, []string{activeCountKey(userID)}, max).Int()
	if err != nil {
		return false, fmt.Errorf("budget: acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees a slot, floored at zero — defensive against a double
// release racing the reaper and the webhook reducer for the same call.
func (s *Store) Release(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.releaseScript.Run(ctx, s.client, []string{activeCountKey(userID)}).Result(); err != nil {
		return fmt.Errorf("budget: release: %w", err)
	}
	return nil
}

// Reset zeroes a user's active-call counter. Backs resetUserCallState (§4.8).
func (s *Store) Reset(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Set(ctx, activeCountKey(userID), 0, 0).Err(); err != nil {
		return fmt.Errorf("budget: reset: %w", err)
	}
	return nil
}

// TryAcquireProcessingLatch implements the single-writer flag (§4.3) that
// prevents two concurrent processUserCalls invocations for the same user.
// Returns false immediately on re-entry without blocking.
func (s *Store) TryAcquireProcessingLatch(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := s.client.SetNX(ctx, latchKey(userID), 1, s.latchTTL).Result()
	if err != nil {
		return false, fmt.Errorf("budget: acquire processing latch: %w", err)
	}
	return ok, nil
}

// ReleaseProcessingLatch clears the latch at the end of one processUserCalls pass.
func (s *Store) ReleaseProcessingLatch(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, latchKey(userID)).Err(); err != nil {
		return fmt.Errorf("budget: release processing latch: %w", err)
	}
	return nil
}

func activeCountKey(userID uuid.UUID) string {
	return fmt.Sprintf("orchestrator:budget:%s:active", userID.String())
}

func latchKey(userID uuid.UUID) string {
	return fmt.Sprintf("orchestrator:budget:%s:latch", userID.String())
}
