package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wyckoff-engine/internal/campaign"
)

// Redis key layout for campaign state.
const (
	// campaignKeyPrefix holds one JSON record per campaign:
	// wyckoff:campaign:{id}
	campaignKeyPrefix = "wyckoff:campaign"

	// activeSetKey is the set of non-terminal campaign IDs.
	activeSetKey = "wyckoff:campaigns:active"

	// campaignTTL keeps terminal campaigns around long enough for
	// external retention tooling to pick them up.
	campaignTTL = 7 * 24 * time.Hour
)

// RedisCampaignStore keeps campaign hot state in Redis with an in-memory
// fallback when Redis is unavailable, so signal processing continues
// through an outage. It enforces the version check best-effort (read
// current, compare, write); the Postgres store is the durable source of
// truth for contested updates.
type RedisCampaignStore struct {
	client    *redis.Client
	logger    zerolog.Logger
	available atomic.Bool

	fallbackMu sync.RWMutex
	fallback   map[string]campaign.Record
}

// NewRedisCampaignStore creates a store. A nil client selects memory-only
// mode.
func NewRedisCampaignStore(client *redis.Client, logger zerolog.Logger) *RedisCampaignStore {
	s := &RedisCampaignStore{
		client:   client,
		logger:   logger.With().Str("component", "redis-campaign-store").Logger(),
		fallback: make(map[string]campaign.Record),
	}
	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("redis unavailable at startup, using in-memory fallback")
		} else {
			s.available.Store(true)
		}
	}
	return s
}

func campaignKey(id string) string {
	return fmt.Sprintf("%s:%s", campaignKeyPrefix, id)
}

// Save writes a campaign record, checking the expected version against the
// currently stored one.
func (s *RedisCampaignStore) Save(ctx context.Context, rec campaign.Record, expectedVersion int64) error {
	if expectedVersion != 0 {
		current, err := s.Load(ctx, rec.ID)
		if err == nil && current.Version != expectedVersion {
			return fmt.Errorf("%w: campaign %s expected version %d, stored %d",
				ErrVersionConflict, rec.ID, expectedVersion, current.Version)
		}
	}

	if !s.available.Load() || s.client == nil {
		s.saveFallback(rec)
		return nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign %s: %w", rec.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, campaignKey(rec.ID), payload, campaignTTL)
	if rec.Status.IsTerminal() {
		pipe.SRem(ctx, activeSetKey, rec.ID)
	} else {
		pipe.SAdd(ctx, activeSetKey, rec.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("campaign_id", rec.ID).
			Msg("redis save failed, falling back to memory")
		s.available.Store(false)
		s.saveFallback(rec)
	}
	return nil
}

// Load fetches a campaign record by identity.
func (s *RedisCampaignStore) Load(ctx context.Context, id string) (campaign.Record, error) {
	if s.available.Load() && s.client != nil {
		payload, err := s.client.Get(ctx, campaignKey(id)).Bytes()
		if err == nil {
			var rec campaign.Record
			if uerr := json.Unmarshal(payload, &rec); uerr != nil {
				return campaign.Record{}, fmt.Errorf("failed to unmarshal campaign %s: %w", id, uerr)
			}
			return rec, nil
		}
		if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("redis load failed, checking fallback")
			s.available.Store(false)
		}
	}

	s.fallbackMu.RLock()
	defer s.fallbackMu.RUnlock()
	rec, ok := s.fallback[id]
	if !ok {
		return campaign.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// LoadActive fetches all non-terminal campaign records.
func (s *RedisCampaignStore) LoadActive(ctx context.Context) ([]campaign.Record, error) {
	if s.available.Load() && s.client != nil {
		ids, err := s.client.SMembers(ctx, activeSetKey).Result()
		if err == nil {
			records := make([]campaign.Record, 0, len(ids))
			for _, id := range ids {
				rec, lerr := s.Load(ctx, id)
				if lerr != nil {
					s.logger.Warn().Err(lerr).Str("campaign_id", id).
						Msg("skipping unloadable active campaign")
					continue
				}
				records = append(records, rec)
			}
			return records, nil
		}
		s.logger.Warn().Err(err).Msg("redis active-set read failed, using fallback")
		s.available.Store(false)
	}

	s.fallbackMu.RLock()
	defer s.fallbackMu.RUnlock()
	var records []campaign.Record
	for _, rec := range s.fallback {
		if !rec.Status.IsTerminal() {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *RedisCampaignStore) saveFallback(rec campaign.Record) {
	s.fallbackMu.Lock()
	defer s.fallbackMu.Unlock()
	s.fallback[rec.ID] = rec
}
