package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"wyckoff-engine/internal/campaign"
)

const campaignSchema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	status      TEXT NOT NULL,
	version     BIGINT NOT NULL,
	payload     JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
CREATE INDEX IF NOT EXISTS idx_campaigns_symbol ON campaigns(symbol);
`

// PostgresCampaignStore persists campaigns in Postgres. Updates are
// compare-and-swap on the version column, so a concurrent writer with a
// stale snapshot fails with ErrVersionConflict instead of clobbering.
type PostgresCampaignStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresCampaignStore creates a store backed by the given pool.
func NewPostgresCampaignStore(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresCampaignStore {
	return &PostgresCampaignStore{
		pool:   pool,
		logger: logger.With().Str("component", "pg-campaign-store").Logger(),
	}
}

// InitSchema creates the campaigns table if it does not exist.
func (s *PostgresCampaignStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, campaignSchema); err != nil {
		return fmt.Errorf("failed to initialize campaign schema: %w", err)
	}
	return nil
}

// Save inserts (expectedVersion == 0) or CAS-updates a campaign record.
func (s *PostgresCampaignStore) Save(ctx context.Context, rec campaign.Record, expectedVersion int64) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign %s: %w", rec.ID, err)
	}

	if expectedVersion == 0 {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO campaigns (id, symbol, status, version, payload, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())`,
			rec.ID, rec.Symbol, string(rec.Status), rec.Version, payload)
		if err != nil {
			return fmt.Errorf("failed to insert campaign %s: %w", rec.ID, err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns
		 SET symbol = $2, status = $3, version = $4, payload = $5, updated_at = now()
		 WHERE id = $1 AND version = $6`,
		rec.ID, rec.Symbol, string(rec.Status), rec.Version, payload, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update campaign %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: campaign %s expected version %d", ErrVersionConflict, rec.ID, expectedVersion)
	}
	return nil
}

// Load fetches one campaign by identity.
func (s *PostgresCampaignStore) Load(ctx context.Context, id string) (campaign.Record, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM campaigns WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return campaign.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return campaign.Record{}, fmt.Errorf("failed to load campaign %s: %w", id, err)
	}

	var rec campaign.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return campaign.Record{}, fmt.Errorf("failed to unmarshal campaign %s: %w", id, err)
	}
	return rec, nil
}

// LoadActive fetches all campaigns not in a terminal state.
func (s *PostgresCampaignStore) LoadActive(ctx context.Context) ([]campaign.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM campaigns WHERE status IN ($1, $2)`,
		string(campaign.StatusActive), string(campaign.StatusMarkup))
	if err != nil {
		return nil, fmt.Errorf("failed to query active campaigns: %w", err)
	}
	defer rows.Close()

	var records []campaign.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		var rec campaign.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			s.logger.Error().Err(err).Msg("skipping undecodable campaign payload")
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
