// Package database provides campaign persistence behind a small save/load
// interface keyed by campaign identity. Two implementations exist: a
// Postgres store with optimistic-locking compare-and-swap updates, and a
// Redis hot-state store with an in-memory fallback for when Redis is
// unavailable.
package database

import (
	"context"
	"errors"

	"wyckoff-engine/internal/campaign"
)

var (
	// ErrVersionConflict is returned when a save carries a stale expected
	// version; the caller should reload and retry.
	ErrVersionConflict = errors.New("store version conflict")

	// ErrNotFound is returned when a campaign identity is unknown.
	ErrNotFound = errors.New("campaign not found")
)

// CampaignStore persists campaign snapshots. Save uses expectedVersion for
// compare-and-swap: pass 0 to create, or the version the caller loaded to
// update. The stored record's own version is the post-mutation one.
type CampaignStore interface {
	Save(ctx context.Context, rec campaign.Record, expectedVersion int64) error
	Load(ctx context.Context, id string) (campaign.Record, error)
	LoadActive(ctx context.Context) ([]campaign.Record, error)
}
