// Package archive writes the final state of settled games to S3-compatible
// object storage.
package archive

import (
	"context"
	"time"

	"overunder/internal/domain"
)

// Snapshot is the settled game with every record that touched it.
type Snapshot struct {
	Game        *domain.Game          `json:"game"`
	Buys        []*domain.BuyRecord   `json:"buys"`
	Sells       []*domain.SellRecord  `json:"sells"`
	Claims      []*domain.ClaimRecord `json:"claims"`
	Redeemables []*domain.Redeemable  `json:"redeemables"`
	ArchivedAt  time.Time             `json:"archivedAt"`
}

// Archiver persists snapshots.
type Archiver interface {
	ArchiveGame(ctx context.Context, s *Snapshot) error
}

// Nop discards snapshots. Used when no bucket is configured.
type Nop struct{}

func (Nop) ArchiveGame(context.Context, *Snapshot) error { return nil }
