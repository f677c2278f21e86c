package clickhouse

import (
	"context"
	"fmt"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

// GameEventStore implements storage.EventSink using ClickHouse.
// game_events is a ReplacingMergeTree on (game_id, kind, signature), so a
// replayed event collapses into one row on merge.
type GameEventStore struct {
	conn *Conn
}

// NewGameEventStore creates a new GameEventStore.
func NewGameEventStore(conn *Conn) *GameEventStore {
	return &GameEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventSink = (*GameEventStore)(nil)

// Record writes one event.
func (s *GameEventStore) Record(ctx context.Context, ev domain.GameEvent) error {
	return s.RecordBulk(ctx, []domain.GameEvent{ev})
}

// RecordBulk writes events in one batch.
func (s *GameEventStore) RecordBulk(ctx context.Context, events []domain.GameEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO game_events (
			game_id, kind, side, wallet, signature, lamports, tokens,
			over_pot, under_pot, over_price, under_price, at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, ev := range events {
		err = batch.Append(
			ev.GameID, string(ev.Kind), string(ev.Side), ev.Wallet, ev.Signature,
			ev.Lamports, ev.Tokens,
			ev.OverPot, ev.UnderPot, ev.OverPrice, ev.UnderPrice, ev.At,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ListByGame returns the events of a game ordered by time.
func (s *GameEventStore) ListByGame(ctx context.Context, gameID int64) ([]domain.GameEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT game_id, kind, side, wallet, signature, lamports, tokens,
		       over_pot, under_pot, over_price, under_price, at
		FROM game_events FINAL
		WHERE game_id = ?
		ORDER BY at ASC, signature ASC
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query game events: %w", err)
	}
	defer rows.Close()

	var result []domain.GameEvent
	for rows.Next() {
		var ev domain.GameEvent
		var kind, side string
		if err := rows.Scan(
			&ev.GameID, &kind, &side, &ev.Wallet, &ev.Signature, &ev.Lamports, &ev.Tokens,
			&ev.OverPot, &ev.UnderPot, &ev.OverPrice, &ev.UnderPrice, &ev.At,
		); err != nil {
			return nil, fmt.Errorf("scan game event: %w", err)
		}
		ev.Kind = domain.EventKind(kind)
		ev.Side = domain.Side(side)
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate game events: %w", err)
	}
	return result, nil
}
