package domain

import "time"

// EventKind names an applied engine operation.
type EventKind string

const (
	EventStart  EventKind = "start"
	EventBuy    EventKind = "buy"
	EventSell   EventKind = "sell"
	EventRedeem EventKind = "redeem"
	EventSettle EventKind = "settle"
)

// GameEvent is a post-operation snapshot for analytics.
// Corresponds to game_events table in ClickHouse.
type GameEvent struct {
	GameID     int64
	Kind       EventKind
	Side       Side
	Wallet     string
	Signature  string
	Lamports   int64 // SOL moved by the operation
	Tokens     int64 // claim-tokens minted or burnt
	OverPot    int64
	UnderPot   int64
	OverPrice  int64
	UnderPrice int64
	At         time.Time
}

// NewGameEvent snapshots the pot state of g.
func NewGameEvent(g *Game, kind EventKind, at time.Time) GameEvent {
	return GameEvent{
		GameID:     g.ID,
		Kind:       kind,
		OverPot:    g.OverPot,
		UnderPot:   g.UnderPot,
		OverPrice:  g.OverPrice,
		UnderPrice: g.UnderPrice,
		At:         at,
	}
}
