package solana

import "context"

// WSClient defines the Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeAccount subscribes to changes of one account. Every call gets
	// its own channel; subscribers of one address share a single
	// accountSubscribe on the node.
	SubscribeAccount(ctx context.Context, address string) (<-chan AccountNotification, error)

	// UnsubscribeAccount closes ch, a channel returned by SubscribeAccount
	// for address. The node subscription is dropped with its last subscriber.
	UnsubscribeAccount(ctx context.Context, address string, ch <-chan AccountNotification) error

	// Close closes the WebSocket connection.
	Close() error
}
