package solana

import "context"

// WSClient defines the ledger WebSocket subscription interface.
type WSClient interface {
	// AccountSubscribe streams the state of an account every time it changes.
	AccountSubscribe(ctx context.Context, address Pubkey) (<-chan AccountNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// AccountNotification is pushed when a subscribed account is written.
type AccountNotification struct {
	Address Pubkey
	Slot    uint64
	Account *AccountInfo
}

// Wire types shared by the node's WebSocket server and WSClientImpl.

// WSRequest is a subscription request.
type WSRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// WSSubscribeResponse confirms a subscription.
type WSSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

// WSNotification carries one accountNotification.
type WSNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *WSNotificationParams `json:"params"`
}

// WSNotificationParams identifies the subscription of a notification.
type WSNotificationParams struct {
	Subscription int64         `json:"subscription"`
	Result       AccountResult `json:"result"`
}
