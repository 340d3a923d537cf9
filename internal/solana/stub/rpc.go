package stub

import (
	"context"
	"errors"
	"sync"

	"github.com/vuittont60/scope/internal/solana"
)

// ErrNoHandler is returned by SendTransaction when no handler is installed.
var ErrNoHandler = errors.New("stub: no transaction handler")

// RPCClient implements solana.RPCClient for testing.
// Accounts are served from an in-memory map; transactions go to OnSend.
type RPCClient struct {
	mu       sync.Mutex
	Accounts map[solana.Pubkey]*solana.AccountInfo
	Clock    solana.Clock
	// OnSend handles submitted transactions.
	OnSend func(tx *solana.Transaction) (*solana.Receipt, error)
	// Sent records every submitted transaction in order.
	Sent []*solana.Transaction
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts: make(map[solana.Pubkey]*solana.AccountInfo),
	}
}

var _ solana.RPCClient = (*RPCClient)(nil)

// SetAccount stores an account in the stub.
func (c *RPCClient) SetAccount(address solana.Pubkey, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[address] = info
}

// GetAccountInfo returns a copy of the stored account, or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, address solana.Pubkey) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyAccount(c.Accounts[address]), nil
}

// GetMultipleAccounts returns copies of the stored accounts in order.
func (c *RPCClient) GetMultipleAccounts(_ context.Context, addresses []solana.Pubkey) ([]*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.AccountInfo, len(addresses))
	for i, a := range addresses {
		out[i] = copyAccount(c.Accounts[a])
	}
	return out, nil
}

// GetClock returns the configured clock.
func (c *RPCClient) GetClock(_ context.Context) (*solana.Clock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clock := c.Clock
	return &clock, nil
}

// SendTransaction records tx and forwards it to OnSend.
func (c *RPCClient) SendTransaction(_ context.Context, tx *solana.Transaction) (*solana.Receipt, error) {
	c.mu.Lock()
	c.Sent = append(c.Sent, tx)
	handler := c.OnSend
	c.mu.Unlock()

	if handler == nil {
		return nil, ErrNoHandler
	}
	return handler(tx)
}

func copyAccount(info *solana.AccountInfo) *solana.AccountInfo {
	if info == nil {
		return nil
	}
	cp := *info
	cp.Data = append([]byte(nil), info.Data...)
	return &cp
}
