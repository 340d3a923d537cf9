package localnet

import (
	"context"
	"errors"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/ledger"
	"github.com/vuittont60/scope/internal/solana"
)

// Client implements solana.RPCClient directly on a bank, without a network hop.
// Failures are reported exactly as the node reports them over JSON-RPC.
type Client struct {
	bank *ledger.Bank
}

// NewClient creates an in-process client.
func NewClient(bank *ledger.Bank) *Client {
	return &Client{bank: bank}
}

var _ solana.RPCClient = (*Client)(nil)

// GetAccountInfo returns an account, or nil if it does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address solana.Pubkey) (*solana.AccountInfo, error) {
	return c.bank.GetAccount(ctx, address)
}

// GetMultipleAccounts returns several accounts in order; missing ones are nil.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []solana.Pubkey) ([]*solana.AccountInfo, error) {
	return c.bank.GetAccounts(ctx, addresses)
}

// GetClock returns the current clock sysvar.
func (c *Client) GetClock(_ context.Context) (*solana.Clock, error) {
	clock := c.bank.Clock()
	return &clock, nil
}

// SendTransaction executes tx on the bank.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Receipt, error) {
	receipt, err := c.bank.ProcessTransaction(ctx, tx)
	if err != nil {
		if txErr, ok := AsTransactionError(err); ok {
			return nil, txErr
		}
		return nil, err
	}
	return receipt, nil
}

// AsTransactionError converts a bank failure into the error a client sees.
// The second result is false for infrastructure errors, which are not the
// transaction's fault.
func AsTransactionError(err error) (*solana.TransactionError, bool) {
	var execErr *ledger.ExecutionError
	if errors.As(err, &execErr) {
		txErr := &solana.TransactionError{Message: execErr.Err.Error(), Logs: execErr.Logs}
		if code, ok := domain.CodeOf(execErr.Err); ok {
			txErr.Code = code
		}
		return txErr, true
	}
	if IsRejection(err) {
		return &solana.TransactionError{Message: err.Error()}, true
	}
	return nil, false
}

// IsRejection reports whether the bank refused err's transaction before executing it.
func IsRejection(err error) bool {
	for _, target := range []error{
		ledger.ErrNoInstructions,
		ledger.ErrSignatureInvalid,
		ledger.ErrSignerMismatch,
		ledger.ErrRecentSlotExpired,
		ledger.ErrProgramNotFound,
		ledger.ErrAlreadyProcessed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
