package solana

import (
	"context"
	"encoding/json"
	"fmt"
)

// RPCClient defines the ledger JSON-RPC interface used by the crank and CLI.
type RPCClient interface {
	// GetAccountInfo retrieves an account. Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, address Pubkey) (*AccountInfo, error)

	// GetMultipleAccounts retrieves several accounts; missing ones are nil.
	GetMultipleAccounts(ctx context.Context, addresses []Pubkey) ([]*AccountInfo, error)

	// GetClock retrieves the current clock sysvar.
	GetClock(ctx context.Context) (*Clock, error)

	// SendTransaction submits a signed transaction and waits for its confirmation.
	SendTransaction(ctx context.Context, tx *Transaction) (*Receipt, error)
}

// JSON-RPC error codes used by the ledger node.
const (
	CodeParseError          = -32700
	CodeInvalidRequest      = -32600
	CodeMethodNotFound      = -32601
	CodeInvalidParams       = -32602
	CodeInternalError       = -32603
	CodeTransactionFailed   = -32002
	CodeTransactionRejected = -32003
)

// RPCRequest represents a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// RPCResponse represents a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int              `json:"code"`
	Message string           `json:"message"`
	Data    *TransactionData `json:"data,omitempty"`
}

// TransactionData carries the failure details of a rejected transaction.
type TransactionData struct {
	ProgramErrorCode uint32   `json:"programErrorCode,omitempty"`
	Logs             []string `json:"logs,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// asTransactionError converts a transaction failure into *TransactionError.
func (e *RPCError) asTransactionError() error {
	if e.Code != CodeTransactionFailed && e.Code != CodeTransactionRejected {
		return e
	}
	txErr := &TransactionError{Message: e.Message}
	if e.Data != nil {
		txErr.Code = e.Data.ProgramErrorCode
		txErr.Logs = e.Data.Logs
	}
	return txErr
}

// AccountValue is the wire form of an account; Data is [base64, "base64"].
type AccountValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

// AccountResult wraps a single account value with its context slot.
type AccountResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value *AccountValue `json:"value"`
}

// MultipleAccountsResult wraps several account values with their context slot.
type MultipleAccountsResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value []*AccountValue `json:"value"`
}
