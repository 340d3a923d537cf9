// Package node serves a ledger bank over JSON-RPC 2.0 (HTTP) and account
// subscriptions over WebSocket.
package node

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/ledger"
	"github.com/vuittont60/scope/internal/localnet"
	"github.com/vuittont60/scope/internal/observability"
	"github.com/vuittont60/scope/internal/solana"
)

// maxRequestBytes bounds a JSON-RPC request body.
const maxRequestBytes = 1 << 20

// Options configures a Server.
type Options struct {
	Logger zerolog.Logger
	// NotificationBuffer is the per-connection queue of pending notifications.
	NotificationBuffer int
	WriteTimeout       time.Duration
}

// Server exposes a bank to crank and CLI clients.
type Server struct {
	bank     *ledger.Bank
	log      zerolog.Logger
	opts     Options
	upgrader websocket.Upgrader
	hub      *hub
	started  time.Time
}

// NewServer creates a server and registers it for account change notifications.
func NewServer(bank *ledger.Bank, opts Options) *Server {
	if opts.NotificationBuffer <= 0 {
		opts.NotificationBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	log := opts.Logger.With().Str("component", "node").Logger()
	s := &Server{
		bank:    bank,
		log:     log,
		opts:    opts,
		hub:     newHub(log),
		started: time.Now(),
	}
	bank.OnAccountChange(s.hub.publish)
	return s
}

// Handler returns the HTTP routes: JSON-RPC on "/", WebSocket on "/ws",
// "/health" and "/metrics".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	clock := s.bank.Clock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        "healthy",
		"slot":          clock.Slot,
		"subscriptions": s.hub.count(),
		"uptime":        time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeResponse(w, &solana.RPCResponse{JSONRPC: "2.0", Error: &solana.RPCError{Code: solana.CodeParseError, Message: err.Error()}})
		return
	}
	var req solana.RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, &solana.RPCResponse{JSONRPC: "2.0", Error: &solana.RPCError{Code: solana.CodeParseError, Message: "invalid JSON"}})
		return
	}

	start := time.Now()
	result, rpcErr := s.dispatch(r.Context(), &req)
	status := "ok"
	if rpcErr != nil {
		status = fmt.Sprintf("%d", rpcErr.Code)
	}
	observability.RecordRPCRequest(req.Method, status, time.Since(start).Seconds())

	resp := &solana.RPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &solana.RPCError{Code: solana.CodeInternalError, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp *solana.RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, req *solana.RPCRequest) (interface{}, *solana.RPCError) {
	if req.JSONRPC != "2.0" {
		return nil, &solana.RPCError{Code: solana.CodeInvalidRequest, Message: "jsonrpc must be 2.0"}
	}

	switch req.Method {
	case "getHealth":
		return "ok", nil
	case "getSlot":
		return s.bank.Clock().Slot, nil
	case "getClock":
		return s.bank.Clock(), nil
	case "getAccountInfo":
		return s.getAccountInfo(ctx, req.Params)
	case "getMultipleAccounts":
		return s.getMultipleAccounts(ctx, req.Params)
	case "sendTransaction":
		return s.sendTransaction(ctx, req.Params)
	}
	return nil, &solana.RPCError{Code: solana.CodeMethodNotFound, Message: "method not found: " + req.Method}
}

func invalidParams(format string, args ...interface{}) *solana.RPCError {
	return &solana.RPCError{Code: solana.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func internalError(err error) *solana.RPCError {
	return &solana.RPCError{Code: solana.CodeInternalError, Message: err.Error()}
}

func (s *Server) getAccountInfo(ctx context.Context, params []json.RawMessage) (interface{}, *solana.RPCError) {
	if len(params) < 1 {
		return nil, invalidParams("expected an address")
	}
	var key string
	if err := json.Unmarshal(params[0], &key); err != nil {
		return nil, invalidParams("address: %v", err)
	}
	address, err := solana.PubkeyFromString(key)
	if err != nil {
		return nil, invalidParams("address: %v", err)
	}

	slot := s.bank.Clock().Slot
	info, err := s.bank.GetAccount(ctx, address)
	if err != nil {
		return nil, internalError(err)
	}

	var result solana.AccountResult
	result.Context.Slot = slot
	if info != nil {
		result.Value = solana.EncodeAccountValue(info)
	}
	return result, nil
}

func (s *Server) getMultipleAccounts(ctx context.Context, params []json.RawMessage) (interface{}, *solana.RPCError) {
	if len(params) < 1 {
		return nil, invalidParams("expected a list of addresses")
	}
	var keys []string
	if err := json.Unmarshal(params[0], &keys); err != nil {
		return nil, invalidParams("addresses: %v", err)
	}
	addresses := make([]solana.Pubkey, len(keys))
	for i, k := range keys {
		pk, err := solana.PubkeyFromString(k)
		if err != nil {
			return nil, invalidParams("address %d: %v", i, err)
		}
		addresses[i] = pk
	}

	slot := s.bank.Clock().Slot
	infos, err := s.bank.GetAccounts(ctx, addresses)
	if err != nil {
		return nil, internalError(err)
	}

	var result solana.MultipleAccountsResult
	result.Context.Slot = slot
	result.Value = make([]*solana.AccountValue, len(infos))
	for i, info := range infos {
		if info != nil {
			result.Value[i] = solana.EncodeAccountValue(info)
		}
	}
	return result, nil
}

func (s *Server) sendTransaction(ctx context.Context, params []json.RawMessage) (interface{}, *solana.RPCError) {
	if len(params) < 1 {
		return nil, invalidParams("expected a serialized transaction")
	}
	var encoded string
	if err := json.Unmarshal(params[0], &encoded); err != nil {
		return nil, invalidParams("transaction: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, invalidParams("transaction is not base64: %v", err)
	}
	tx, err := solana.DeserializeTransaction(raw)
	if err != nil {
		return nil, invalidParams("%v", err)
	}

	receipt, err := s.bank.ProcessTransaction(ctx, tx)
	if err == nil {
		return receipt, nil
	}

	txErr, ok := localnet.AsTransactionError(err)
	if !ok {
		s.log.Error().Err(err).Stringer("signature", tx.Signature).Msg("transaction aborted")
		return nil, internalError(err)
	}

	code := solana.CodeTransactionRejected
	var execErr *ledger.ExecutionError
	if errors.As(err, &execErr) {
		code = solana.CodeTransactionFailed
	}
	return nil, &solana.RPCError{
		Code:    code,
		Message: txErr.Message,
		Data:    &solana.TransactionData{ProgramErrorCode: txErr.Code, Logs: txErr.Logs},
	}
}
