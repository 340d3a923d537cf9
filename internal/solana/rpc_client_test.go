package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func writeResult(t *testing.T, w http.ResponseWriter, id uint64, result interface{}) {
	t.Helper()
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	owner := MustPubkey(SystemProgram)
	data := []byte{1, 2, 3, 4}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != "getAccountInfo" {
			t.Errorf("expected method getAccountInfo, got %s", req.Method)
		}

		writeResult(t, w, req.ID, map[string]interface{}{
			"context": map[string]interface{}{"slot": 77},
			"value": map[string]interface{}{
				"lamports":   1000,
				"owner":      owner.String(),
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
				"rentEpoch":  3,
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	info, err := client.GetAccountInfo(context.Background(), MustPubkey(SysvarClock))
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info == nil {
		t.Fatal("expected account, got nil")
	}
	if info.Lamports != 1000 {
		t.Errorf("expected 1000 lamports, got %d", info.Lamports)
	}
	if info.Owner != owner {
		t.Errorf("expected owner %s, got %s", owner, info.Owner)
	}
	if string(info.Data) != string(data) {
		t.Errorf("expected data %v, got %v", data, info.Data)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		writeResult(t, w, req.ID, map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value":   nil,
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	info, err := client.GetAccountInfo(context.Background(), MustPubkey(SysvarClock))
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil for missing account, got %+v", info)
	}
}

func TestHTTPClient_GetMultipleAccounts(t *testing.T) {
	owner := MustPubkey(SystemProgram)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		var keys []string
		if err := json.Unmarshal(req.Params[0], &keys); err != nil {
			t.Errorf("decode keys: %v", err)
		}
		if len(keys) != 2 {
			t.Errorf("expected 2 keys, got %d", len(keys))
		}

		writeResult(t, w, req.ID, map[string]interface{}{
			"context": map[string]interface{}{"slot": 5},
			"value": []interface{}{
				map[string]interface{}{
					"lamports": 1,
					"owner":    owner.String(),
					"data":     []string{base64.StdEncoding.EncodeToString([]byte{9}), "base64"},
				},
				nil,
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	infos, err := client.GetMultipleAccounts(context.Background(), []Pubkey{MustPubkey(SysvarClock), owner})
	if err != nil {
		t.Fatalf("GetMultipleAccounts: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 results, got %d", len(infos))
	}
	if infos[0] == nil || infos[0].Data[0] != 9 {
		t.Errorf("unexpected first account: %+v", infos[0])
	}
	if infos[1] != nil {
		t.Errorf("expected nil second account, got %+v", infos[1])
	}
}

func TestHTTPClient_GetClock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		writeResult(t, w, req.ID, Clock{Slot: 42, Epoch: 2, UnixTimestamp: 1700000000})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	clock, err := client.GetClock(context.Background())
	if err != nil {
		t.Fatalf("GetClock: %v", err)
	}
	if clock.Slot != 42 || clock.Epoch != 2 {
		t.Errorf("unexpected clock: %+v", clock)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeResult(t, w, req.ID, 12345)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	slot, err := client.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 12345 {
		t.Errorf("expected slot 12345, got %d", slot)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RateLimited(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(10*time.Millisecond),
	)

	_, err := client.GetSlot(context.Background())
	if err == nil {
		t.Fatal("expected error after max retries")
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts.Load())
	}
}

func TestHTTPClient_SendTransaction_ProgramError(t *testing.T) {
	var attempts atomic.Int32
	payer, err := KeypairFromSeed(make([]byte, 32))
	if err != nil {
		t.Fatalf("KeypairFromSeed: %v", err)
	}
	tx := NewTransaction(payer, 10, Instruction{ProgramID: MustPubkey(SystemProgram), Data: []byte{1}})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		var encoded string
		if err := json.Unmarshal(req.Params[0], &encoded); err != nil {
			t.Errorf("decode tx param: %v", err)
		}
		raw, _ := base64.StdEncoding.DecodeString(encoded)
		got, err := DeserializeTransaction(raw)
		if err != nil {
			t.Errorf("DeserializeTransaction: %v", err)
		} else if got.Signature != tx.Signature {
			t.Errorf("signature mismatch")
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    CodeTransactionFailed,
				"message": "price not valid",
				"data": map[string]interface{}{
					"programErrorCode": 6003,
					"logs":             []string{"Program log: rejected"},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(10*time.Millisecond))

	_, err = client.SendTransaction(context.Background(), tx)
	if err == nil {
		t.Fatal("expected transaction error")
	}

	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected *TransactionError, got %T: %v", err, err)
	}
	if txErr.Code != 6003 {
		t.Errorf("expected code 6003, got %d", txErr.Code)
	}
	if len(txErr.Logs) != 1 {
		t.Errorf("expected 1 log line, got %d", len(txErr.Logs))
	}
	if attempts.Load() != 1 {
		t.Errorf("transactions must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_SendTransaction_ConfirmTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	payer, _ := KeypairFromSeed(make([]byte, 32))
	tx := NewTransaction(payer, 1)

	client := NewHTTPClient(server.URL, WithConfirmTimeout(50*time.Millisecond))

	_, err := client.SendTransaction(context.Background(), tx)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(10),
		WithRetryDelay(100*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetSlot(ctx)
	if err == nil {
		t.Fatal("expected error due to context cancellation")
	}
}
