package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers every request with result, after checking the method.
func rpcServer(t *testing.T, method string, result interface{}, inspect func(req rpcRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != method {
			t.Errorf("expected method %s, got %s", method, req.Method)
		}
		if inspect != nil {
			inspect(req)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_GetParsedTransaction(t *testing.T) {
	result := map[string]interface{}{
		"slot":      int64(123456),
		"blockTime": int64(1700000000),
		"meta": map[string]interface{}{
			"err": nil,
			"preTokenBalances": []map[string]interface{}{
				{"accountIndex": 1, "mint": "mint1", "owner": "owner1", "uiTokenAmount": map[string]interface{}{"amount": "100", "decimals": 9}},
			},
		},
		"transaction": map[string]interface{}{
			"signatures": []string{"testsig123"},
			"message": map[string]interface{}{
				"accountKeys": []map[string]interface{}{
					{"pubkey": "payer", "signer": true, "writable": true},
					{"pubkey": "ata1", "signer": false, "writable": true},
				},
				"instructions": []map[string]interface{}{
					{
						"program":   "system",
						"programId": "11111111111111111111111111111111",
						"parsed": map[string]interface{}{
							"type": "transfer",
							"info": map[string]interface{}{"source": "a", "destination": "b", "lamports": 5000},
						},
					},
					{
						"program":   "spl-memo",
						"programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr",
						"parsed":    "goatClaim_1",
					},
				},
			},
		},
	}

	server := rpcServer(t, "getTransaction", result, func(req rpcRequest) {
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["encoding"] != "jsonParsed" {
			t.Errorf("expected jsonParsed encoding, got %v", cfg["encoding"])
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	tx, err := client.GetParsedTransaction(ctx, "testsig123", CommitmentConfirmed)
	if err != nil {
		t.Fatalf("GetParsedTransaction: %v", err)
	}

	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}

	if tx.Slot != 123456 {
		t.Errorf("expected slot 123456, got %d", tx.Slot)
	}

	if len(tx.Instructions) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(tx.Instructions))
	}

	typ, info, ok := tx.Instructions[0].Decode()
	if !ok || typ != "transfer" || len(info) == 0 {
		t.Errorf("expected decoded transfer, got %q ok=%v", typ, ok)
	}

	if _, _, ok := tx.Instructions[1].Decode(); ok {
		t.Error("memo instruction should not decode as typed instruction")
	}

	owner, mint, ok := tx.TokenOwner("ata1")
	if !ok || owner != "owner1" || mint != "mint1" {
		t.Errorf("unexpected token owner %q mint %q ok=%v", owner, mint, ok)
	}
}

func TestHTTPClient_GetParsedTransaction_NotFound(t *testing.T) {
	server := rpcServer(t, "getTransaction", nil, nil)
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	tx, err := client.GetParsedTransaction(ctx, "nonexistent", "")
	if err != nil {
		t.Fatalf("GetParsedTransaction: %v", err)
	}

	if tx != nil {
		t.Errorf("expected nil for not found, got %+v", tx)
	}
}

func TestHTTPClient_GetSignaturesForAddress(t *testing.T) {
	blockTime := int64(1700000000)
	result := []map[string]interface{}{
		{"signature": "sig2", "slot": int64(101), "blockTime": blockTime, "err": nil},
		{"signature": "sig1", "slot": int64(100), "blockTime": blockTime, "err": nil},
	}

	server := rpcServer(t, "getSignaturesForAddress", result, func(req rpcRequest) {
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["until"] != "sig0" {
			t.Errorf("expected until sig0, got %v", cfg["until"])
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	sigs, err := client.GetSignaturesForAddress(ctx, "testaddr", &SignaturesOpts{Until: "sig0", Limit: 10})
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}

	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}

	if sigs[0].Signature != "sig2" {
		t.Errorf("expected sig2, got %s", sigs[0].Signature)
	}

	if sigs[1].Slot != 100 {
		t.Errorf("expected slot 100, got %d", sigs[1].Slot)
	}
}

func TestHTTPClient_SendTransaction(t *testing.T) {
	server := rpcServer(t, "sendTransaction", "5xSig", func(req rpcRequest) {
		if req.Params[0] != "AQID" {
			t.Errorf("unexpected payload %v", req.Params[0])
		}
		cfg, _ := req.Params[1].(map[string]interface{})
		if cfg["encoding"] != "base64" {
			t.Errorf("expected base64 encoding, got %v", cfg["encoding"])
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	sig, err := client.SendTransaction(context.Background(), "AQID", &SendOpts{PreflightCommitment: CommitmentConfirmed})
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if sig != "5xSig" {
		t.Errorf("expected 5xSig, got %s", sig)
	}
}

func TestHTTPClient_GetSignatureStatuses(t *testing.T) {
	result := map[string]interface{}{
		"context": map[string]interface{}{"slot": 10},
		"value": []interface{}{
			map[string]interface{}{"slot": 9, "confirmations": nil, "err": nil, "confirmationStatus": "finalized"},
			nil,
		},
	}
	server := rpcServer(t, "getSignatureStatuses", result, nil)
	defer server.Close()

	client := NewHTTPClient(server.URL)

	statuses, err := client.GetSignatureStatuses(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("GetSignatureStatuses: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0] == nil || !statuses[0].ConfirmationStatus.Reached(CommitmentConfirmed) {
		t.Errorf("expected first status finalized, got %+v", statuses[0])
	}
	if statuses[1] != nil {
		t.Errorf("expected nil status for unknown signature, got %+v", statuses[1])
	}
}

func TestHTTPClient_GetLatestBlockhashAndBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		var result interface{}
		switch req.Method {
		case "getLatestBlockhash":
			result = map[string]interface{}{
				"value": map[string]interface{}{"blockhash": "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", "lastValidBlockHeight": 200},
			}
		case "getBalance":
			result = map[string]interface{}{"value": 1_500_000}
		case "getTokenAccountBalance":
			result = map[string]interface{}{"value": map[string]interface{}{"amount": "42", "decimals": 9}}
		default:
			t.Errorf("unexpected method %s", req.Method)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	bh, err := client.GetLatestBlockhash(ctx, CommitmentFinalized)
	if err != nil {
		t.Fatalf("GetLatestBlockhash: %v", err)
	}
	if bh.LastValidBlockHeight != 200 {
		t.Errorf("expected last valid height 200, got %d", bh.LastValidBlockHeight)
	}

	bal, err := client.GetBalance(ctx, "addr")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != 1_500_000 {
		t.Errorf("expected 1500000, got %d", bal)
	}

	amount, err := client.GetTokenAccountBalance(ctx, "ata")
	if err != nil {
		t.Fatalf("GetTokenAccountBalance: %v", err)
	}
	if amount.Uint64() != 42 {
		t.Errorf("expected 42, got %d", amount.Uint64())
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(999),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)
	ctx := context.Background()

	height, err := client.GetBlockHeight(ctx, CommitmentConfirmed)
	if err != nil {
		t.Fatalf("GetBlockHeight: %v", err)
	}

	if height != 999 {
		t.Errorf("expected height 999, got %d", height)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32002,
				"message": "Transaction simulation failed: Blockhash not found",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	_, err := client.SendTransaction(ctx, "AQID", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T", err)
	}

	if rpcErr.Code != -32002 {
		t.Errorf("expected code -32002, got %d", rpcErr.Code)
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	result := map[string]interface{}{
		"value": map[string]interface{}{
			"lamports":   uint64(1000000),
			"owner":      "11111111111111111111111111111111",
			"data":       []string{"SGVsbG8gV29ybGQ=", "base64"},
			"executable": false,
			"rentEpoch":  uint64(100),
		},
	}
	server := rpcServer(t, "getAccountInfo", result, nil)
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	info, err := client.GetAccountInfo(ctx, "testpubkey")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}

	if info == nil {
		t.Fatal("expected account info, got nil")
	}

	if info.Lamports != 1000000 {
		t.Errorf("expected lamports 1000000, got %d", info.Lamports)
	}

	if info.Data != "SGVsbG8gV29ybGQ=" {
		t.Errorf("unexpected data: %s", info.Data)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := rpcServer(t, "getAccountInfo", map[string]interface{}{"value": nil}, nil)
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	info, err := client.GetAccountInfo(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}

	if info != nil {
		t.Errorf("expected nil for not found, got %+v", info)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.GetBalance(ctx, "addr")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
