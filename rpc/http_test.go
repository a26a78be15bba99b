package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"nftescrow/crypto"
	"nftescrow/indexer"
	"nftescrow/native/escrow"
	"nftescrow/native/nft"
	"nftescrow/rpc/modules"
)

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	var minted modules.TokenIDResult
	env.mustCall(t, "nft_faucet", map[string]string{"collection": env.collection}, &testSeller, &minted)
	require.Equal(t, "0", minted.TokenID)
	env.mustCall(t, "nft_approve", map[string]string{
		"collection": env.collection,
		"to":         env.engine,
		"tokenId":    minted.TokenID,
	}, &testSeller, nil)

	var created modules.CreateResult
	env.mustCall(t, "escrow_create", map[string]interface{}{
		"assetId":         minted.TokenID,
		"amount":          "500000",
		"assetContract":   env.collection,
		"paymentContract": env.token,
		"buyer":           crypto.FormatAddress(testBuyer),
		"duration":        2,
	}, &testSeller, &created)

	env.mustCall(t, "token_faucet", map[string]string{"token": env.token}, &testBuyer, nil)
	env.mustCall(t, "token_approve", map[string]string{
		"token":   env.token,
		"spender": env.engine,
		"amount":  "500000",
	}, &testBuyer, nil)

	var status modules.StatusResult
	env.mustCall(t, "escrow_settle", map[string]uint64{"id": created.ID}, &testBuyer, &status)
	require.Equal(t, "completed", status.Status)

	var got modules.EscrowResult
	env.mustCall(t, "escrow_get", map[string]uint64{"id": created.ID}, nil, &got)
	require.Equal(t, "completed", got.Status)
	require.Equal(t, crypto.FormatAddress(testBuyer), got.Buyer)

	var owner modules.OwnerResult
	env.mustCall(t, "nft_ownerOf", map[string]string{"collection": env.collection, "tokenId": "0"}, nil, &owner)
	require.Equal(t, crypto.FormatAddress(testBuyer), owner.Owner)

	var fee modules.AmountResult
	env.mustCall(t, "token_balanceOf", map[string]string{"token": env.token, "owner": crypto.FormatAddress(testAdmin)}, nil, &fee)
	require.Equal(t, "1000", fee.Amount)

	var records []indexer.Record
	env.mustCall(t, "escrow_listEvents", map[string]interface{}{"escrowId": created.ID}, nil, &records)
	require.Len(t, records, 2)
	require.Equal(t, escrow.EventTypeEscrowCreated, records[0].Type)
	require.Equal(t, escrow.EventTypeEscrowCompleted, records[1].Type)
}

func TestEscrowErrorsCarryRevertReasons(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	rpcErr := env.call(t, "escrow_get", map[string]uint64{"id": 4}, nil, nil)
	require.NotNil(t, rpcErr)
	require.Equal(t, modules.CodeNotFound, rpcErr.Code)
	require.Equal(t, escrow.ReasonNotFound, rpcErr.Message)

	rpcErr = env.call(t, "escrow_updateFee", map[string]uint32{"feeBps": 50}, &testSeller, nil)
	require.NotNil(t, rpcErr)
	require.Equal(t, modules.CodeForbidden, rpcErr.Code)
	require.Equal(t, escrow.ReasonNotOwner, rpcErr.Message)

	rpcErr = env.call(t, "escrow_create", map[string]interface{}{
		"assetId":         "7",
		"amount":          "1",
		"assetContract":   env.collection,
		"paymentContract": env.token,
		"buyer":           crypto.FormatAddress(testBuyer),
		"duration":        1,
	}, &testSeller, nil)
	require.NotNil(t, rpcErr)
	require.Equal(t, modules.CodeInvalidParams, rpcErr.Code)
	require.Equal(t, nft.ErrInvalidTokenID.Error(), rpcErr.Message)

	var platform modules.PlatformResult
	env.mustCall(t, "escrow_updateFee", map[string]uint32{"feeBps": 50}, &testAdmin, &platform)
	require.Equal(t, uint32(50), platform.FeeBps)
	require.Zero(t, platform.NextID)
}

func TestMutatingMethodsRequireBearerToken(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"nft_faucet","params":{"collection":"` + env.collection + `"}}`)

	status, resp := env.post(t, body, "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	forged, err := IssueToken([]byte("another-secret"), testSeller, time.Minute)
	require.NoError(t, err)
	status, resp = env.post(t, body, forged)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid RPC credentials", resp.Error.Message)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   crypto.FormatAddress(testSeller),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	status, _ = env.post(t, body, expired)
	require.Equal(t, http.StatusUnauthorized, status)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	status, resp = env.post(t, body, noSubject)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "token subject required", resp.Error.Message)

	_, err = IssueToken(nil, testSeller, time.Minute)
	require.Error(t, err)

	status, resp = env.post(t, body, bearer(t, testSeller))
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	// Reads stay open.
	status, resp = env.post(t, []byte(`{"jsonrpc":"2.0","id":2,"method":"escrow_platform"}`), "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
}

func TestMutatingMethodsRejectedWithoutSecret(t *testing.T) {
	env := newTestEnv(t, ServerConfig{JWTSecret: []byte{}})
	rpcErr := env.call(t, "token_faucet", map[string]string{"token": env.token}, &testBuyer, nil)
	require.NotNil(t, rpcErr)
	require.Equal(t, "RPC authentication not configured", rpcErr.Message)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	cases := []struct {
		name   string
		body   []byte
		status int
		code   int
	}{
		{name: "empty body", body: []byte("  "), status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "bad json", body: []byte("{"), status: http.StatusBadRequest, code: codeParseError},
		{name: "version", body: []byte(`{"jsonrpc":"1.0","id":1,"method":"escrow_platform"}`), status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "no method", body: []byte(`{"jsonrpc":"2.0","id":1}`), status: http.StatusBadRequest, code: codeInvalidRequest},
		{name: "unknown method", body: []byte(`{"jsonrpc":"2.0","id":1,"method":"eth_call"}`), status: http.StatusNotFound, code: codeMethodNotFound},
		{name: "two params", body: []byte(`{"jsonrpc":"2.0","id":1,"method":"escrow_get","params":[{"id":1},{"id":2}]}`), status: http.StatusBadRequest, code: codeInvalidParams},
		{name: "unknown field", body: []byte(`{"jsonrpc":"2.0","id":1,"method":"escrow_get","params":{"escrow":1}}`), status: http.StatusBadRequest, code: modules.CodeInvalidParams},
		{name: "too large", body: bytes.Repeat([]byte(" "), maxRequestBytes+1), status: http.StatusRequestEntityTooLarge, code: codeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := env.post(t, tc.body, "")
			require.Equal(t, tc.status, status)
			require.NotNil(t, resp.Error)
			require.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestRateLimitPerSource(t *testing.T) {
	env := newTestEnv(t, ServerConfig{RateLimitPerSecond: 0.001, RateLimitBurst: 2})
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"escrow_platform"}`)

	for i := 0; i < 2; i++ {
		status, _ := env.post(t, body, "")
		require.Equal(t, http.StatusOK, status)
	}
	status, resp := env.post(t, body, "")
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	env.mustCall(t, "escrow_platform", nil, nil, nil)

	resp, err := env.http.Client().Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	var health healthResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, "ok", health.Status)
	require.False(t, health.Paused)

	resp, err = env.http.Client().Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(data), "nftescrow_rpc_requests_total")
}

func TestEventStreamReplaysAndFollows(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	env.mustCall(t, "nft_faucet", map[string]string{"collection": env.collection}, &testSeller, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events?after=0&type=" + nft.EventTypeTransfer
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	readEnvelope := func() map[string]interface{} {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var envelope map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &envelope))
		return envelope
	}

	first := readEnvelope()
	require.Equal(t, float64(1), first["sequence"])
	event := first["event"].(map[string]interface{})
	require.Equal(t, nft.EventTypeTransfer, event["type"])

	// Approvals are filtered out; the next transfer is delivered live.
	env.mustCall(t, "nft_setApprovalForAll", map[string]interface{}{
		"collection": env.collection,
		"operator":   env.engine,
		"approved":   true,
	}, &testSeller, nil)
	env.mustCall(t, "nft_faucet", map[string]string{"collection": env.collection}, &testBuyer, nil)

	second := readEnvelope()
	require.Equal(t, float64(3), second["sequence"])

	resp, err := env.http.Client().Get(env.http.URL + "/ws/events?after=abc")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
