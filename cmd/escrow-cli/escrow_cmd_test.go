package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nftescrow/crypto"
	"nftescrow/rpc"
)

type recordedCall struct {
	method string
	params map[string]interface{}
	caller *[20]byte
}

func stubRPC(t *testing.T, result string, rpcErr *rpcError) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	original := rpcCall
	rpcCall = func(method string, params interface{}, caller *[20]byte) (json.RawMessage, *rpcError, error) {
		call := recordedCall{method: method, caller: caller}
		if params != nil {
			data, err := json.Marshal(params)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(data, &call.params))
		}
		*calls = append(*calls, call)
		if rpcErr != nil {
			return nil, rpcErr, nil
		}
		return json.RawMessage(result), nil, nil
	}
	t.Cleanup(func() { rpcCall = original })
	return calls
}

func TestCommandArgValidation(t *testing.T) {
	calls := stubRPC(t, `{}`, nil)
	seller := crypto.FormatAddress(crypto.AddressFromSeed("seller"))

	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "no command", args: nil, want: "Usage:"},
		{name: "unknown command", args: []string{"swap"}, want: "Unknown command: swap"},
		{name: "escrow usage", args: []string{"escrow"}, want: "escrow-cli escrow <command>"},
		{name: "unknown escrow", args: []string{"escrow", "release"}, want: "Unknown escrow subcommand: release"},
		{name: "create without from", args: []string{"escrow", "create", "--asset-id", "0"}, want: "Error: --from is required\n"},
		{name: "create bad asset id", args: []string{"escrow", "create", "--from", seller, "--asset-id", "0x01"}, want: "Error: --asset-id must be a non-negative integer\n"},
		{name: "create bad amount", args: []string{"escrow", "create", "--from", seller, "--asset-id", "0", "--amount", "1.5"}, want: "Error: --amount must be an integer\n"},
		{name: "create missing buyer", args: []string{"escrow", "create", "--from", seller, "--asset-id", "0", "--amount", "5e17", "--asset-contract", seller, "--payment-contract", seller}, want: "Error: --buyer is required\n"},
		{name: "settle bad id", args: []string{"escrow", "settle", "--from", seller, "--id", "-1"}, want: "Error: --id must be a non-negative integer\n"},
		{name: "cancel bad from", args: []string{"escrow", "cancel", "--from", "nobody", "--id", "1"}, want: "Error: --from: "},
		{name: "fee not a number", args: []string{"escrow", "update-fee", "--from", seller, "--fee-bps", "ten"}, want: "Error: --fee-bps must be a non-negative integer\n"},
		{name: "nft unknown", args: []string{"nft", "burn"}, want: "Unknown nft subcommand: burn"},
		{name: "nft missing collection", args: []string{"nft", "faucet", "--from", seller}, want: "Error: --collection is required\n"},
		{name: "token approve missing spender", args: []string{"token", "approve", "--from", seller, "--token", seller}, want: "Error: --spender is required\n"},
		{name: "token allowance missing spender", args: []string{"token", "allowance", "--token", seller, "--owner", seller}, want: "Error: --spender is required\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			code := run(tc.args, stdout, stderr)
			require.Equal(t, 1, code)
			require.Empty(t, stdout.String())
			require.Contains(t, stderr.String(), tc.want)
		})
	}
	require.Empty(t, *calls)
}

func TestEscrowCreateSendsParams(t *testing.T) {
	calls := stubRPC(t, `{"id":0}`, nil)
	collection := crypto.FormatAddress(crypto.ContractAddress("nft", "faucet"))
	tokenAddr := crypto.FormatAddress(crypto.ContractAddress("token", "faucet"))
	buyer := crypto.FormatAddress(crypto.AddressFromSeed("buyer"))

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := run([]string{
		"escrow", "create",
		"--from", "seed:seller",
		"--asset-id", "0",
		"--amount", "0.5e18",
		"--asset-contract", collection,
		"--payment-contract", tokenAddr,
		"--buyer", buyer,
		"--duration", "2",
	}, stdout, stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Equal(t, "{\n  \"id\": 0\n}\n", stdout.String())

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.Equal(t, "escrow_create", call.method)
	require.Equal(t, crypto.AddressFromSeed("seller"), *call.caller)
	require.Equal(t, map[string]interface{}{
		"assetId":         "0",
		"amount":          "500000000000000000",
		"assetContract":   collection,
		"paymentContract": tokenAddr,
		"buyer":           buyer,
		"duration":        float64(2),
	}, call.params)
}

func TestReadCommandsAreUnsigned(t *testing.T) {
	calls := stubRPC(t, `{"status":"created"}`, nil)
	stdout := &bytes.Buffer{}
	require.Equal(t, 0, run([]string{"escrow", "get", "--id", "3"}, stdout, &bytes.Buffer{}))
	require.Equal(t, 0, run([]string{"escrow", "events", "--type", "escrow.created", "--limit", "5"}, stdout, &bytes.Buffer{}))
	require.Equal(t, 0, run([]string{"nft", "owner", "--collection", "c", "--token-id", "1"}, stdout, &bytes.Buffer{}))

	require.Len(t, *calls, 3)
	for _, call := range *calls {
		require.Nil(t, call.caller, call.method)
	}
	require.Equal(t, float64(3), (*calls)[0].params["id"])
	require.Equal(t, "escrow.created", (*calls)[1].params["type"])
	require.Equal(t, "nft_ownerOf", (*calls)[2].method)
}

func TestRPCErrorIsReported(t *testing.T) {
	stubRPC(t, "", &rpcError{Code: -32023, Message: "Escrow: caller is not the buyer"})
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := run([]string{"escrow", "settle", "--from", "seed:seller", "--id", "0"}, stdout, stderr)
	require.Equal(t, 1, code)
	require.Empty(t, stdout.String())
	require.Equal(t, "RPC error -32023: Escrow: caller is not the buyer\n", stderr.String())
}

func TestCallRPCSignsAsCaller(t *testing.T) {
	t.Setenv(secretEnv, "cli-secret")
	caller := crypto.AddressFromSeed("buyer")

	var gotAuth string
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMethod = req.Method
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	}))
	defer srv.Close()

	originalEndpoint := rpcEndpoint
	rpcEndpoint = srv.URL
	defer func() { rpcEndpoint = originalEndpoint }()

	result, rpcErr, err := callRPC("token_faucet", map[string]string{"token": "t"}, &caller)
	require.NoError(t, err)
	require.Nil(t, rpcErr)
	require.JSONEq(t, `{"ok":true}`, string(result))
	require.Equal(t, "token_faucet", gotMethod)
	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))

	expected, err := rpc.IssueToken([]byte("cli-secret"), caller, tokenTTL)
	require.NoError(t, err)
	require.Equal(t, len(expected), len(strings.TrimPrefix(gotAuth, "Bearer ")))
}

func TestGlobalFlagsAndAddress(t *testing.T) {
	original := rpcEndpoint
	defer func() { rpcEndpoint = original }()

	args, err := applyGlobalFlags([]string{"--rpc", "http://node:9000", "escrow", "platform"})
	require.NoError(t, err)
	require.Equal(t, []string{"escrow", "platform"}, args)
	require.Equal(t, "http://node:9000", rpcEndpoint)

	_, err = applyGlobalFlags([]string{"--rpc"})
	require.Error(t, err)

	stdout := &bytes.Buffer{}
	require.Equal(t, 0, run([]string{"address", "seller"}, stdout, &bytes.Buffer{}))
	require.Equal(t, crypto.FormatAddress(crypto.AddressFromSeed("seller"))+"\n", stdout.String())
}

func TestNormalizeAmount(t *testing.T) {
	cases := map[string]string{
		"1":        "1",
		"5e17":     "500000000000000000",
		"0.5e18":   "500000000000000000",
		"1_000":    "1000",
		"100.00":   "100",
		"+2.50e1":  "25",
		"0001e0":   "1",
		"12.345e3": "12345",
	}
	for in, want := range cases {
		got, err := normalizeAmount(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "-1", "1.5", "0", "1e", "abc", "1.2.3"} {
		_, err := normalizeAmount(bad)
		require.Error(t, err, bad)
	}
}
