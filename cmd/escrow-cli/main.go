package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"nftescrow/cmd/internal/passphrase"
	"nftescrow/crypto"
	"nftescrow/rpc"
)

const (
	secretEnv = "ESCROW_JWT_SECRET"
	tokenTTL  = 5 * time.Minute
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag

var secretSource = passphrase.NewSource(secretEnv, "RPC signing secret")

var rpcCall = callRPC

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "escrow":
		return runEscrowCommand(args[1:], stdout, stderr)
	case "nft":
		return runNFTCommand(args[1:], stdout, stderr)
	case "token":
		return runTokenCommand(args[1:], stdout, stderr)
	case "address":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "Error: address expects exactly one label")
			return 1
		}
		fmt.Fprintln(stdout, crypto.FormatAddress(crypto.AddressFromSeed(args[1])))
		return 0
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli [--rpc URL] <command> [flags]

Commands:
  escrow   List, settle and cancel escrows; manage the platform
  nft      Mint, approve and inspect faucet NFTs
  token    Mint, approve and inspect faucet tokens
  address  Print the development address derived from a label

State-changing commands act as --from and sign a short-lived bearer token
with the secret in ESCROW_JWT_SECRET (prompted when unset). --from accepts a
bech32 or 0x address, or seed:<label>.
`)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

// parseActor resolves a --from value into an address.
func parseActor(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("--from is required")
	}
	if label, ok := strings.CutPrefix(trimmed, "seed:"); ok {
		if strings.TrimSpace(label) == "" {
			return [20]byte{}, fmt.Errorf("--from seed label is empty")
		}
		return crypto.AddressFromSeed(label), nil
	}
	addr, err := crypto.ParseAddress(trimmed)
	if err != nil {
		return [20]byte{}, fmt.Errorf("--from: %v", err)
	}
	return addr, nil
}

// callRPC posts a JSON-RPC request. A non-nil caller signs the request as
// that account.
func callRPC(method string, params interface{}, caller *[20]byte) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		secret, err := secretSource.Get()
		if err != nil {
			return nil, nil, err
		}
		token, err := rpc.IssueToken([]byte(secret), *caller, tokenTTL)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

// invoke runs one call and prints its result or error.
func invoke(method string, params interface{}, caller *[20]byte, stdout, stderr io.Writer) int {
	result, rpcErr, err := rpcCall(method, params, caller)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return 1
	}
	writeRPCResult(stdout, result)
	return 0
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		_, _ = w.Write(result)
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintln(w, pretty.String())
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
