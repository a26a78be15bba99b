package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"nftescrow/core"
	"nftescrow/core/events"
	"nftescrow/crypto"
	"nftescrow/indexer"
	"nftescrow/storage"
)

const testJWTSecret = "rpc-test-secret"

var (
	testAdmin  = crypto.AddressFromSeed("admin")
	testSeller = crypto.AddressFromSeed("seller")
	testBuyer  = crypto.AddressFromSeed("buyer")
)

type testEnv struct {
	node       *core.Node
	bus        *events.Bus
	index      *indexer.Indexer
	server     *Server
	http       *httptest.Server
	collection string
	token      string
	engine     string
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), core.Options{
		Admin:      testAdmin,
		FeeBps:     20,
		Commitment: crypto.Commitment("yafiabiyyu"),
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	db, err := indexer.Open(indexer.DriverSQLite, filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	idx, err := indexer.New(db, nil)
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	bus := events.NewBus(0)
	node.SetEmitter(events.Multi{bus, idx})

	if cfg.JWTSecret == nil {
		cfg.JWTSecret = []byte(testJWTSecret)
	}
	srv, err := NewServer(node, bus, idx, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	env := &testEnv{
		node:       node,
		bus:        bus,
		index:      idx,
		server:     srv,
		http:       httptest.NewServer(srv.Handler()),
		collection: crypto.FormatAddress(node.RegisterCollection("faucet", "FCT").Address()),
		token:      crypto.FormatAddress(node.RegisterToken("faucet", "FTK").Address()),
		engine:     crypto.FormatAddress(node.EngineAddress()),
	}
	t.Cleanup(func() {
		env.http.Close()
		_ = idx.Close()
		node.Close()
	})
	return env
}

func bearer(t testing.TB, caller [20]byte) string {
	t.Helper()
	token, err := IssueToken([]byte(testJWTSecret), caller, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// post sends a raw body and decodes the JSON-RPC envelope.
func (env *testEnv) post(t *testing.T, body []byte, token string) (int, *RPCResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.http.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	out := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

// call invokes method with a single parameter object and decodes the result
// into out when the call succeeds.
func (env *testEnv) call(t *testing.T, method string, params interface{}, caller *[20]byte, out interface{}) *RPCError {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": jsonRPCVersion, "id": 1, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	token := ""
	if caller != nil {
		token = bearer(t, *caller)
	}
	_, resp := env.post(t, body, token)
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil {
		data, err := json.Marshal(resp.Result)
		if err != nil {
			t.Fatalf("marshal result: %v", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode result: %v", err)
		}
	}
	return nil
}

func (env *testEnv) mustCall(t *testing.T, method string, params interface{}, caller *[20]byte, out interface{}) {
	t.Helper()
	if rpcErr := env.call(t, method, params, caller, out); rpcErr != nil {
		t.Fatalf("%s: %d %s", method, rpcErr.Code, rpcErr.Message)
	}
}
