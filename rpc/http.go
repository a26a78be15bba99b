package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"nftescrow/core"
	"nftescrow/core/events"
	"nftescrow/native/escrow"
	"nftescrow/observability"
	telemetry "nftescrow/observability/otel"
	"nftescrow/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	shutdownTimeout = 10 * time.Second
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig carries the transport settings of the JSON-RPC server.
type ServerConfig struct {
	// JWTSecret verifies HS256 bearer tokens. Without it every state-changing
	// method is rejected.
	JWTSecret          []byte
	ClockSkew          time.Duration
	RateLimitPerSecond float64
	RateLimitBurst     int
	Logger             *slog.Logger
}

type requestMetrics interface {
	Observe(module, method string, code int, duration time.Duration)
	RecordThrottle(reason string)
}

type methodHandler func(ctx context.Context, caller [20]byte, params json.RawMessage) (interface{}, *modules.ModuleError)

type method struct {
	module string
	// mutates marks methods that act on behalf of an authenticated caller.
	mutates bool
	handle  methodHandler
}

type Server struct {
	node    *core.Node
	bus     *events.Bus
	logger  *slog.Logger
	metrics requestMetrics

	jwtSecret []byte
	clockSkew time.Duration

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	escrow  *modules.EscrowModule
	faucet  *modules.FaucetModule
	methods map[string]method
}

// NewServer wires the JSON-RPC surface to the node. bus feeds the websocket
// event stream and lister serves escrow_listEvents; either may be nil.
func NewServer(node *core.Node, bus *events.Bus, lister modules.EventLister, cfg ServerConfig) (*Server, error) {
	if node == nil {
		return nil, errors.New("rpc: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	burst := cfg.RateLimitBurst
	if cfg.RateLimitPerSecond > 0 && burst <= 0 {
		burst = 1
	}
	s := &Server{
		node:      node,
		bus:       bus,
		logger:    logger.With(slog.String("component", "rpc")),
		metrics:   observability.ModuleMetrics(),
		jwtSecret: append([]byte(nil), cfg.JWTSecret...),
		clockSkew: skew,
		limit:     rate.Limit(cfg.RateLimitPerSecond),
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
		escrow:    modules.NewEscrowModule(node, lister),
		faucet:    modules.NewFaucetModule(node),
	}
	s.methods = s.buildMethods()
	return s, nil
}

func (s *Server) buildMethods() map[string]method {
	return map[string]method{
		"escrow_create": {module: "escrow", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.escrow.Create(caller, p)
		}},
		"escrow_settle": {module: "escrow", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.escrow.Settle(caller, p)
		}},
		"escrow_cancel": {module: "escrow", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.escrow.Cancel(caller, p)
		}},
		"escrow_updateFee": {module: "escrow", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.escrow.UpdateFee(caller, p)
		}},
		"escrow_transferAdmin": {module: "escrow", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.escrow.TransferAdmin(caller, p)
		}},
		"escrow_get": {module: "escrow", handle: func(_ context.Context, _ [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.escrow.Get(p)
		}},
		"escrow_platform": {module: "escrow", handle: func(context.Context, [20]byte, json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.escrow.Platform()
		}},
		"escrow_listEvents": {module: "escrow", handle: func(ctx context.Context, _ [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.escrow.ListEvents(ctx, p)
		}},
		"escrow_contracts": {module: "escrow", handle: func(context.Context, [20]byte, json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.faucet.Contracts(), nil
		}},
		"nft_faucet": {module: "nft", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.faucet.NFTFaucet(caller, p)
		}},
		"nft_approve": {module: "nft", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.faucet.NFTApprove(caller, p)
		}},
		"nft_setApprovalForAll": {module: "nft", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.faucet.NFTSetApprovalForAll(caller, p)
		}},
		"nft_ownerOf": {module: "nft", handle: func(_ context.Context, _ [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.faucet.NFTOwnerOf(p)
		}},
		"token_faucet": {module: "token", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.faucet.TokenFaucet(caller, p)
		}},
		"token_approve": {module: "token", mutates: true, handle: func(_ context.Context, caller [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.faucet.TokenApprove(caller, p)
		}},
		"token_balanceOf": {module: "token", handle: func(_ context.Context, _ [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.faucet.TokenBalanceOf(p)
		}},
		"token_allowance": {module: "token", handle: func(_ context.Context, _ [20]byte, p json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.faucet.TokenAllowance(p)
		}},
	}
}

// Handler returns the HTTP surface: JSON-RPC on POST /, health, Prometheus
// metrics and the websocket event stream.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	return otelhttp.NewHandler(r, "escrow-rpc")
}

// Serve listens on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	return nil
}

type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeModuleError(w http.ResponseWriter, id interface{}, err *modules.ModuleError) {
	if err == nil {
		return
	}
	writeError(w, err.HTTPStatus, id, err.Code, err.Message, err.Data)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.allowSource(clientSource(r)) {
		s.metrics.RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	code := 0
	defer func() {
		s.metrics.Observe(m.module, req.Method, code, time.Since(start))
	}()

	var caller [20]byte
	if m.mutates {
		var authErr *RPCError
		caller, authErr = s.authenticate(r)
		if authErr != nil {
			code = authErr.Code
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	params, err := singleParam(req.Params)
	if err != nil {
		code = codeInvalidParams
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}

	ctx, span := telemetry.Tracer().Start(r.Context(), req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("rpc.module", m.module)))
	defer span.End()

	result, modErr := m.handle(ctx, caller, params)
	if modErr != nil {
		code = modErr.Code
		span.SetAttributes(attribute.Int("rpc.error_code", modErr.Code))
		span.SetStatus(otelcodes.Error, modErr.Message)
		if modErr.Code == modules.CodeInternal {
			s.logger.Error("rpc call failed",
				slog.String("method", req.Method),
				slog.String("error", modErr.Message))
		}
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

// singleParam accepts either a parameter object or a positional array holding
// at most one object.
func singleParam(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return trimmed, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	default:
		return nil, errors.New("exactly one parameter object expected")
	}
}

type healthResult struct {
	Status   string `json:"status"`
	Paused   bool   `json:"paused"`
	Sequence uint64 `json:"sequence"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	result := healthResult{Status: "ok", Paused: s.node.IsPaused(escrow.ModuleName)}
	if s.bus != nil {
		result.Sequence = s.bus.Sequence()
	}
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) allowSource(source string) bool {
	if s.limit <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

// clientSource identifies the requester for rate limiting. RealIP has already
// folded proxy headers into RemoteAddr.
func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
