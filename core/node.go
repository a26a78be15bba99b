package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"nftescrow/core/events"
	nhbstate "nftescrow/core/state"
	"nftescrow/native/escrow"
	"nftescrow/native/nft"
	"nftescrow/native/token"
	"nftescrow/storage"
)

var (
	ErrUnknownCollection = errors.New("node: unknown collection")
	ErrUnknownToken      = errors.New("node: unknown token")
	ErrNodeClosed        = errors.New("node: closed")
)

// Options configures the platform a fresh database is initialised with. A
// database that already holds a platform configuration keeps it.
type Options struct {
	Admin        [20]byte
	FeeBps       uint32
	Commitment   [32]byte
	Policy       escrow.Policy
	DurationUnit time.Duration
	Paused       bool
	Now          func() int64
	Logger       *slog.Logger
}

// Node is the sequential executor in front of the escrow engine and its
// adapters. Every entry point runs under one lock; successful calls are
// committed to the database and their events published, failed calls leave
// neither state nor events behind.
type Node struct {
	db        storage.Database
	state     *nhbstate.Manager
	directory *Directory
	engine    *escrow.Engine
	pending   *events.Buffer
	logger    *slog.Logger

	stateMu     sync.Mutex
	emitter     events.Emitter
	collections map[[20]byte]*nft.Collection
	tokens      map[[20]byte]*token.Token
	closed      bool
}

func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		db:          db,
		state:       nhbstate.NewManager(db),
		directory:   NewDirectory(),
		pending:     &events.Buffer{},
		logger:      logger,
		emitter:     events.NoopEmitter{},
		collections: make(map[[20]byte]*nft.Collection),
		tokens:      make(map[[20]byte]*token.Token),
	}

	engine := escrow.NewEngine()
	engine.SetState(n.state)
	engine.SetContracts(n.directory)
	engine.SetEmitter(n.pending)
	engine.SetLogger(logger.With(slog.String("component", "escrow")))
	if opts.Now != nil {
		engine.SetNowFunc(opts.Now)
	}
	if opts.DurationUnit > 0 {
		engine.SetDurationUnit(opts.DurationUnit)
	}
	n.engine = engine

	platform, ok, err := n.state.EscrowPlatformGet()
	if err != nil {
		return nil, fmt.Errorf("node: load platform: %w", err)
	}
	err = n.execute(func() error {
		if !ok {
			if err := engine.Initialize(opts.Admin, opts.FeeBps, opts.Commitment, opts.Policy); err != nil {
				return err
			}
			logger.Info("escrow platform initialised", slog.Uint64("feeBps", uint64(opts.FeeBps)))
		} else if platform.FeeBps != opts.FeeBps || platform.Admin != opts.Admin {
			logger.Info("escrow platform loaded from storage; configured admin and fee ignored",
				slog.Uint64("feeBps", uint64(platform.FeeBps)))
		}
		return n.state.SetPaused(escrow.ModuleName, opts.Paused)
	})
	if err != nil {
		return nil, fmt.Errorf("node: initialise platform: %w", err)
	}
	return n, nil
}

// SetEmitter configures where committed events are published. Passing nil
// discards them.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	n.emitter = emitter
}

// execute runs fn as one committed unit. The caller must not hold stateMu.
func (n *Node) execute(fn func() error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if err := fn(); err != nil {
		n.state.Discard()
		n.pending.Discard()
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Discard()
		n.pending.Discard()
		return err
	}
	n.pending.Flush(n.emitter)
	return nil
}

func (n *Node) read(fn func() error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	return fn()
}

// Engine exposes the escrow engine. Calls made on it directly bypass the
// node's commit and publish step.
func (n *Node) Engine() *escrow.Engine { return n.engine }

// Directory exposes the contract directory.
func (n *Node) Directory() *Directory { return n.directory }

// EngineAddress returns the account holding custodied assets.
func (n *Node) EngineAddress() [20]byte { return n.engine.Address() }

// RegisterCollection creates a faucet collection persisted in node state and
// registers it as an asset contract.
func (n *Node) RegisterCollection(name, symbol string) *nft.Collection {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	collection := nft.NewCollection(n.state, name, symbol)
	collection.SetEmitter(n.pending)
	n.collections[collection.Address()] = collection
	n.directory.RegisterAsset(collection.Address(), collection)
	return collection
}

// RegisterToken creates a faucet token persisted in node state and registers
// it as a payment contract.
func (n *Node) RegisterToken(name, symbol string) *token.Token {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	tok := token.NewToken(n.state, name, symbol)
	tok.SetEmitter(n.pending)
	n.tokens[tok.Address()] = tok
	n.directory.RegisterPayment(tok.Address(), tok)
	return tok
}

// Collections returns the registered faucet collections.
func (n *Node) Collections() []*nft.Collection {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	out := make([]*nft.Collection, 0, len(n.collections))
	for _, addr := range sortedKeys(n.collections) {
		out = append(out, n.collections[addr])
	}
	return out
}

// Tokens returns the registered faucet tokens.
func (n *Node) Tokens() []*token.Token {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	out := make([]*token.Token, 0, len(n.tokens))
	for _, addr := range sortedKeys(n.tokens) {
		out = append(out, n.tokens[addr])
	}
	return out
}

func (n *Node) collection(addr [20]byte) (*nft.Collection, error) {
	c, ok := n.collections[addr]
	if !ok {
		return nil, ErrUnknownCollection
	}
	return c, nil
}

func (n *Node) token(addr [20]byte) (*token.Token, error) {
	t, ok := n.tokens[addr]
	if !ok {
		return nil, ErrUnknownToken
	}
	return t, nil
}

func (n *Node) EscrowCreate(caller [20]byte, assetID, amount *big.Int, assetContract, paymentContract, buyer [20]byte, duration uint64) (uint64, error) {
	var id uint64
	err := n.execute(func() error {
		var err error
		id, err = n.engine.Create(caller, assetID, amount, assetContract, paymentContract, buyer, duration)
		return err
	})
	return id, err
}

func (n *Node) EscrowSettle(caller [20]byte, id uint64) error {
	return n.execute(func() error { return n.engine.Settle(caller, id) })
}

func (n *Node) EscrowCancel(caller [20]byte, id uint64) error {
	return n.execute(func() error { return n.engine.Cancel(caller, id) })
}

func (n *Node) EscrowUpdateFee(caller [20]byte, feeBps uint32) error {
	return n.execute(func() error { return n.engine.UpdateFeePlatform(caller, feeBps) })
}

func (n *Node) EscrowTransferAdmin(caller, next [20]byte) error {
	return n.execute(func() error { return n.engine.TransferAdmin(caller, next) })
}

func (n *Node) EscrowGet(id uint64) (*escrow.Escrow, error) {
	var out *escrow.Escrow
	err := n.read(func() error {
		var err error
		out, err = n.engine.Get(id)
		return err
	})
	return out, err
}

// EscrowExpiry returns the unix time at which the escrow's duration elapses.
func (n *Node) EscrowExpiry(esc *escrow.Escrow) int64 {
	return n.engine.Expiry(esc)
}

func (n *Node) EscrowPlatform() (*escrow.PlatformConfig, error) {
	var out *escrow.PlatformConfig
	err := n.read(func() error {
		var err error
		out, err = n.engine.Platform()
		return err
	})
	return out, err
}

func (n *Node) EscrowNextID() (uint64, error) {
	var next uint64
	err := n.read(func() error {
		var err error
		next, err = n.engine.NextID()
		return err
	})
	return next, err
}

// SetPaused pauses or resumes a native module.
func (n *Node) SetPaused(module string, paused bool) error {
	return n.execute(func() error { return n.state.SetPaused(module, paused) })
}

func (n *Node) IsPaused(module string) bool {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.IsPaused(module)
}

func (n *Node) NFTFaucet(collection, caller [20]byte) (*big.Int, error) {
	var id *big.Int
	err := n.execute(func() error {
		c, err := n.collection(collection)
		if err != nil {
			return err
		}
		id, err = c.Faucet(caller)
		return err
	})
	return id, err
}

func (n *Node) NFTApprove(collection, caller, to [20]byte, id *big.Int) error {
	return n.execute(func() error {
		c, err := n.collection(collection)
		if err != nil {
			return err
		}
		return c.Approve(caller, to, id)
	})
}

func (n *Node) NFTSetApprovalForAll(collection, caller, operator [20]byte, approved bool) error {
	return n.execute(func() error {
		c, err := n.collection(collection)
		if err != nil {
			return err
		}
		return c.SetApprovalForAll(caller, operator, approved)
	})
}

func (n *Node) NFTOwnerOf(collection [20]byte, id *big.Int) ([20]byte, error) {
	var owner [20]byte
	err := n.read(func() error {
		c, err := n.collection(collection)
		if err != nil {
			return err
		}
		owner, err = c.OwnerOf(id)
		return err
	})
	return owner, err
}

func (n *Node) TokenFaucet(tokenAddr, caller [20]byte) error {
	return n.execute(func() error {
		t, err := n.token(tokenAddr)
		if err != nil {
			return err
		}
		return t.Faucet(caller)
	})
}

func (n *Node) TokenApprove(tokenAddr, owner, spender [20]byte, amount *big.Int) error {
	return n.execute(func() error {
		t, err := n.token(tokenAddr)
		if err != nil {
			return err
		}
		return t.Approve(owner, spender, amount)
	})
}

func (n *Node) TokenBalanceOf(tokenAddr, owner [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := n.read(func() error {
		t, err := n.token(tokenAddr)
		if err != nil {
			return err
		}
		balance, err = t.BalanceOf(owner)
		return err
	})
	return balance, err
}

func (n *Node) TokenAllowance(tokenAddr, owner, spender [20]byte) (*big.Int, error) {
	var allowance *big.Int
	err := n.read(func() error {
		t, err := n.token(tokenAddr)
		if err != nil {
			return err
		}
		allowance, err = t.Allowance(owner, spender)
		return err
	})
	return allowance, err
}

// Close rejects further calls and closes the database.
func (n *Node) Close() {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.state.Discard()
	n.db.Close()
}
