package escrow

import (
	"log/slog"
	"math"
	"math/big"
	"time"

	"nftescrow/core/events"
	"nftescrow/crypto"
	"nftescrow/native/common"
	"nftescrow/native/fees"
)

// ModuleName identifies the escrow module for pause controls and address
// derivation.
const ModuleName = "escrow"

// DefaultDurationUnit is the length of one unit of an escrow's duration.
const DefaultDurationUnit = 24 * time.Hour

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool, error)
	EscrowNextID() (uint64, error)
	EscrowSetNextID(next uint64) error
	EscrowPlatformGet() (*PlatformConfig, bool, error)
	EscrowPlatformPut(*PlatformConfig) error
	Snapshot() int
	RevertToSnapshot(id int)
	IsPaused(module string) bool
}

// AssetCustody is the non-fungible leg of an escrow. The operator is the
// account invoking the adapter, i.e. the engine itself.
type AssetCustody interface {
	OwnerOf(assetID *big.Int) ([20]byte, error)
	TransferFrom(operator, from, to [20]byte, assetID *big.Int) error
}

// Payment is the fungible leg of an escrow. TransferFrom requires the owner to
// have authorised the spender beforehand.
type Payment interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
}

// Contracts resolves the contract addresses named by an escrow record.
type Contracts interface {
	AssetContract(addr [20]byte) (AssetCustody, bool)
	PaymentContract(addr [20]byte) (Payment, bool)
}

// Engine owns the escrow registry and platform configuration. It pulls custody
// of an asset at creation, swaps it for payment at settlement and returns it on
// cancellation. Every mutating entry point is all-or-nothing: state written
// before a failure, adapter ledgers included, is reverted to the snapshot taken
// on entry, and events are only emitted once the call has succeeded.
type Engine struct {
	state     engineState
	contracts Contracts
	emitter   events.Emitter
	logger    *slog.Logger
	nowFn     func() int64
	unit      time.Duration
	address   [20]byte
	guard     common.ReentrancyGuard
}

// NewEngine creates an escrow engine with a no-op emitter. Callers wire state
// and contracts through the setters before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
		unit:    DefaultDurationUnit,
		address: crypto.ModuleAddress(ModuleName),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetContracts configures the resolver for asset and payment contracts.
func (e *Engine) SetContracts(contracts Contracts) { e.contracts = contracts }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetDurationUnit sets the wall-clock length of one duration unit.
func (e *Engine) SetDurationUnit(unit time.Duration) {
	if unit < time.Second {
		unit = DefaultDurationUnit
	}
	e.unit = unit
}

// DurationUnit returns the configured duration unit.
func (e *Engine) DurationUnit() time.Duration { return e.unit }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// Address returns the account that holds custodied assets.
func (e *Engine) Address() [20]byte { return e.address }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Expiry returns the unix time at which the escrow's duration elapses. An
// expiry beyond the int64 range saturates at math.MaxInt64.
func (e *Engine) Expiry(esc *Escrow) int64 {
	if esc == nil {
		return 0
	}
	unit := int64(e.unit / time.Second)
	if unit <= 0 {
		unit = 1
	}
	headroom := int64(math.MaxInt64)
	if esc.CreatedAt > 0 {
		headroom -= esc.CreatedAt
	}
	if esc.Duration > uint64(headroom/unit) {
		return math.MaxInt64
	}
	return esc.CreatedAt + int64(esc.Duration)*unit
}

func (e *Engine) elapsed(esc *Escrow) bool {
	return e.now() >= e.Expiry(esc)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// atomic runs fn as one indivisible call: the re-entrancy guard is held for
// its duration, state is reverted if it fails and buffered events are only
// forwarded on success.
func (e *Engine) atomic(op string, fn func(buf *events.Buffer) error) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, guardErr := e.guard.Enter()
	if guardErr != nil {
		e.logger.Info("escrow call rejected", slog.String("op", op), slog.String("reason", ReasonReentrantCall))
		return &Error{Class: ErrInvalidState, Reason: ReasonReentrantCall, Err: guardErr}
	}
	defer release()

	snapshot := e.state.Snapshot()
	buf := &events.Buffer{}
	if err := fn(buf); err != nil {
		e.state.RevertToSnapshot(snapshot)
		buf.Discard()
		e.logger.Info("escrow call rejected", slog.String("op", op), slog.String("reason", Reason(err)))
		return err
	}
	buf.Flush(e.emitter)
	return nil
}

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(ErrNotFound, ReasonNotFound)
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

func (e *Engine) loadPlatform() (*PlatformConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, ok, err := e.state.EscrowPlatformGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

func validateFee(bps uint32) error {
	if bps == 0 {
		return newError(ErrInvalidFee, ReasonFeeZero)
	}
	if fees.ValidateBps(bps) != nil {
		return newError(ErrInvalidFee, ReasonFeeTooHigh)
	}
	return nil
}

// Initialize binds the platform administrator, initial fee, configuration
// commitment and cancellation policy. It may only run once per state.
func (e *Engine) Initialize(admin [20]byte, feeBps uint32, commitment [32]byte, policy Policy) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if crypto.IsZero(admin) {
		return partyError("admin", ReasonNewOwnerZero)
	}
	if err := validateFee(feeBps); err != nil {
		return err
	}
	return e.atomic("initialize", func(_ *events.Buffer) error {
		if _, ok, err := e.state.EscrowPlatformGet(); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}
		return e.state.EscrowPlatformPut(&PlatformConfig{
			Admin:      admin,
			FeeBps:     feeBps,
			Commitment: commitment,
			Policy:     policy,
		})
	})
}

// ValidateParties runs the first two creation checks: a non-zero payment
// contract, then a non-zero buyer.
func ValidateParties(paymentContract, buyer [20]byte) error {
	if crypto.IsZero(paymentContract) {
		return partyError("paymentContract", ReasonInvalidPaymentAddress)
	}
	if crypto.IsZero(buyer) {
		return partyError("buyer", ReasonInvalidBuyerAddress)
	}
	return nil
}

// Create pulls assetID out of the caller's control into engine custody and
// records a new agreement with the buyer. It returns the new escrow id. On any
// failure no record is stored and no id is consumed.
func (e *Engine) Create(caller [20]byte, assetID, amount *big.Int, assetContract, paymentContract, buyer [20]byte, duration uint64) (uint64, error) {
	var id uint64
	err := e.atomic("create", func(buf *events.Buffer) error {
		if err := common.Guard(e.state, ModuleName); err != nil {
			return &Error{Class: ErrInvalidState, Reason: ReasonPaused, Err: err}
		}
		if err := ValidateParties(paymentContract, buyer); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return newError(ErrInvalidAmount, ReasonInvalidAmount)
		}
		if duration == 0 {
			return newError(ErrInvalidDuration, ReasonInvalidDuration)
		}
		if assetID == nil || assetID.Sign() < 0 {
			return &Error{Class: ErrInvalidAsset, Reason: ReasonInvalidAssetContract, Field: "assetId"}
		}
		if e.contracts == nil {
			return errNilContracts
		}
		if _, err := e.loadPlatform(); err != nil {
			return err
		}
		asset, ok := e.contracts.AssetContract(assetContract)
		if !ok {
			return &Error{Class: ErrInvalidAsset, Reason: ReasonInvalidAssetContract, Field: "assetContract"}
		}
		if err := asset.TransferFrom(e.address, caller, e.address, assetID); err != nil {
			return assetError(err)
		}

		next, err := e.state.EscrowNextID()
		if err != nil {
			return err
		}
		esc := &Escrow{
			ID:              next,
			AssetID:         cloneBigInt(assetID),
			Amount:          cloneBigInt(amount),
			AssetContract:   assetContract,
			PaymentContract: paymentContract,
			Buyer:           buyer,
			Seller:          caller,
			Duration:        duration,
			CreatedAt:       e.now(),
			Status:          StatusCreated,
		}
		if err := e.storeEscrow(esc); err != nil {
			return err
		}
		if err := e.state.EscrowSetNextID(next + 1); err != nil {
			return err
		}
		id = next
		buf.Emit(Created{Escrow: esc.Clone()})
		e.logger.Debug("escrow created",
			slog.Uint64("id", esc.ID),
			slog.String("seller", crypto.FormatAddress(caller)),
			slog.String("buyer", crypto.FormatAddress(buyer)),
			slog.String("assetId", esc.AssetID.String()),
			slog.String("amount", esc.Amount.String()))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Settle completes an escrow on behalf of its buyer: the payment is pulled
// from the buyer, the platform fee routed to the administrator, the remainder
// to the seller and the asset released to the buyer. The record is marked
// Completed before any adapter is called so a re-entrant call observes a
// terminal record.
func (e *Engine) Settle(caller [20]byte, id uint64) error {
	return e.atomic("settle", func(buf *events.Buffer) error {
		if err := common.Guard(e.state, ModuleName); err != nil {
			return &Error{Class: ErrInvalidState, Reason: ReasonPaused, Err: err}
		}
		esc, err := e.loadEscrow(id)
		if err != nil {
			return err
		}
		if esc.Status != StatusCreated {
			return newError(ErrInvalidState, ReasonNotActive)
		}
		if caller != esc.Buyer {
			return newError(ErrUnauthorized, ReasonNotBuyer)
		}
		if e.elapsed(esc) {
			return newError(ErrInvalidState, ReasonDurationElapsed)
		}
		if e.contracts == nil {
			return errNilContracts
		}
		payment, ok := e.contracts.PaymentContract(esc.PaymentContract)
		if !ok {
			return partyError("paymentContract", ReasonInvalidPaymentAddress)
		}
		asset, ok := e.contracts.AssetContract(esc.AssetContract)
		if !ok {
			return &Error{Class: ErrInvalidAsset, Reason: ReasonInvalidAssetContract, Field: "assetContract"}
		}
		platform, err := e.loadPlatform()
		if err != nil {
			return err
		}
		split := fees.Split(esc.Amount, platform.FeeBps)

		esc.Status = StatusCompleted
		if err := e.storeEscrow(esc); err != nil {
			return err
		}

		if err := payment.TransferFrom(e.address, esc.Buyer, e.address, esc.Amount); err != nil {
			return err
		}
		if split.Fee.Sign() > 0 {
			if err := payment.Transfer(e.address, platform.Admin, split.Fee); err != nil {
				return err
			}
		}
		if split.Net.Sign() > 0 {
			if err := payment.Transfer(e.address, esc.Seller, split.Net); err != nil {
				return err
			}
		}
		if err := asset.TransferFrom(e.address, e.address, esc.Buyer, esc.AssetID); err != nil {
			return err
		}

		buf.Emit(Completed{
			ID:     esc.ID,
			Buyer:  esc.Buyer,
			Seller: esc.Seller,
			Amount: cloneBigInt(esc.Amount),
			Fee:    split.Fee,
			Net:    split.Net,
		})
		e.logger.Debug("escrow completed",
			slog.Uint64("id", esc.ID),
			slog.String("fee", split.Fee.String()),
			slog.String("net", split.Net.String()))
		return nil
	})
}

// Cancel returns the custodied asset to the seller. The seller may cancel once
// the duration has elapsed; the buyer may cancel at any time when the platform
// policy allows it.
func (e *Engine) Cancel(caller [20]byte, id uint64) error {
	return e.atomic("cancel", func(buf *events.Buffer) error {
		esc, err := e.loadEscrow(id)
		if err != nil {
			return err
		}
		if esc.Status != StatusCreated {
			return newError(ErrInvalidState, ReasonNotActive)
		}
		platform, err := e.loadPlatform()
		if err != nil {
			return err
		}
		switch {
		case caller == esc.Seller:
			if !e.elapsed(esc) {
				return newError(ErrInvalidState, ReasonDurationNotElapsed)
			}
		case caller == esc.Buyer && platform.Policy.BuyerEarlyCancel:
		default:
			return newError(ErrUnauthorized, ReasonNotSeller)
		}
		if e.contracts == nil {
			return errNilContracts
		}
		asset, ok := e.contracts.AssetContract(esc.AssetContract)
		if !ok {
			return &Error{Class: ErrInvalidAsset, Reason: ReasonInvalidAssetContract, Field: "assetContract"}
		}

		esc.Status = StatusCancelled
		if err := e.storeEscrow(esc); err != nil {
			return err
		}
		if err := asset.TransferFrom(e.address, e.address, esc.Seller, esc.AssetID); err != nil {
			return err
		}

		buf.Emit(Cancelled{ID: esc.ID, Seller: esc.Seller, By: caller})
		e.logger.Debug("escrow cancelled", slog.Uint64("id", esc.ID), slog.String("by", crypto.FormatAddress(caller)))
		return nil
	})
}

// UpdateFeePlatform replaces the platform fee rate. Only the administrator may
// call it. The new rate applies to settlements from now on.
func (e *Engine) UpdateFeePlatform(caller [20]byte, feeBps uint32) error {
	return e.atomic("update_fee", func(buf *events.Buffer) error {
		platform, err := e.loadPlatform()
		if err != nil {
			return err
		}
		if caller != platform.Admin {
			return newError(ErrUnauthorized, ReasonNotOwner)
		}
		if err := validateFee(feeBps); err != nil {
			return err
		}
		old := platform.FeeBps
		platform.FeeBps = feeBps
		if err := e.state.EscrowPlatformPut(platform); err != nil {
			return err
		}
		buf.Emit(FeeUpdated{OldFee: old, NewFee: feeBps})
		return nil
	})
}

// TransferAdmin hands platform administration to another account.
func (e *Engine) TransferAdmin(caller, next [20]byte) error {
	return e.atomic("transfer_admin", func(buf *events.Buffer) error {
		platform, err := e.loadPlatform()
		if err != nil {
			return err
		}
		if caller != platform.Admin {
			return newError(ErrUnauthorized, ReasonNotOwner)
		}
		if crypto.IsZero(next) {
			return partyError("admin", ReasonNewOwnerZero)
		}
		previous := platform.Admin
		platform.Admin = next
		if err := e.state.EscrowPlatformPut(platform); err != nil {
			return err
		}
		buf.Emit(AdminTransferred{Previous: previous, Next: next})
		return nil
	})
}

// Get returns a snapshot of the escrow record.
func (e *Engine) Get(id uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// Platform returns a copy of the platform configuration.
func (e *Engine) Platform() (*PlatformConfig, error) {
	cfg, err := e.loadPlatform()
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// PlatformFee returns the current fee rate in basis points.
func (e *Engine) PlatformFee() (uint32, error) {
	cfg, err := e.loadPlatform()
	if err != nil {
		return 0, err
	}
	return cfg.FeeBps, nil
}

// Admin returns the platform administrator.
func (e *Engine) Admin() ([20]byte, error) {
	cfg, err := e.loadPlatform()
	if err != nil {
		return [20]byte{}, err
	}
	return cfg.Admin, nil
}

// Commitment returns the configuration commitment bound at initialisation.
func (e *Engine) Commitment() ([32]byte, error) {
	cfg, err := e.loadPlatform()
	if err != nil {
		return [32]byte{}, err
	}
	return cfg.Commitment, nil
}

// NextID returns the id the next successful Create will be assigned.
func (e *Engine) NextID() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.EscrowNextID()
}
