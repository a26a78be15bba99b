package modules

import (
	"context"
	"encoding/json"
	"strings"

	"nftescrow/core"
	"nftescrow/crypto"
	"nftescrow/indexer"
	"nftescrow/native/escrow"
)

// EventLister is the indexer query used by escrow_listEvents.
type EventLister interface {
	List(ctx context.Context, filter indexer.Filter) ([]indexer.Record, error)
}

// EscrowModule serves the escrow_* JSON-RPC namespace.
type EscrowModule struct {
	node   *core.Node
	events EventLister
}

// NewEscrowModule constructs the escrow RPC module. events may be nil, in which
// case escrow_listEvents reports the indexer as unavailable.
func NewEscrowModule(node *core.Node, events EventLister) *EscrowModule {
	return &EscrowModule{node: node, events: events}
}

type createParams struct {
	AssetID         string `json:"assetId"`
	Amount          string `json:"amount"`
	AssetContract   string `json:"assetContract"`
	PaymentContract string `json:"paymentContract"`
	Buyer           string `json:"buyer"`
	Duration        uint64 `json:"duration"`
}

type idParams struct {
	ID *uint64 `json:"id"`
}

type updateFeeParams struct {
	FeeBps *uint32 `json:"feeBps"`
}

type transferAdminParams struct {
	Admin string `json:"admin"`
}

type listEventsParams struct {
	Type     string  `json:"type,omitempty"`
	EscrowID *uint64 `json:"escrowId,omitempty"`
	Account  string  `json:"account,omitempty"`
	After    uint64  `json:"after,omitempty"`
	Limit    int     `json:"limit,omitempty"`
}

// CreateResult carries the identifier allocated to a new escrow.
type CreateResult struct {
	ID uint64 `json:"id"`
}

// StatusResult reports the status an escrow transitioned to.
type StatusResult struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
}

// EscrowResult is the wire form of an escrow record.
type EscrowResult struct {
	ID              uint64 `json:"id"`
	AssetID         string `json:"assetId"`
	Amount          string `json:"amount"`
	AssetContract   string `json:"assetContract"`
	PaymentContract string `json:"paymentContract"`
	Buyer           string `json:"buyer"`
	Seller          string `json:"seller"`
	Duration        uint64 `json:"duration"`
	CreatedAt       int64  `json:"createdAt"`
	ExpiresAt       int64  `json:"expiresAt"`
	Status          string `json:"status"`
}

// PlatformResult is the wire form of the platform configuration.
type PlatformResult struct {
	Admin            string `json:"admin"`
	FeeBps           uint32 `json:"feeBps"`
	Commitment       string `json:"commitment"`
	BuyerEarlyCancel bool   `json:"buyerEarlyCancel"`
	Paused           bool   `json:"paused"`
	NextID           uint64 `json:"nextId"`
}

// Create lists an asset for sale on behalf of caller, who becomes the seller.
func (m *EscrowModule) Create(caller [20]byte, raw json.RawMessage) (*CreateResult, *ModuleError) {
	var params createParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	// Party checks run first, in the engine's order. Missing values reach the
	// engine as zero or nil and are rejected there.
	paymentContract, modErr := parseOptionalAddress("paymentContract", params.PaymentContract)
	if modErr != nil {
		return nil, modErr
	}
	buyer, modErr := parseOptionalAddress("buyer", params.Buyer)
	if modErr != nil {
		return nil, modErr
	}
	if err := escrow.ValidateParties(paymentContract, buyer); err != nil {
		return nil, FromError(err)
	}
	amount, modErr := parseOptionalAmount("amount", params.Amount)
	if modErr != nil {
		return nil, modErr
	}
	assetID, modErr := parseOptionalAmount("assetId", params.AssetID)
	if modErr != nil {
		return nil, modErr
	}
	assetContract, modErr := parseOptionalAddress("assetContract", params.AssetContract)
	if modErr != nil {
		return nil, modErr
	}
	id, err := m.node.EscrowCreate(caller, assetID, amount, assetContract, paymentContract, buyer, params.Duration)
	if err != nil {
		return nil, FromError(err)
	}
	return &CreateResult{ID: id}, nil
}

// Settle pays for and releases the asset of an escrow. Only the buyer may call
// it.
func (m *EscrowModule) Settle(caller [20]byte, raw json.RawMessage) (*StatusResult, *ModuleError) {
	id, modErr := decodeID(raw)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.EscrowSettle(caller, id); err != nil {
		return nil, FromError(err)
	}
	return &StatusResult{ID: id, Status: escrow.StatusCompleted.String()}, nil
}

// Cancel returns the custodied asset to the seller.
func (m *EscrowModule) Cancel(caller [20]byte, raw json.RawMessage) (*StatusResult, *ModuleError) {
	id, modErr := decodeID(raw)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.EscrowCancel(caller, id); err != nil {
		return nil, FromError(err)
	}
	return &StatusResult{ID: id, Status: escrow.StatusCancelled.String()}, nil
}

func (m *EscrowModule) Get(raw json.RawMessage) (*EscrowResult, *ModuleError) {
	id, modErr := decodeID(raw)
	if modErr != nil {
		return nil, modErr
	}
	esc, err := m.node.EscrowGet(id)
	if err != nil {
		return nil, FromError(err)
	}
	return m.formatEscrow(esc), nil
}

func (m *EscrowModule) Platform() (*PlatformResult, *ModuleError) {
	platform, err := m.node.EscrowPlatform()
	if err != nil {
		return nil, FromError(err)
	}
	next, err := m.node.EscrowNextID()
	if err != nil {
		return nil, FromError(err)
	}
	return &PlatformResult{
		Admin:            crypto.FormatAddress(platform.Admin),
		FeeBps:           platform.FeeBps,
		Commitment:       escrow.CommitmentHex(platform.Commitment),
		BuyerEarlyCancel: platform.Policy.BuyerEarlyCancel,
		Paused:           m.node.IsPaused(escrow.ModuleName),
		NextID:           next,
	}, nil
}

func (m *EscrowModule) UpdateFee(caller [20]byte, raw json.RawMessage) (*PlatformResult, *ModuleError) {
	var params updateFeeParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	if params.FeeBps == nil {
		return nil, invalidParams("feeBps required")
	}
	if err := m.node.EscrowUpdateFee(caller, *params.FeeBps); err != nil {
		return nil, FromError(err)
	}
	return m.Platform()
}

func (m *EscrowModule) TransferAdmin(caller [20]byte, raw json.RawMessage) (*PlatformResult, *ModuleError) {
	var params transferAdminParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	next, modErr := parseAddress("admin", params.Admin)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.EscrowTransferAdmin(caller, next); err != nil {
		return nil, FromError(err)
	}
	return m.Platform()
}

// ListEvents returns indexed events in sequence order. The parameter object is
// optional.
func (m *EscrowModule) ListEvents(ctx context.Context, raw json.RawMessage) ([]indexer.Record, *ModuleError) {
	if m.events == nil {
		return nil, internalError("event indexer unavailable")
	}
	var params listEventsParams
	if len(raw) > 0 && strings.TrimSpace(string(raw)) != "null" {
		if modErr := decodeParams(raw, &params); modErr != nil {
			return nil, modErr
		}
	}
	if params.Limit < 0 {
		return nil, invalidParams("limit must be non-negative")
	}
	account := strings.TrimSpace(params.Account)
	if account != "" {
		addr, modErr := parseAddress("account", account)
		if modErr != nil {
			return nil, modErr
		}
		account = crypto.FormatAddress(addr)
	}
	records, err := m.events.List(ctx, indexer.Filter{
		Type:     strings.TrimSpace(params.Type),
		EscrowID: params.EscrowID,
		Account:  account,
		After:    params.After,
		Limit:    params.Limit,
	})
	if err != nil {
		return nil, internalError(err.Error())
	}
	return records, nil
}

func (m *EscrowModule) formatEscrow(esc *escrow.Escrow) *EscrowResult {
	return &EscrowResult{
		ID:              esc.ID,
		AssetID:         esc.AssetID.String(),
		Amount:          esc.Amount.String(),
		AssetContract:   crypto.FormatAddress(esc.AssetContract),
		PaymentContract: crypto.FormatAddress(esc.PaymentContract),
		Buyer:           crypto.FormatAddress(esc.Buyer),
		Seller:          crypto.FormatAddress(esc.Seller),
		Duration:        esc.Duration,
		CreatedAt:       esc.CreatedAt,
		ExpiresAt:       m.node.EscrowExpiry(esc),
		Status:          esc.Status.String(),
	}
}

func decodeID(raw json.RawMessage) (uint64, *ModuleError) {
	var params idParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return 0, modErr
	}
	if params.ID == nil {
		return 0, invalidParams("id required")
	}
	return *params.ID, nil
}
