package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"nftescrow/core/types"
	"nftescrow/crypto"
)

const (
	EventTypeEscrowCreated    = "escrow.created"
	EventTypeEscrowCompleted  = "escrow.completed"
	EventTypeEscrowCancelled  = "escrow.cancelled"
	EventTypeFeeUpdated       = "escrow.fee_updated"
	EventTypeAdminTransferred = "escrow.admin_transferred"
)

// Created is emitted once an asset has been pulled into custody and the record
// stored.
type Created struct {
	Escrow *Escrow
}

func (Created) EventType() string { return EventTypeEscrowCreated }

func (e Created) Event() *types.Event {
	attrs := map[string]string{}
	esc := e.Escrow
	if esc == nil {
		return &types.Event{Type: EventTypeEscrowCreated, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(esc.ID, 10)
	attrs["seller"] = crypto.FormatAddress(esc.Seller)
	attrs["buyer"] = crypto.FormatAddress(esc.Buyer)
	attrs["assetId"] = formatAmount(esc.AssetID)
	attrs["assetContract"] = crypto.FormatAddress(esc.AssetContract)
	attrs["paymentContract"] = crypto.FormatAddress(esc.PaymentContract)
	attrs["amount"] = formatAmount(esc.Amount)
	attrs["duration"] = strconv.FormatUint(esc.Duration, 10)
	attrs["createdAt"] = strconv.FormatInt(esc.CreatedAt, 10)
	return &types.Event{Type: EventTypeEscrowCreated, Attributes: attrs}
}

// Completed is emitted when the buyer settles and the swap has happened.
type Completed struct {
	ID     uint64
	Buyer  [20]byte
	Seller [20]byte
	Amount *big.Int
	Fee    *big.Int
	Net    *big.Int
}

func (Completed) EventType() string { return EventTypeEscrowCompleted }

func (e Completed) Event() *types.Event {
	return &types.Event{
		Type: EventTypeEscrowCompleted,
		Attributes: map[string]string{
			"id":     strconv.FormatUint(e.ID, 10),
			"buyer":  crypto.FormatAddress(e.Buyer),
			"seller": crypto.FormatAddress(e.Seller),
			"amount": formatAmount(e.Amount),
			"fee":    formatAmount(e.Fee),
			"net":    formatAmount(e.Net),
		},
	}
}

// Cancelled is emitted when the asset has been returned to the seller.
type Cancelled struct {
	ID     uint64
	Seller [20]byte
	By     [20]byte
}

func (Cancelled) EventType() string { return EventTypeEscrowCancelled }

func (e Cancelled) Event() *types.Event {
	return &types.Event{
		Type: EventTypeEscrowCancelled,
		Attributes: map[string]string{
			"id":     strconv.FormatUint(e.ID, 10),
			"seller": crypto.FormatAddress(e.Seller),
			"by":     crypto.FormatAddress(e.By),
		},
	}
}

// FeeUpdated records a platform fee change.
type FeeUpdated struct {
	OldFee uint32
	NewFee uint32
}

func (FeeUpdated) EventType() string { return EventTypeFeeUpdated }

func (e FeeUpdated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeFeeUpdated,
		Attributes: map[string]string{
			"oldFee": strconv.FormatUint(uint64(e.OldFee), 10),
			"newFee": strconv.FormatUint(uint64(e.NewFee), 10),
		},
	}
}

// AdminTransferred records a change of platform administrator.
type AdminTransferred struct {
	Previous [20]byte
	Next     [20]byte
}

func (AdminTransferred) EventType() string { return EventTypeAdminTransferred }

func (e AdminTransferred) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAdminTransferred,
		Attributes: map[string]string{
			"previous": crypto.FormatAddress(e.Previous),
			"next":     crypto.FormatAddress(e.Next),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// CommitmentHex renders the platform commitment for display.
func CommitmentHex(c [32]byte) string {
	return "0x" + hex.EncodeToString(c[:])
}
