package escrow

import (
	"fmt"
	"math/big"
)

// Status represents the lifecycle states of an escrow record.
type Status uint8

const (
	StatusCreated Status = iota
	StatusCompleted
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Escrow is the durable record of one seller/buyer agreement. Every field but
// Status is immutable once the record has been created.
type Escrow struct {
	ID              uint64
	AssetID         *big.Int
	Amount          *big.Int
	AssetContract   [20]byte
	PaymentContract [20]byte
	Buyer           [20]byte
	Seller          [20]byte
	Duration        uint64
	CreatedAt       int64
	Status          Status
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.AssetID = cloneBigInt(e.AssetID)
	clone.Amount = cloneBigInt(e.Amount)
	return &clone
}

// SanitizeEscrow validates the supplied record and returns a clone with non-nil
// numeric fields. The function does not mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if clone.AssetID.Sign() < 0 {
		return nil, fmt.Errorf("escrow asset id must be non-negative")
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amount must be non-negative")
	}
	if clone.CreatedAt < 0 {
		return nil, fmt.Errorf("escrow creation time must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	return clone, nil
}

// Policy captures the cancellation rules fixed at initialisation.
type Policy struct {
	// BuyerEarlyCancel lets the buyer walk away from an agreement before the
	// duration elapses, returning the asset to the seller.
	BuyerEarlyCancel bool
}

// PlatformConfig is the engine-wide singleton configuration.
type PlatformConfig struct {
	Admin      [20]byte
	FeeBps     uint32
	Commitment [32]byte
	Policy     Policy
}

// Clone returns a copy of the configuration.
func (p *PlatformConfig) Clone() *PlatformConfig {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
