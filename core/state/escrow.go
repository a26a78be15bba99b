package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"nftescrow/native/escrow"
)

func escrowStorageKey(id uint64) []byte {
	buf := make([]byte, len(escrowRecordPrefix)+8)
	copy(buf, escrowRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(escrowRecordPrefix):], id)
	return buf
}

func pauseKey(module string) []byte {
	return append(append([]byte(nil), pausePrefix...), module...)
}

type storedEscrow struct {
	ID              uint64
	AssetID         *big.Int
	Amount          *big.Int
	AssetContract   [20]byte
	PaymentContract [20]byte
	Buyer           [20]byte
	Seller          [20]byte
	Duration        uint64
	CreatedAt       uint64
	Status          uint8
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	return &storedEscrow{
		ID:              e.ID,
		AssetID:         new(big.Int).Set(e.AssetID),
		Amount:          new(big.Int).Set(e.Amount),
		AssetContract:   e.AssetContract,
		PaymentContract: e.PaymentContract,
		Buyer:           e.Buyer,
		Seller:          e.Seller,
		Duration:        e.Duration,
		CreatedAt:       uint64(e.CreatedAt),
		Status:          uint8(e.Status),
	}
}

func (s *storedEscrow) toEscrow() (*escrow.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("escrow: nil storage record")
	}
	out := &escrow.Escrow{
		ID:              s.ID,
		AssetID:         big.NewInt(0),
		Amount:          big.NewInt(0),
		AssetContract:   s.AssetContract,
		PaymentContract: s.PaymentContract,
		Buyer:           s.Buyer,
		Seller:          s.Seller,
		Duration:        s.Duration,
		CreatedAt:       int64(s.CreatedAt),
		Status:          escrow.Status(s.Status),
	}
	if s.AssetID != nil {
		out.AssetID.Set(s.AssetID)
	}
	if s.Amount != nil {
		out.Amount.Set(s.Amount)
	}
	return escrow.SanitizeEscrow(out)
}

type storedPlatform struct {
	Admin            [20]byte
	FeeBps           uint32
	Commitment       [32]byte
	BuyerEarlyCancel bool
}

// EscrowPut stores the escrow record, replacing any previous version.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	return m.KVPut(escrowStorageKey(sanitized.ID), newStoredEscrow(sanitized))
}

// EscrowGet loads the escrow record with the supplied id.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool, error) {
	var stored storedEscrow
	ok, err := m.KVGet(escrowStorageKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	rec, err := stored.toEscrow()
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// EscrowNextID returns the id the next escrow will receive.
func (m *Manager) EscrowNextID() (uint64, error) {
	current, err := m.loadBigInt(escrowNextIDKey)
	if err != nil {
		return 0, err
	}
	if !current.IsUint64() {
		return 0, fmt.Errorf("escrow: id counter overflow")
	}
	return current.Uint64(), nil
}

// EscrowSetNextID advances the id counter.
func (m *Manager) EscrowSetNextID(next uint64) error {
	return m.writeBigInt(escrowNextIDKey, new(big.Int).SetUint64(next))
}

// EscrowPlatformGet loads the platform configuration singleton.
func (m *Manager) EscrowPlatformGet() (*escrow.PlatformConfig, bool, error) {
	var stored storedPlatform
	ok, err := m.KVGet(escrowPlatformKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &escrow.PlatformConfig{
		Admin:      stored.Admin,
		FeeBps:     stored.FeeBps,
		Commitment: stored.Commitment,
		Policy:     escrow.Policy{BuyerEarlyCancel: stored.BuyerEarlyCancel},
	}, true, nil
}

// EscrowPlatformPut persists the platform configuration singleton.
func (m *Manager) EscrowPlatformPut(cfg *escrow.PlatformConfig) error {
	if cfg == nil {
		return fmt.Errorf("escrow: nil platform config")
	}
	return m.KVPut(escrowPlatformKey, &storedPlatform{
		Admin:            cfg.Admin,
		FeeBps:           cfg.FeeBps,
		Commitment:       cfg.Commitment,
		BuyerEarlyCancel: cfg.Policy.BuyerEarlyCancel,
	})
}

// SetPaused toggles the pause flag of a module.
func (m *Manager) SetPaused(module string, paused bool) error {
	if module == "" {
		return fmt.Errorf("pause: module must not be empty")
	}
	if !paused {
		return m.KVDelete(pauseKey(module))
	}
	return m.KVPut(pauseKey(module), true)
}

// IsPaused reports whether the module has been paused. Read failures are
// treated as not paused.
func (m *Manager) IsPaused(module string) bool {
	if module == "" {
		return false
	}
	var paused bool
	ok, err := m.KVGet(pauseKey(module), &paused)
	return err == nil && ok && paused
}
