package core

import (
	"sort"
	"sync"

	"nftescrow/native/escrow"
)

// Directory resolves contract addresses to the adapters registered with the
// node. It implements escrow.Contracts.
type Directory struct {
	mu       sync.RWMutex
	assets   map[[20]byte]escrow.AssetCustody
	payments map[[20]byte]escrow.Payment
}

func NewDirectory() *Directory {
	return &Directory{
		assets:   make(map[[20]byte]escrow.AssetCustody),
		payments: make(map[[20]byte]escrow.Payment),
	}
}

// RegisterAsset binds addr to an asset custody adapter, replacing any previous
// binding.
func (d *Directory) RegisterAsset(addr [20]byte, asset escrow.AssetCustody) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if asset == nil {
		delete(d.assets, addr)
		return
	}
	d.assets[addr] = asset
}

// RegisterPayment binds addr to a payment adapter, replacing any previous
// binding.
func (d *Directory) RegisterPayment(addr [20]byte, payment escrow.Payment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if payment == nil {
		delete(d.payments, addr)
		return
	}
	d.payments[addr] = payment
}

func (d *Directory) AssetContract(addr [20]byte) (escrow.AssetCustody, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	asset, ok := d.assets[addr]
	return asset, ok
}

func (d *Directory) PaymentContract(addr [20]byte) (escrow.Payment, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	payment, ok := d.payments[addr]
	return payment, ok
}

// AssetAddresses lists the registered asset contracts in byte order.
func (d *Directory) AssetAddresses() [][20]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.assets)
}

// PaymentAddresses lists the registered payment contracts in byte order.
func (d *Directory) PaymentAddresses() [][20]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.payments)
}

func sortedKeys[V any](m map[[20]byte]V) [][20]byte {
	out := make([][20]byte, 0, len(m))
	for addr := range m {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}
