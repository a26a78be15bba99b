package common

import (
	"errors"
	"sync/atomic"
)

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard rejects nested or concurrent entry into a module. The zero
// value is ready to use.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter marks the guard as held. The returned release function must be
// deferred by the caller; calling it more than once is harmless.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if !g.entered.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			g.entered.Store(false)
		}
	}, nil
}

// Held reports whether a caller is currently inside the guarded section.
func (g *ReentrancyGuard) Held() bool {
	return g.entered.Load()
}
