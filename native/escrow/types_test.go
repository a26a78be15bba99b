package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	if StatusCreated.Terminal() {
		t.Fatalf("created must not be terminal")
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if !s.Terminal() || !s.Valid() {
			t.Fatalf("%s should be a valid terminal status", s)
		}
	}
	if Status(3).Valid() {
		t.Fatalf("status 3 should be invalid")
	}
	if got := Status(3).String(); got != "unknown" {
		t.Fatalf("status 3 renders as %q", got)
	}
}

func TestSanitizeEscrow(t *testing.T) {
	if _, err := SanitizeEscrow(nil); err == nil {
		t.Fatalf("expected nil escrow to fail")
	}
	clean, err := SanitizeEscrow(&Escrow{ID: 1})
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean.Amount == nil || clean.AssetID == nil {
		t.Fatalf("expected numeric fields to be populated")
	}
	if _, err := SanitizeEscrow(&Escrow{Amount: big.NewInt(-1)}); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
	if _, err := SanitizeEscrow(&Escrow{Status: Status(7)}); err == nil {
		t.Fatalf("expected invalid status to fail")
	}
}

func TestPlatformConfigClone(t *testing.T) {
	cfg := &PlatformConfig{FeeBps: 20}
	clone := cfg.Clone()
	clone.FeeBps = 30
	if cfg.FeeBps != 20 {
		t.Fatalf("clone must not alias the original")
	}
	if (*PlatformConfig)(nil).Clone() != nil {
		t.Fatalf("nil clone should be nil")
	}
}

func TestErrorClassification(t *testing.T) {
	adapterErr := errors.New("ERC721: invalid token ID")
	err := fmt.Errorf("wrapped: %w", assetError(adapterErr))
	if !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected InvalidAsset class")
	}
	if !errors.Is(err, adapterErr) {
		t.Fatalf("expected adapter error to stay reachable")
	}
	if errors.Is(err, ErrInvalidState) {
		t.Fatalf("unexpected class match")
	}
	if Reason(err) != "ERC721: invalid token ID" {
		t.Fatalf("unexpected reason %q", Reason(err))
	}
	if Class(err) != ErrInvalidAsset {
		t.Fatalf("unexpected class %v", Class(err))
	}
	if Reason(nil) != "" || Class(errors.New("x")) != nil {
		t.Fatalf("unexpected classification of foreign errors")
	}
	party := partyError("buyer", ReasonInvalidBuyerAddress)
	if party.Field != "buyer" || !errors.Is(party, ErrInvalidParty) {
		t.Fatalf("unexpected party error %+v", party)
	}
}
