package state

import (
	"math/big"
	"testing"

	"nftescrow/native/escrow"
	"nftescrow/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db), db
}

func TestKVRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)

	if err := mgr.KVPut([]byte("k"), big.NewInt(42)); err != nil {
		t.Fatalf("put: %v", err)
	}
	out := new(big.Int)
	ok, err := mgr.KVGet([]byte("k"), out)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Int64() != 42 {
		t.Fatalf("unexpected value %s", out)
	}

	if err := mgr.KVDelete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = mgr.KVGet([]byte("k"), out)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}

	if _, err := mgr.KVGet(nil, out); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestKVGetListDefaultsToEmpty(t *testing.T) {
	mgr, _ := newTestManager(t)
	var list []uint64
	if err := mgr.KVGetList([]byte("missing"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %v", list)
	}
	if err := mgr.KVGetList([]byte("missing"), list); err == nil {
		t.Fatalf("expected non-pointer destination to be rejected")
	}
}

func TestSnapshotRevert(t *testing.T) {
	mgr, _ := newTestManager(t)

	if err := mgr.KVPut([]byte("a"), uint64(1)); err != nil {
		t.Fatalf("put a: %v", err)
	}
	snap := mgr.Snapshot()
	if err := mgr.KVPut([]byte("a"), uint64(2)); err != nil {
		t.Fatalf("overwrite a: %v", err)
	}
	if err := mgr.KVPut([]byte("b"), uint64(3)); err != nil {
		t.Fatalf("put b: %v", err)
	}
	mgr.RevertToSnapshot(snap)

	var a uint64
	if ok, err := mgr.KVGet([]byte("a"), &a); err != nil || !ok || a != 1 {
		t.Fatalf("expected a=1 after revert, got %d ok=%v err=%v", a, ok, err)
	}
	if ok, _ := mgr.KVGet([]byte("b"), new(uint64)); ok {
		t.Fatalf("expected b to be reverted")
	}
	if mgr.Pending() != 1 {
		t.Fatalf("expected one pending key, got %d", mgr.Pending())
	}
}

func TestRevertRestoresDeletedCommittedValue(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.KVPut([]byte("a"), uint64(7)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	snap := mgr.Snapshot()
	if err := mgr.KVDelete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mgr.RevertToSnapshot(snap)

	var a uint64
	if ok, err := mgr.KVGet([]byte("a"), &a); err != nil || !ok || a != 7 {
		t.Fatalf("expected committed value to survive revert, got %d ok=%v err=%v", a, ok, err)
	}
}

func TestCommitFlushesToDatabase(t *testing.T) {
	mgr, db := newTestManager(t)
	if err := mgr.KVPut([]byte("a"), uint64(5)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("expected nothing written before commit")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if db.Len() != 1 {
		t.Fatalf("expected one database entry, got %d", db.Len())
	}

	reopened := NewManager(db)
	var a uint64
	if ok, err := reopened.KVGet([]byte("a"), &a); err != nil || !ok || a != 5 {
		t.Fatalf("expected committed value, got %d ok=%v err=%v", a, ok, err)
	}

	if err := mgr.KVDelete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("expected delete to reach the database")
	}
}

func TestDiscardDropsStagedWrites(t *testing.T) {
	mgr, db := newTestManager(t)
	if err := mgr.KVPut([]byte("a"), uint64(5)); err != nil {
		t.Fatalf("put: %v", err)
	}
	mgr.Discard()
	if mgr.Pending() != 0 || db.Len() != 0 {
		t.Fatalf("expected discard to clear the overlay")
	}
}

func TestEscrowRecordStorage(t *testing.T) {
	mgr, _ := newTestManager(t)

	if _, ok, err := mgr.EscrowGet(0); err != nil || ok {
		t.Fatalf("expected missing record, ok=%v err=%v", ok, err)
	}
	rec := &escrow.Escrow{
		ID:              3,
		AssetID:         big.NewInt(1),
		Amount:          big.NewInt(500),
		AssetContract:   [20]byte{1},
		PaymentContract: [20]byte{2},
		Buyer:           [20]byte{3},
		Seller:          [20]byte{4},
		Duration:        2,
		CreatedAt:       1_700_000_000,
		Status:          escrow.StatusCreated,
	}
	if err := mgr.EscrowPut(rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := mgr.EscrowGet(3)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Amount.Cmp(rec.Amount) != 0 || got.AssetID.Cmp(rec.AssetID) != 0 {
		t.Fatalf("unexpected amounts: %+v", got)
	}
	if got.Buyer != rec.Buyer || got.Seller != rec.Seller || got.CreatedAt != rec.CreatedAt || got.Duration != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}

	rec.Status = escrow.Status(9)
	if err := mgr.EscrowPut(rec); err == nil {
		t.Fatalf("expected invalid status to be rejected")
	}
}

func TestEscrowCounterAndPlatform(t *testing.T) {
	mgr, _ := newTestManager(t)

	next, err := mgr.EscrowNextID()
	if err != nil || next != 0 {
		t.Fatalf("expected counter to start at zero, got %d err=%v", next, err)
	}
	if err := mgr.EscrowSetNextID(4); err != nil {
		t.Fatalf("set counter: %v", err)
	}
	if next, _ = mgr.EscrowNextID(); next != 4 {
		t.Fatalf("expected counter 4, got %d", next)
	}

	if _, ok, err := mgr.EscrowPlatformGet(); err != nil || ok {
		t.Fatalf("expected no platform config, ok=%v err=%v", ok, err)
	}
	cfg := &escrow.PlatformConfig{
		Admin:      [20]byte{9},
		FeeBps:     20,
		Commitment: [32]byte{7},
		Policy:     escrow.Policy{BuyerEarlyCancel: true},
	}
	if err := mgr.EscrowPlatformPut(cfg); err != nil {
		t.Fatalf("put platform: %v", err)
	}
	got, ok, err := mgr.EscrowPlatformGet()
	if err != nil || !ok {
		t.Fatalf("get platform: ok=%v err=%v", ok, err)
	}
	if *got != *cfg {
		t.Fatalf("unexpected platform config: %+v", got)
	}
}

func TestPauseFlags(t *testing.T) {
	mgr, _ := newTestManager(t)
	if mgr.IsPaused("escrow") {
		t.Fatalf("expected module to start unpaused")
	}
	if err := mgr.SetPaused("escrow", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !mgr.IsPaused("escrow") {
		t.Fatalf("expected module to be paused")
	}
	if mgr.IsPaused("other") {
		t.Fatalf("pause must be scoped to the module")
	}
	if err := mgr.SetPaused("escrow", false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if mgr.IsPaused("escrow") {
		t.Fatalf("expected module to be unpaused")
	}
	if err := mgr.SetPaused("", true); err == nil {
		t.Fatalf("expected empty module name to be rejected")
	}
}
