package core

import (
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"nftescrow/core/events"
	"nftescrow/crypto"
	"nftescrow/native/escrow"
	"nftescrow/native/token"
	"nftescrow/storage"
)

var (
	testAdmin  = crypto.AddressFromSeed("admin")
	testSeller = crypto.AddressFromSeed("seller")
	testBuyer  = crypto.AddressFromSeed("buyer")
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func testOptions(now *int64) Options {
	return Options{
		Admin:      testAdmin,
		FeeBps:     20,
		Commitment: crypto.Commitment("yafiabiyyu"),
		Now:        func() int64 { return *now },
	}
}

type nodeFixture struct {
	node       *Node
	rec        *recorder
	collection [20]byte
	token      [20]byte
	now        int64
}

func newNodeFixture(t *testing.T, db storage.Database) *nodeFixture {
	t.Helper()
	f := &nodeFixture{rec: &recorder{}, now: 1_700_000_000}
	node, err := NewNode(db, testOptions(&f.now))
	require.NoError(t, err)
	node.SetEmitter(f.rec)
	f.node = node
	f.collection = node.RegisterCollection("faucet", "FCT").Address()
	f.token = node.RegisterToken("faucet", "FTK").Address()
	return f
}

func (f *nodeFixture) listAsset(t *testing.T) (uint64, *big.Int) {
	t.Helper()
	assetID, err := f.node.NFTFaucet(f.collection, testSeller)
	require.NoError(t, err)
	require.NoError(t, f.node.NFTApprove(f.collection, testSeller, f.node.EngineAddress(), assetID))
	amount := big.NewInt(500_000)
	id, err := f.node.EscrowCreate(testSeller, assetID, amount, f.collection, f.token, testBuyer, 2)
	require.NoError(t, err)
	return id, assetID
}

func TestNodeInitialisesPlatform(t *testing.T) {
	f := newNodeFixture(t, storage.NewMemDB())
	defer f.node.Close()

	platform, err := f.node.EscrowPlatform()
	require.NoError(t, err)
	require.Equal(t, testAdmin, platform.Admin)
	require.Equal(t, uint32(20), platform.FeeBps)
	require.Equal(t, crypto.Commitment("yafiabiyyu"), platform.Commitment)
	require.False(t, f.node.IsPaused(escrow.ModuleName))

	_, err = NewNode(storage.NewMemDB(), Options{Admin: testAdmin})
	require.ErrorIs(t, err, escrow.ErrInvalidFee)
}

func TestNodePublishesOnlyCommittedEvents(t *testing.T) {
	f := newNodeFixture(t, storage.NewMemDB())
	defer f.node.Close()

	id, _ := f.listAsset(t)
	require.Contains(t, f.rec.types(), escrow.EventTypeEscrowCreated)
	f.rec.reset()

	require.NoError(t, f.node.TokenFaucet(f.token, testBuyer))
	f.rec.reset()

	// No allowance: the payment pull fails and the whole call is discarded.
	err := f.node.EscrowSettle(testBuyer, id)
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)
	require.Empty(t, f.rec.types())

	esc, err := f.node.EscrowGet(id)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCreated, esc.Status)

	require.NoError(t, f.node.TokenApprove(f.token, testBuyer, f.node.EngineAddress(), esc.Amount))
	f.rec.reset()
	require.NoError(t, f.node.EscrowSettle(testBuyer, id))
	types := f.rec.types()
	require.Equal(t, escrow.EventTypeEscrowCompleted, types[len(types)-1])
	require.Contains(t, types, token.EventTypeTransfer)

	owner, err := f.node.NFTOwnerOf(f.collection, esc.AssetID)
	require.NoError(t, err)
	require.Equal(t, testBuyer, owner)

	fee, err := f.node.TokenBalanceOf(f.token, testAdmin)
	require.NoError(t, err)
	require.Equal(t, int64(1000), fee.Int64())
	net, err := f.node.TokenBalanceOf(f.token, testSeller)
	require.NoError(t, err)
	require.Equal(t, int64(499_000), net.Int64())
}

func TestNodePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.db")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	f := newNodeFixture(t, db)
	id, assetID := f.listAsset(t)
	require.NoError(t, f.node.EscrowUpdateFee(testAdmin, 30))
	f.node.Close()

	_, err = f.node.EscrowGet(id)
	require.ErrorIs(t, err, ErrNodeClosed)

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	now := f.now
	opts := testOptions(&now)
	opts.FeeBps = 50
	node, err := NewNode(reopened, opts)
	require.NoError(t, err)
	defer node.Close()
	node.RegisterCollection("faucet", "FCT")

	esc, err := node.EscrowGet(id)
	require.NoError(t, err)
	require.Equal(t, testSeller, esc.Seller)
	require.Zero(t, esc.AssetID.Cmp(assetID))

	platform, err := node.EscrowPlatform()
	require.NoError(t, err)
	require.Equal(t, uint32(30), platform.FeeBps, "stored fee wins over configuration")

	next, err := node.EscrowNextID()
	require.NoError(t, err)
	require.Equal(t, id+1, next)

	owner, err := node.NFTOwnerOf(f.collection, assetID)
	require.NoError(t, err)
	require.Equal(t, node.EngineAddress(), owner)
}

func TestNodePauseControls(t *testing.T) {
	f := newNodeFixture(t, storage.NewMemDB())
	defer f.node.Close()

	require.NoError(t, f.node.SetPaused(escrow.ModuleName, true))
	require.True(t, f.node.IsPaused(escrow.ModuleName))

	assetID, err := f.node.NFTFaucet(f.collection, testSeller)
	require.NoError(t, err)
	require.NoError(t, f.node.NFTSetApprovalForAll(f.collection, testSeller, f.node.EngineAddress(), true))
	_, err = f.node.EscrowCreate(testSeller, assetID, big.NewInt(1), f.collection, f.token, testBuyer, 1)
	require.Equal(t, escrow.ReasonPaused, escrow.Reason(err))

	require.NoError(t, f.node.SetPaused(escrow.ModuleName, false))
	_, err = f.node.EscrowCreate(testSeller, assetID, big.NewInt(1), f.collection, f.token, testBuyer, 1)
	require.NoError(t, err)
}

func TestNodeUnknownContracts(t *testing.T) {
	f := newNodeFixture(t, storage.NewMemDB())
	defer f.node.Close()

	_, err := f.node.NFTFaucet(f.token, testSeller)
	require.ErrorIs(t, err, ErrUnknownCollection)
	require.ErrorIs(t, f.node.TokenFaucet(f.collection, testBuyer), ErrUnknownToken)

	_, err = f.node.TokenAllowance(f.collection, testBuyer, testSeller)
	require.ErrorIs(t, err, ErrUnknownToken)

	require.Len(t, f.node.Collections(), 1)
	require.Len(t, f.node.Tokens(), 1)
	require.Len(t, f.node.Directory().AssetAddresses(), 1)
	require.Len(t, f.node.Directory().PaymentAddresses(), 1)
}

func TestNodeCancelAndAdmin(t *testing.T) {
	f := newNodeFixture(t, storage.NewMemDB())
	defer f.node.Close()
	id, assetID := f.listAsset(t)

	esc, err := f.node.EscrowGet(id)
	require.NoError(t, err)
	f.now = f.node.EscrowExpiry(esc)
	require.NoError(t, f.node.EscrowCancel(testSeller, id))

	owner, err := f.node.NFTOwnerOf(f.collection, assetID)
	require.NoError(t, err)
	require.Equal(t, testSeller, owner)

	require.NoError(t, f.node.EscrowTransferAdmin(testAdmin, testSeller))
	platform, err := f.node.EscrowPlatform()
	require.NoError(t, err)
	require.Equal(t, testSeller, platform.Admin)
}
