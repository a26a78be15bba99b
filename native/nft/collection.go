package nft

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"nftescrow/core/events"
	"nftescrow/core/types"
	"nftescrow/crypto"
)

var (
	ErrInvalidTokenID        = errors.New("ERC721: invalid token ID")
	ErrApprovalToOwner       = errors.New("ERC721: approval to current owner")
	ErrApproveNotAuthorized  = errors.New("ERC721: approve caller is not token owner or approved for all")
	ErrNotOwnerNorApproved   = errors.New("ERC721: caller is not token owner nor approved")
	ErrTransferFromIncorrect = errors.New("ERC721: transfer from incorrect owner")
	ErrTransferToZero        = errors.New("ERC721: transfer to the zero address")
	ErrApproveToCaller       = errors.New("ERC721: approve to caller")
	ErrMintToZero            = errors.New("ERC721: mint to the zero address")
	ErrZeroOwner             = errors.New("ERC721: address zero is not a valid owner")
)

const (
	EventTypeTransfer       = "nft.transfer"
	EventTypeApproval       = "nft.approval"
	EventTypeApprovalForAll = "nft.approval_for_all"
)

// Store is the subset of the state manager the collection persists through.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Collection is a faucet-mintable non-fungible ledger. Any account may mint
// the next token id to itself.
type Collection struct {
	store   Store
	address [20]byte
	name    string
	symbol  string
	emitter events.Emitter
}

// NewCollection binds a collection named name to the store. Its address is
// derived from the name.
func NewCollection(store Store, name, symbol string) *Collection {
	return &Collection{
		store:   store,
		address: crypto.ContractAddress("nft", name),
		name:    name,
		symbol:  symbol,
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used for transfer and approval
// events.
func (c *Collection) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

func (c *Collection) Address() [20]byte { return c.address }
func (c *Collection) Name() string      { return c.name }
func (c *Collection) Symbol() string    { return c.symbol }

func (c *Collection) key(parts ...string) []byte {
	out := []byte("nft/" + string(c.address[:]))
	for _, part := range parts {
		out = append(out, '/')
		out = append(out, part...)
	}
	return out
}

func (c *Collection) ownerKey(id *big.Int) []byte    { return c.key("owner", id.String()) }
func (c *Collection) approvalKey(id *big.Int) []byte { return c.key("approval", id.String()) }
func (c *Collection) balanceKey(owner [20]byte) []byte {
	return c.key("balance", string(owner[:]))
}
func (c *Collection) operatorKey(owner, operator [20]byte) []byte {
	return c.key("operator", string(owner[:]), string(operator[:]))
}

func (c *Collection) owner(id *big.Int) ([20]byte, bool, error) {
	var owner [20]byte
	if id == nil || id.Sign() < 0 {
		return owner, false, nil
	}
	ok, err := c.store.KVGet(c.ownerKey(id), &owner)
	if err != nil {
		return owner, false, fmt.Errorf("nft: load owner: %w", err)
	}
	return owner, ok, nil
}

func (c *Collection) loadCount(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := c.store.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (c *Collection) addBalance(owner [20]byte, delta int64) error {
	current, err := c.loadCount(c.balanceKey(owner))
	if err != nil {
		return err
	}
	current.Add(current, big.NewInt(delta))
	if current.Sign() < 0 {
		return fmt.Errorf("nft: negative balance")
	}
	return c.store.KVPut(c.balanceKey(owner), current)
}

// Faucet mints the next token id to caller and returns it.
func (c *Collection) Faucet(caller [20]byte) (*big.Int, error) {
	if crypto.IsZero(caller) {
		return nil, ErrMintToZero
	}
	id, err := c.loadCount(c.key("next"))
	if err != nil {
		return nil, err
	}
	if err := c.store.KVPut(c.ownerKey(id), caller); err != nil {
		return nil, err
	}
	if err := c.addBalance(caller, 1); err != nil {
		return nil, err
	}
	if err := c.store.KVPut(c.key("next"), new(big.Int).Add(id, big.NewInt(1))); err != nil {
		return nil, err
	}
	c.emitter.Emit(Transfer{Collection: c.address, To: caller, TokenID: new(big.Int).Set(id)})
	return id, nil
}

// TotalMinted returns the number of tokens minted so far.
func (c *Collection) TotalMinted() (*big.Int, error) {
	return c.loadCount(c.key("next"))
}

// OwnerOf returns the current owner of the token.
func (c *Collection) OwnerOf(id *big.Int) ([20]byte, error) {
	owner, ok, err := c.owner(id)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, ErrInvalidTokenID
	}
	return owner, nil
}

// BalanceOf returns the number of tokens held by owner.
func (c *Collection) BalanceOf(owner [20]byte) (*big.Int, error) {
	if crypto.IsZero(owner) {
		return nil, ErrZeroOwner
	}
	return c.loadCount(c.balanceKey(owner))
}

// Approve lets to move the token on behalf of its owner. A zero address clears
// the approval.
func (c *Collection) Approve(caller, to [20]byte, id *big.Int) error {
	owner, err := c.OwnerOf(id)
	if err != nil {
		return err
	}
	if to == owner {
		return ErrApprovalToOwner
	}
	if caller != owner {
		approved, err := c.IsApprovedForAll(owner, caller)
		if err != nil {
			return err
		}
		if !approved {
			return ErrApproveNotAuthorized
		}
	}
	if err := c.setApproval(id, to); err != nil {
		return err
	}
	c.emitter.Emit(Approval{Collection: c.address, Owner: owner, Approved: to, TokenID: new(big.Int).Set(id)})
	return nil
}

func (c *Collection) setApproval(id *big.Int, to [20]byte) error {
	if crypto.IsZero(to) {
		return c.store.KVDelete(c.approvalKey(id))
	}
	return c.store.KVPut(c.approvalKey(id), to)
}

// GetApproved returns the account approved for the token, or the zero address.
func (c *Collection) GetApproved(id *big.Int) ([20]byte, error) {
	if _, err := c.OwnerOf(id); err != nil {
		return [20]byte{}, err
	}
	var approved [20]byte
	if _, err := c.store.KVGet(c.approvalKey(id), &approved); err != nil {
		return [20]byte{}, err
	}
	return approved, nil
}

// SetApprovalForAll grants or revokes operator control over all of caller's
// tokens.
func (c *Collection) SetApprovalForAll(caller, operator [20]byte, approved bool) error {
	if caller == operator {
		return ErrApproveToCaller
	}
	var err error
	if approved {
		err = c.store.KVPut(c.operatorKey(caller, operator), true)
	} else {
		err = c.store.KVDelete(c.operatorKey(caller, operator))
	}
	if err != nil {
		return err
	}
	c.emitter.Emit(ApprovalForAll{Collection: c.address, Owner: caller, Operator: operator, Approved: approved})
	return nil
}

// IsApprovedForAll reports whether operator may move every token of owner.
func (c *Collection) IsApprovedForAll(owner, operator [20]byte) (bool, error) {
	var approved bool
	ok, err := c.store.KVGet(c.operatorKey(owner, operator), &approved)
	if err != nil {
		return false, err
	}
	return ok && approved, nil
}

func (c *Collection) isApprovedOrOwner(spender [20]byte, id *big.Int) (bool, error) {
	owner, err := c.OwnerOf(id)
	if err != nil {
		return false, err
	}
	if spender == owner {
		return true, nil
	}
	operator, err := c.IsApprovedForAll(owner, spender)
	if err != nil || operator {
		return operator, err
	}
	approved, err := c.GetApproved(id)
	if err != nil {
		return false, err
	}
	return approved == spender, nil
}

// TransferFrom moves the token from its owner to another account. The operator
// must be the owner, the token's approved account or an approved operator.
func (c *Collection) TransferFrom(operator, from, to [20]byte, id *big.Int) error {
	allowed, err := c.isApprovedOrOwner(operator, id)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotOwnerNorApproved
	}
	owner, err := c.OwnerOf(id)
	if err != nil {
		return err
	}
	if owner != from {
		return ErrTransferFromIncorrect
	}
	if crypto.IsZero(to) {
		return ErrTransferToZero
	}
	if err := c.store.KVDelete(c.approvalKey(id)); err != nil {
		return err
	}
	if err := c.addBalance(from, -1); err != nil {
		return err
	}
	if err := c.addBalance(to, 1); err != nil {
		return err
	}
	if err := c.store.KVPut(c.ownerKey(id), to); err != nil {
		return err
	}
	c.emitter.Emit(Transfer{Collection: c.address, From: from, To: to, TokenID: new(big.Int).Set(id)})
	return nil
}

// Transfer is emitted on mint and on every ownership change.
type Transfer struct {
	Collection [20]byte
	From       [20]byte
	To         [20]byte
	TokenID    *big.Int
}

func (Transfer) EventType() string { return EventTypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"collection": crypto.FormatAddress(e.Collection),
		"from":       crypto.FormatAddress(e.From),
		"to":         crypto.FormatAddress(e.To),
		"tokenId":    e.TokenID.String(),
	}}
}

type Approval struct {
	Collection [20]byte
	Owner      [20]byte
	Approved   [20]byte
	TokenID    *big.Int
}

func (Approval) EventType() string { return EventTypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{Type: EventTypeApproval, Attributes: map[string]string{
		"collection": crypto.FormatAddress(e.Collection),
		"owner":      crypto.FormatAddress(e.Owner),
		"approved":   crypto.FormatAddress(e.Approved),
		"tokenId":    e.TokenID.String(),
	}}
}

type ApprovalForAll struct {
	Collection [20]byte
	Owner      [20]byte
	Operator   [20]byte
	Approved   bool
}

func (ApprovalForAll) EventType() string { return EventTypeApprovalForAll }

func (e ApprovalForAll) Event() *types.Event {
	return &types.Event{Type: EventTypeApprovalForAll, Attributes: map[string]string{
		"collection": crypto.FormatAddress(e.Collection),
		"owner":      crypto.FormatAddress(e.Owner),
		"operator":   crypto.FormatAddress(e.Operator),
		"approved":   strconv.FormatBool(e.Approved),
	}}
}
