package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"nftescrow/core/events"
	"nftescrow/core/types"
	"nftescrow/crypto"
)

var (
	ErrInsufficientAllowance = errors.New("ERC20: insufficient allowance")
	ErrInsufficientBalance   = errors.New("ERC20: transfer amount exceeds balance")
	ErrTransferToZero        = errors.New("ERC20: transfer to the zero address")
	ErrTransferFromZero      = errors.New("ERC20: transfer from the zero address")
	ErrApproveToZero         = errors.New("ERC20: approve to the zero address")
	ErrMintToZero            = errors.New("ERC20: mint to the zero address")
	ErrAmountOverflow        = errors.New("ERC20: amount overflows uint256")
	ErrNegativeAmount        = errors.New("ERC20: negative amount")
)

const (
	EventTypeTransfer = "token.transfer"
	EventTypeApproval = "token.approval"
)

// FaucetGrant is the amount minted per faucet call: 100 whole tokens with 18
// decimals.
var FaucetGrant = new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Store is the subset of the state manager the ledger persists through.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Token is a faucet-mintable fungible ledger with spender allowances.
// Arithmetic is carried out in 256-bit words; balances never exceed 2^256-1.
type Token struct {
	store    Store
	address  [20]byte
	name     string
	symbol   string
	decimals uint8
	emitter  events.Emitter
}

// NewToken binds a token named name to the store. Its address is derived from
// the name.
func NewToken(store Store, name, symbol string) *Token {
	return &Token{
		store:    store,
		address:  crypto.ContractAddress("token", name),
		name:     name,
		symbol:   symbol,
		decimals: 18,
		emitter:  events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used for transfer and approval
// events.
func (t *Token) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	t.emitter = emitter
}

func (t *Token) Address() [20]byte { return t.address }
func (t *Token) Name() string      { return t.name }
func (t *Token) Symbol() string    { return t.symbol }
func (t *Token) Decimals() uint8   { return t.decimals }

func (t *Token) key(parts ...[]byte) []byte {
	out := []byte("token/" + string(t.address[:]))
	for _, part := range parts {
		out = append(out, '/')
		out = append(out, part...)
	}
	return out
}

func (t *Token) balanceKey(owner [20]byte) []byte {
	return t.key([]byte("balance"), owner[:])
}

func (t *Token) allowanceKey(owner, spender [20]byte) []byte {
	return t.key([]byte("allowance"), owner[:], spender[:])
}

func (t *Token) supplyKey() []byte { return t.key([]byte("supply")) }

func toWord(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return word, nil
}

func (t *Token) load(key []byte) (*uint256.Int, error) {
	value := new(big.Int)
	ok, err := t.store.KVGet(key, value)
	if err != nil {
		return nil, fmt.Errorf("token: load: %w", err)
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return toWord(value)
}

func (t *Token) write(key []byte, value *uint256.Int) error {
	return t.store.KVPut(key, value.ToBig())
}

// Faucet mints FaucetGrant to caller.
func (t *Token) Faucet(caller [20]byte) error {
	return t.Mint(caller, FaucetGrant)
}

// Mint credits amount to the account and grows the total supply.
func (t *Token) Mint(to [20]byte, amount *big.Int) error {
	if crypto.IsZero(to) {
		return ErrMintToZero
	}
	value, err := toWord(amount)
	if err != nil {
		return err
	}
	supply, err := t.load(t.supplyKey())
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, value)
	if overflow {
		return ErrAmountOverflow
	}
	balance, err := t.load(t.balanceKey(to))
	if err != nil {
		return err
	}
	if err := t.write(t.supplyKey(), newSupply); err != nil {
		return err
	}
	if err := t.write(t.balanceKey(to), new(uint256.Int).Add(balance, value)); err != nil {
		return err
	}
	t.emitter.Emit(Transfer{Token: t.address, To: to, Amount: value.ToBig()})
	return nil
}

// TotalSupply returns the amount minted so far.
func (t *Token) TotalSupply() (*big.Int, error) {
	supply, err := t.load(t.supplyKey())
	if err != nil {
		return nil, err
	}
	return supply.ToBig(), nil
}

// BalanceOf returns the balance of owner.
func (t *Token) BalanceOf(owner [20]byte) (*big.Int, error) {
	balance, err := t.load(t.balanceKey(owner))
	if err != nil {
		return nil, err
	}
	return balance.ToBig(), nil
}

// Allowance returns the amount spender may still move on behalf of owner.
func (t *Token) Allowance(owner, spender [20]byte) (*big.Int, error) {
	allowance, err := t.load(t.allowanceKey(owner, spender))
	if err != nil {
		return nil, err
	}
	return allowance.ToBig(), nil
}

// Approve sets the allowance of spender over owner's balance.
func (t *Token) Approve(owner, spender [20]byte, amount *big.Int) error {
	if crypto.IsZero(spender) {
		return ErrApproveToZero
	}
	value, err := toWord(amount)
	if err != nil {
		return err
	}
	if err := t.write(t.allowanceKey(owner, spender), value); err != nil {
		return err
	}
	t.emitter.Emit(Approval{Token: t.address, Owner: owner, Spender: spender, Amount: value.ToBig()})
	return nil
}

// Transfer moves amount out of from's balance.
func (t *Token) Transfer(from, to [20]byte, amount *big.Int) error {
	value, err := toWord(amount)
	if err != nil {
		return err
	}
	return t.transfer(from, to, value)
}

// TransferFrom moves amount from from to to, consuming spender's allowance. An
// allowance of 2^256-1 is treated as unlimited.
func (t *Token) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	value, err := toWord(amount)
	if err != nil {
		return err
	}
	allowance, err := t.load(t.allowanceKey(from, spender))
	if err != nil {
		return err
	}
	if !isUnlimited(allowance) {
		if allowance.Lt(value) {
			return ErrInsufficientAllowance
		}
		if err := t.write(t.allowanceKey(from, spender), new(uint256.Int).Sub(allowance, value)); err != nil {
			return err
		}
	}
	return t.transfer(from, to, value)
}

func isUnlimited(v *uint256.Int) bool {
	return v.Eq(new(uint256.Int).SetAllOne())
}

func (t *Token) transfer(from, to [20]byte, value *uint256.Int) error {
	if crypto.IsZero(from) {
		return ErrTransferFromZero
	}
	if crypto.IsZero(to) {
		return ErrTransferToZero
	}
	fromBalance, err := t.load(t.balanceKey(from))
	if err != nil {
		return err
	}
	if fromBalance.Lt(value) {
		return ErrInsufficientBalance
	}
	if err := t.write(t.balanceKey(from), new(uint256.Int).Sub(fromBalance, value)); err != nil {
		return err
	}
	toBalance, err := t.load(t.balanceKey(to))
	if err != nil {
		return err
	}
	// Total supply bounds every balance, so the sum cannot wrap.
	if err := t.write(t.balanceKey(to), new(uint256.Int).Add(toBalance, value)); err != nil {
		return err
	}
	t.emitter.Emit(Transfer{Token: t.address, From: from, To: to, Amount: value.ToBig()})
	return nil
}

// Transfer is emitted on mint and on every balance movement.
type Transfer struct {
	Token  [20]byte
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return EventTypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"token":  crypto.FormatAddress(e.Token),
		"from":   crypto.FormatAddress(e.From),
		"to":     crypto.FormatAddress(e.To),
		"amount": e.Amount.String(),
	}}
}

type Approval struct {
	Token   [20]byte
	Owner   [20]byte
	Spender [20]byte
	Amount  *big.Int
}

func (Approval) EventType() string { return EventTypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{Type: EventTypeApproval, Attributes: map[string]string{
		"token":   crypto.FormatAddress(e.Token),
		"owner":   crypto.FormatAddress(e.Owner),
		"spender": crypto.FormatAddress(e.Spender),
		"amount":  e.Amount.String(),
	}}
}
