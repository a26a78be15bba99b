package escrow

import "errors"

// Error classes. Every failure returned by the engine matches exactly one of
// these with errors.Is.
var (
	ErrUnauthorized    = errors.New("escrow: unauthorized")
	ErrInvalidFee      = errors.New("escrow: invalid fee")
	ErrInvalidParty    = errors.New("escrow: invalid party")
	ErrInvalidAsset    = errors.New("escrow: invalid asset")
	ErrInvalidState    = errors.New("escrow: invalid state")
	ErrNotFound        = errors.New("escrow: not found")
	ErrInvalidAmount   = errors.New("escrow: invalid amount")
	ErrInvalidDuration = errors.New("escrow: invalid duration")
)

var (
	ErrAlreadyInitialized = errors.New("escrow engine: already initialised")
	ErrNotInitialized     = errors.New("escrow engine: platform not initialised")
	errNilState           = errors.New("escrow engine: state not configured")
	errNilContracts       = errors.New("escrow engine: contract directory not configured")
)

// Revert reasons surfaced verbatim to callers.
const (
	ReasonNotOwner              = "Ownable: caller is not the owner"
	ReasonNewOwnerZero          = "Ownable: new owner is the zero address"
	ReasonFeeZero               = "Escrow: Fee must be greater than 0"
	ReasonFeeTooHigh            = "Escrow: Fee exceeds denominator"
	ReasonInvalidPaymentAddress = "Escrow: Invalid Payment Address"
	ReasonInvalidBuyerAddress   = "Escrow: Invalid Buyer Address"
	ReasonInvalidAmount         = "Escrow: Invalid Payment Amount"
	ReasonInvalidDuration       = "Escrow: Invalid Duration"
	ReasonInvalidAssetContract  = "Escrow: Invalid Asset Contract"
	ReasonNotFound              = "Escrow: escrow not found"
	ReasonNotActive             = "Escrow: escrow is not active"
	ReasonNotBuyer              = "Escrow: caller is not the buyer"
	ReasonNotSeller             = "Escrow: caller is not the seller"
	ReasonDurationElapsed       = "Escrow: escrow duration has elapsed"
	ReasonDurationNotElapsed    = "Escrow: escrow duration has not elapsed"
	ReasonReentrantCall         = "ReentrancyGuard: reentrant call"
	ReasonPaused                = "Escrow: module paused"
)

// Error carries the exact revert reason of a rejected call together with its
// class. Field names the offending parameter for party errors. Err holds the
// adapter failure when the reason was propagated from one.
type Error struct {
	Class  error
	Reason string
	Field  string
	Err    error
}

func (e *Error) Error() string { return e.Reason }

// Is matches the error's class.
func (e *Error) Is(target error) bool { return target == e.Class }

func (e *Error) Unwrap() error { return e.Err }

func newError(class error, reason string) *Error {
	return &Error{Class: class, Reason: reason}
}

func partyError(field, reason string) *Error {
	return &Error{Class: ErrInvalidParty, Reason: reason, Field: field}
}

// assetError classifies an adapter failure as InvalidAsset while keeping the
// adapter's message and sentinel reachable.
func assetError(err error) *Error {
	return &Error{Class: ErrInvalidAsset, Reason: err.Error(), Err: err}
}

// Reason extracts the revert reason from err. Errors that did not originate in
// the engine yield their plain message.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var escErr *Error
	if errors.As(err, &escErr) {
		return escErr.Reason
	}
	return err.Error()
}

// Class returns the engine error class of err or nil.
func Class(err error) error {
	var escErr *Error
	if errors.As(err, &escErr) {
		return escErr.Class
	}
	return nil
}
