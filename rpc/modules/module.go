package modules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"nftescrow/core"
	"nftescrow/crypto"
	"nftescrow/native/escrow"
)

const (
	CodeInvalidParams = -32021
	CodeNotFound      = -32022
	CodeForbidden     = -32023
	CodeConflict      = -32024
	CodeInternal      = -32025
)

// ModuleError is a failure ready to be written as a JSON-RPC error object.
type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidParams(detail string) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: CodeInvalidParams, Message: "invalid_params", Data: detail}
}

func internalError(message string) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: CodeInternal, Message: message}
}

// FromError maps a node or engine failure onto a JSON-RPC error. Engine
// rejections carry their revert reason as the message; the class and the
// offending field travel in data.
func FromError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, core.ErrNodeClosed):
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: CodeInternal, Message: err.Error()}
	case errors.Is(err, core.ErrUnknownCollection), errors.Is(err, core.ErrUnknownToken):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: CodeInvalidParams, Message: err.Error()}
	}

	reason := escrow.Reason(err)
	var data map[string]string
	var escErr *escrow.Error
	if errors.As(err, &escErr) {
		data = map[string]string{"class": strings.TrimPrefix(escErr.Class.Error(), "escrow: ")}
		if escErr.Field != "" {
			data["field"] = escErr.Field
		}
	}
	out := &ModuleError{Message: reason}
	if data != nil {
		out.Data = data
	}
	switch escrow.Class(err) {
	case escrow.ErrNotFound:
		out.HTTPStatus, out.Code = http.StatusNotFound, CodeNotFound
	case escrow.ErrUnauthorized:
		out.HTTPStatus, out.Code = http.StatusForbidden, CodeForbidden
	case escrow.ErrInvalidState:
		out.HTTPStatus, out.Code = http.StatusConflict, CodeConflict
	case escrow.ErrInvalidFee, escrow.ErrInvalidParty, escrow.ErrInvalidAsset,
		escrow.ErrInvalidAmount, escrow.ErrInvalidDuration:
		out.HTTPStatus, out.Code = http.StatusBadRequest, CodeInvalidParams
	default:
		if isRevert(reason) {
			out.HTTPStatus, out.Code = http.StatusConflict, CodeConflict
		} else {
			out.HTTPStatus, out.Code = http.StatusInternalServerError, CodeInternal
		}
	}
	return out
}

// isRevert reports whether a plain adapter error is a ledger rejection rather
// than a storage failure.
func isRevert(reason string) bool {
	return strings.HasPrefix(reason, "ERC20: ") || strings.HasPrefix(reason, "ERC721: ")
}

func decodeParams(raw json.RawMessage, out interface{}) *ModuleError {
	if len(bytes.TrimSpace(raw)) == 0 {
		return invalidParams("parameter object required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func parseAddress(field, raw string) ([20]byte, *ModuleError) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, invalidParams(fmt.Sprintf("%s: %v", field, err))
	}
	return addr, nil
}

// parseAmount accepts a base-10 integer. Sign checks are left to the engine so
// that zero and negative values surface the engine's own reasons.
func parseAmount(field, raw string) (*big.Int, *ModuleError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParams(field + " required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("%s: invalid integer %q", field, raw))
	}
	return value, nil
}

// parseOptionalAddress treats an empty value as the zero address.
func parseOptionalAddress(field, raw string) ([20]byte, *ModuleError) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, nil
	}
	return parseAddress(field, raw)
}

// parseOptionalAmount treats an empty value as absent and returns nil.
func parseOptionalAmount(field, raw string) (*big.Int, *ModuleError) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(field, raw)
}
