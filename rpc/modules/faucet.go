package modules

import (
	"encoding/json"

	"nftescrow/core"
	"nftescrow/crypto"
)

// FaucetModule serves the nft_* and token_* namespaces used to obtain test
// assets and grant the engine its approvals.
type FaucetModule struct {
	node *core.Node
}

func NewFaucetModule(node *core.Node) *FaucetModule {
	return &FaucetModule{node: node}
}

type collectionParams struct {
	Collection string `json:"collection"`
}

type nftApproveParams struct {
	Collection string `json:"collection"`
	To         string `json:"to"`
	TokenID    string `json:"tokenId"`
}

type nftApprovalForAllParams struct {
	Collection string `json:"collection"`
	Operator   string `json:"operator"`
	Approved   bool   `json:"approved"`
}

type nftOwnerParams struct {
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
}

type tokenParams struct {
	Token string `json:"token"`
}

type tokenApproveParams struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type tokenAccountParams struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
}

// ContractResult describes a registered faucet contract.
type ContractResult struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type TokenIDResult struct {
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
}

type OwnerResult struct {
	Owner string `json:"owner"`
}

type AmountResult struct {
	Amount string `json:"amount"`
}

// OKResult acknowledges a state-changing call with no other output.
type OKResult struct {
	OK bool `json:"ok"`
}

// Contracts lists the registered collections and tokens together with the
// engine's custody address.
func (m *FaucetModule) Contracts() map[string]interface{} {
	out := make([]ContractResult, 0)
	for _, c := range m.node.Collections() {
		out = append(out, ContractResult{Kind: "nft", Address: crypto.FormatAddress(c.Address()), Name: c.Name(), Symbol: c.Symbol()})
	}
	for _, t := range m.node.Tokens() {
		out = append(out, ContractResult{Kind: "token", Address: crypto.FormatAddress(t.Address()), Name: t.Name(), Symbol: t.Symbol()})
	}
	return map[string]interface{}{
		"engine":    crypto.FormatAddress(m.node.EngineAddress()),
		"contracts": out,
	}
}

func (m *FaucetModule) NFTFaucet(caller [20]byte, raw json.RawMessage) (*TokenIDResult, *ModuleError) {
	var params collectionParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	collection, modErr := parseAddress("collection", params.Collection)
	if modErr != nil {
		return nil, modErr
	}
	id, err := m.node.NFTFaucet(collection, caller)
	if err != nil {
		return nil, FromError(err)
	}
	return &TokenIDResult{Collection: crypto.FormatAddress(collection), TokenID: id.String()}, nil
}

func (m *FaucetModule) NFTApprove(caller [20]byte, raw json.RawMessage) (*OKResult, *ModuleError) {
	var params nftApproveParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	collection, modErr := parseAddress("collection", params.Collection)
	if modErr != nil {
		return nil, modErr
	}
	to, modErr := parseAddress("to", params.To)
	if modErr != nil {
		return nil, modErr
	}
	id, modErr := parseAmount("tokenId", params.TokenID)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.NFTApprove(collection, caller, to, id); err != nil {
		return nil, FromError(err)
	}
	return &OKResult{OK: true}, nil
}

func (m *FaucetModule) NFTSetApprovalForAll(caller [20]byte, raw json.RawMessage) (*OKResult, *ModuleError) {
	var params nftApprovalForAllParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	collection, modErr := parseAddress("collection", params.Collection)
	if modErr != nil {
		return nil, modErr
	}
	operator, modErr := parseAddress("operator", params.Operator)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.NFTSetApprovalForAll(collection, caller, operator, params.Approved); err != nil {
		return nil, FromError(err)
	}
	return &OKResult{OK: true}, nil
}

func (m *FaucetModule) NFTOwnerOf(raw json.RawMessage) (*OwnerResult, *ModuleError) {
	var params nftOwnerParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	collection, modErr := parseAddress("collection", params.Collection)
	if modErr != nil {
		return nil, modErr
	}
	id, modErr := parseAmount("tokenId", params.TokenID)
	if modErr != nil {
		return nil, modErr
	}
	owner, err := m.node.NFTOwnerOf(collection, id)
	if err != nil {
		return nil, FromError(err)
	}
	return &OwnerResult{Owner: crypto.FormatAddress(owner)}, nil
}

func (m *FaucetModule) TokenFaucet(caller [20]byte, raw json.RawMessage) (*AmountResult, *ModuleError) {
	var params tokenParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	tokenAddr, modErr := parseAddress("token", params.Token)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.TokenFaucet(tokenAddr, caller); err != nil {
		return nil, FromError(err)
	}
	balance, err := m.node.TokenBalanceOf(tokenAddr, caller)
	if err != nil {
		return nil, FromError(err)
	}
	return &AmountResult{Amount: balance.String()}, nil
}

func (m *FaucetModule) TokenApprove(caller [20]byte, raw json.RawMessage) (*OKResult, *ModuleError) {
	var params tokenApproveParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	tokenAddr, modErr := parseAddress("token", params.Token)
	if modErr != nil {
		return nil, modErr
	}
	spender, modErr := parseAddress("spender", params.Spender)
	if modErr != nil {
		return nil, modErr
	}
	amount, modErr := parseAmount("amount", params.Amount)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.TokenApprove(tokenAddr, caller, spender, amount); err != nil {
		return nil, FromError(err)
	}
	return &OKResult{OK: true}, nil
}

func (m *FaucetModule) TokenBalanceOf(raw json.RawMessage) (*AmountResult, *ModuleError) {
	var params tokenAccountParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	tokenAddr, modErr := parseAddress("token", params.Token)
	if modErr != nil {
		return nil, modErr
	}
	owner, modErr := parseAddress("owner", params.Owner)
	if modErr != nil {
		return nil, modErr
	}
	balance, err := m.node.TokenBalanceOf(tokenAddr, owner)
	if err != nil {
		return nil, FromError(err)
	}
	return &AmountResult{Amount: balance.String()}, nil
}

func (m *FaucetModule) TokenAllowance(raw json.RawMessage) (*AmountResult, *ModuleError) {
	var params tokenAccountParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	tokenAddr, modErr := parseAddress("token", params.Token)
	if modErr != nil {
		return nil, modErr
	}
	owner, modErr := parseAddress("owner", params.Owner)
	if modErr != nil {
		return nil, modErr
	}
	spender, modErr := parseAddress("spender", params.Spender)
	if modErr != nil {
		return nil, modErr
	}
	allowance, err := m.node.TokenAllowance(tokenAddr, owner, spender)
	if err != nil {
		return nil, FromError(err)
	}
	return &AmountResult{Amount: allowance.String()}, nil
}
