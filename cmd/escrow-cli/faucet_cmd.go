package main

import (
	"fmt"
	"io"
	"strings"
)

func runNFTCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, nftUsage())
		return 1
	}
	fs := newFlagSet("nft "+args[0], stderr, nftUsage)
	var (
		from       string
		collection string
		to         string
		tokenID    string
		operator   string
		revoke     bool
	)
	fs.StringVar(&from, "from", "", "acting address")
	fs.StringVar(&collection, "collection", "", "collection address")
	fs.StringVar(&to, "to", "", "account to approve for one token")
	fs.StringVar(&tokenID, "token-id", "", "token id")
	fs.StringVar(&operator, "operator", "", "operator to approve for every token")
	fs.BoolVar(&revoke, "revoke", false, "revoke the operator instead of approving it")

	sub := args[0]
	switch sub {
	case "faucet", "approve", "approve-all", "owner":
	default:
		fmt.Fprintf(stderr, "Unknown nft subcommand: %s\n", sub)
		fmt.Fprintln(stderr, nftUsage())
		return 1
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if strings.TrimSpace(collection) == "" {
		return printError(stderr, "--collection is required")
	}
	params := map[string]interface{}{"collection": strings.TrimSpace(collection)}

	if sub == "owner" {
		if !validTokenID(tokenID) {
			return printError(stderr, "--token-id must be a non-negative integer")
		}
		params["tokenId"] = strings.TrimSpace(tokenID)
		return invoke("nft_ownerOf", params, nil, stdout, stderr)
	}

	caller, err := parseActor(from)
	if err != nil {
		return printError(stderr, err.Error())
	}
	switch sub {
	case "faucet":
		return invoke("nft_faucet", params, &caller, stdout, stderr)
	case "approve":
		if strings.TrimSpace(to) == "" {
			return printError(stderr, "--to is required")
		}
		if !validTokenID(tokenID) {
			return printError(stderr, "--token-id must be a non-negative integer")
		}
		params["to"] = strings.TrimSpace(to)
		params["tokenId"] = strings.TrimSpace(tokenID)
		return invoke("nft_approve", params, &caller, stdout, stderr)
	default:
		if strings.TrimSpace(operator) == "" {
			return printError(stderr, "--operator is required")
		}
		params["operator"] = strings.TrimSpace(operator)
		params["approved"] = !revoke
		return invoke("nft_setApprovalForAll", params, &caller, stdout, stderr)
	}
}

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, tokenUsage())
		return 1
	}
	fs := newFlagSet("token "+args[0], stderr, tokenUsage)
	var (
		from      string
		tokenAddr string
		spender   string
		owner     string
		amountStr string
	)
	fs.StringVar(&from, "from", "", "acting address")
	fs.StringVar(&tokenAddr, "token", "", "token address")
	fs.StringVar(&spender, "spender", "", "spender address")
	fs.StringVar(&owner, "owner", "", "account to inspect")
	fs.StringVar(&amountStr, "amount", "", "allowance in base units (supports 5e17 shorthand)")

	sub := args[0]
	switch sub {
	case "faucet", "approve", "balance", "allowance":
	default:
		fmt.Fprintf(stderr, "Unknown token subcommand: %s\n", sub)
		fmt.Fprintln(stderr, tokenUsage())
		return 1
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if strings.TrimSpace(tokenAddr) == "" {
		return printError(stderr, "--token is required")
	}
	params := map[string]interface{}{"token": strings.TrimSpace(tokenAddr)}

	switch sub {
	case "balance", "allowance":
		if strings.TrimSpace(owner) == "" {
			return printError(stderr, "--owner is required")
		}
		params["owner"] = strings.TrimSpace(owner)
		if sub == "balance" {
			return invoke("token_balanceOf", params, nil, stdout, stderr)
		}
		if strings.TrimSpace(spender) == "" {
			return printError(stderr, "--spender is required")
		}
		params["spender"] = strings.TrimSpace(spender)
		return invoke("token_allowance", params, nil, stdout, stderr)
	}

	caller, err := parseActor(from)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if sub == "faucet" {
		return invoke("token_faucet", params, &caller, stdout, stderr)
	}
	if strings.TrimSpace(spender) == "" {
		return printError(stderr, "--spender is required")
	}
	amount, err := normalizeAmount(amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params["spender"] = strings.TrimSpace(spender)
	params["amount"] = amount
	return invoke("token_approve", params, &caller, stdout, stderr)
}

func validTokenID(value string) bool {
	trimmed := strings.TrimSpace(value)
	return trimmed != "" && isDigits(trimmed)
}

func nftUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli nft <command> [flags]

Commands:
  faucet       Mint the next token of a collection to --from
  approve      Approve --to for one token
  approve-all  Approve (or --revoke) an operator for every token
  owner        Show the owner of a token
`)
}

func tokenUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli token <command> [flags]

Commands:
  faucet     Mint 100 tokens to --from
  approve    Set the allowance of --spender
  balance    Show the balance of --owner
  allowance  Show what --spender may move for --owner
`)
}
