package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
)

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}

	switch args[0] {
	case "create":
		return runEscrowCreate(args[1:], stdout, stderr)
	case "settle":
		return runEscrowTransition("escrow_settle", args[1:], stdout, stderr)
	case "cancel":
		return runEscrowTransition("escrow_cancel", args[1:], stdout, stderr)
	case "get":
		return runEscrowGet(args[1:], stdout, stderr)
	case "platform":
		return invoke("escrow_platform", nil, nil, stdout, stderr)
	case "contracts":
		return invoke("escrow_contracts", nil, nil, stdout, stderr)
	case "update-fee":
		return runEscrowUpdateFee(args[1:], stdout, stderr)
	case "transfer-admin":
		return runEscrowTransferAdmin(args[1:], stdout, stderr)
	case "events":
		return runEscrowEvents(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func runEscrowCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow create", stderr, escrowUsage)
	var (
		from            string
		assetID         string
		amountStr       string
		assetContract   string
		paymentContract string
		buyer           string
		durationStr     string
	)
	fs.StringVar(&from, "from", "", "seller address")
	fs.StringVar(&assetID, "asset-id", "", "token id of the asset to list")
	fs.StringVar(&amountStr, "amount", "", "price in payment base units (supports 5e17 shorthand)")
	fs.StringVar(&assetContract, "asset-contract", "", "NFT collection address")
	fs.StringVar(&paymentContract, "payment-contract", "", "payment token address")
	fs.StringVar(&buyer, "buyer", "", "buyer address")
	fs.StringVar(&durationStr, "duration", "", "duration in platform units (days by default)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	caller, err := parseActor(from)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if !isDigits(strings.TrimSpace(assetID)) || strings.TrimSpace(assetID) == "" {
		return printError(stderr, "--asset-id must be a non-negative integer")
	}
	amount, err := normalizeAmount(amountStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	for _, required := range []struct{ flag, value string }{
		{"--asset-contract", assetContract},
		{"--payment-contract", paymentContract},
		{"--buyer", buyer},
	} {
		if strings.TrimSpace(required.value) == "" {
			return printError(stderr, required.flag+" is required")
		}
	}
	duration, err := strconv.ParseUint(strings.TrimSpace(durationStr), 10, 64)
	if err != nil {
		return printError(stderr, "--duration must be a non-negative integer")
	}

	params := map[string]interface{}{
		"assetId":         strings.TrimSpace(assetID),
		"amount":          amount,
		"assetContract":   strings.TrimSpace(assetContract),
		"paymentContract": strings.TrimSpace(paymentContract),
		"buyer":           strings.TrimSpace(buyer),
		"duration":        duration,
	}
	return invoke("escrow_create", params, &caller, stdout, stderr)
}

func runEscrowTransition(method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(method, stderr, escrowUsage)
	var (
		from string
		id   string
	)
	fs.StringVar(&from, "from", "", "acting address")
	fs.StringVar(&id, "id", "", "escrow identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	escrowID, err := parseEscrowID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	caller, err := parseActor(from)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(method, map[string]interface{}{"id": escrowID}, &caller, stdout, stderr)
}

func runEscrowGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow get", stderr, escrowUsage)
	var id string
	fs.StringVar(&id, "id", "", "escrow identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	escrowID, err := parseEscrowID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke("escrow_get", map[string]interface{}{"id": escrowID}, nil, stdout, stderr)
}

func runEscrowUpdateFee(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow update-fee", stderr, escrowUsage)
	var (
		from   string
		feeBps string
	)
	fs.StringVar(&from, "from", "", "platform administrator address")
	fs.StringVar(&feeBps, "fee-bps", "", "new fee in basis points")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	caller, err := parseActor(from)
	if err != nil {
		return printError(stderr, err.Error())
	}
	value, err := strconv.ParseUint(strings.TrimSpace(feeBps), 10, 32)
	if err != nil {
		return printError(stderr, "--fee-bps must be a non-negative integer")
	}
	return invoke("escrow_updateFee", map[string]interface{}{"feeBps": value}, &caller, stdout, stderr)
}

func runEscrowTransferAdmin(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow transfer-admin", stderr, escrowUsage)
	var (
		from  string
		admin string
	)
	fs.StringVar(&from, "from", "", "current administrator address")
	fs.StringVar(&admin, "admin", "", "new administrator address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	caller, err := parseActor(from)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(admin) == "" {
		return printError(stderr, "--admin is required")
	}
	return invoke("escrow_transferAdmin", map[string]interface{}{"admin": strings.TrimSpace(admin)}, &caller, stdout, stderr)
}

func runEscrowEvents(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow events", stderr, escrowUsage)
	var (
		eventType string
		id        string
		account   string
		after     uint64
		limit     int
	)
	fs.StringVar(&eventType, "type", "", "only events of this type, e.g. escrow.created")
	fs.StringVar(&id, "id", "", "only events of this escrow")
	fs.StringVar(&account, "account", "", "only events whose primary account matches")
	fs.Uint64Var(&after, "after", 0, "only events with a greater sequence")
	fs.IntVar(&limit, "limit", 0, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	params := map[string]interface{}{}
	if eventType != "" {
		params["type"] = eventType
	}
	if id != "" {
		escrowID, err := parseEscrowID(id)
		if err != nil {
			return printError(stderr, err.Error())
		}
		params["escrowId"] = escrowID
	}
	if account != "" {
		params["account"] = account
	}
	if after > 0 {
		params["after"] = after
	}
	if limit < 0 {
		return printError(stderr, "--limit must be non-negative")
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return invoke("escrow_listEvents", params, nil, stdout, stderr)
}

func escrowUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli escrow <command> [flags]

Commands:
  create          List an NFT for sale to a buyer
  settle          Pay for and receive the asset (buyer)
  cancel          Return the asset to the seller
  get             Fetch escrow details by id
  platform        Show the platform configuration
  contracts       List registered collections and tokens
  update-fee      Change the platform fee (administrator)
  transfer-admin  Hand over platform administration
  events          List indexed events
`)
}

func newFlagSet(name string, stderr io.Writer, usage func() string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage())
	}
	return fs
}

func parseEscrowID(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--id is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--id must be a non-negative integer")
	}
	return id, nil
}

// normalizeAmount expands decimal and scientific shorthand such as 1.5e18
// into an integer string.
func normalizeAmount(value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("--amount is required")
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expPart := strings.TrimSpace(trimmed[idx+1:])
		if expPart == "" {
			return "", fmt.Errorf("invalid scientific notation in --amount")
		}
		expValue, err := strconv.ParseInt(expPart, 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in --amount")
		}
		exponent = int(expValue)
	}
	base = strings.TrimSpace(strings.TrimPrefix(base, "+"))
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("--amount must be positive")
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid amount format")
	}
	fractional := ""
	if len(parts) == 2 {
		fractional = parts[1]
	}
	digits := parts[0] + fractional
	if digits == "" || !isDigits(digits) {
		return "", fmt.Errorf("invalid amount format")
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fractional)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	totalExponent := exponent - fracLen
	if totalExponent < 0 {
		return "", fmt.Errorf("--amount must be an integer")
	}
	if digits == "" {
		return "", fmt.Errorf("--amount must be positive")
	}
	return digits + strings.Repeat("0", totalExponent), nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
