package config

import (
	"fmt"
	"strings"
	"time"

	"nftescrow/native/fees"
)

var MinDurationUnit = time.Second

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.PlatformFeeBps == 0 {
		return fmt.Errorf("config: PlatformFeeBps must be greater than 0")
	}
	if err := fees.ValidateBps(c.PlatformFeeBps); err != nil {
		return fmt.Errorf("config: PlatformFeeBps: %w", err)
	}
	if _, err := c.AdminAddress(); err != nil {
		return fmt.Errorf("config: Admin: %w", err)
	}
	if _, err := c.CommitmentHash(); err != nil {
		return fmt.Errorf("config: Commitment: %w", err)
	}
	if c.DurationUnit < MinDurationUnit {
		return fmt.Errorf("config: DurationUnit must be at least %s", MinDurationUnit)
	}
	if c.RateLimitPerSecond < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("config: rate limits must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.IndexerDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported IndexerDriver %q", c.IndexerDriver)
	}
	if err := validateContracts("Collections", c.Collections); err != nil {
		return err
	}
	return validateContracts("Tokens", c.Tokens)
}

func validateContracts(field string, contracts []Contract) error {
	seen := make(map[string]struct{}, len(contracts))
	for i, contract := range contracts {
		name := strings.ToLower(strings.TrimSpace(contract.Name))
		if name == "" {
			return fmt.Errorf("config: %s[%d]: name required", field, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("config: %s: duplicate name %q", field, contract.Name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
