package config

import (
	"fmt"
	"os"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/identity"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ProjectConfig is the per-project requirements file: which assets gate each
// tier, how wallets combine, and how often the pipeline runs.
type ProjectConfig struct {
	Project   string          `yaml:"project"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	SumOfBalances           bool `yaml:"sumOfBalances"`
	ExcludeBasicForUpgraded bool `yaml:"excludeBasicForUpgraded"`

	PermanentAccounts []string          `yaml:"permanentAccounts"`
	AddressHandles    map[string]string `yaml:"addressHandles"`

	Basic    TierRequirements `yaml:"basic"`
	Upgraded TierRequirements `yaml:"upgraded"`
}

type SchedulerConfig struct {
	IntervalHours      float64 `yaml:"intervalHours"`
	RetryIntervalHours float64 `yaml:"retryIntervalHours"`
}

// TierRequirements lists the assets an identity must hold for one tier. An
// identity must satisfy every listed requirement, not any.
type TierRequirements struct {
	Tokens []TokenRequirement `yaml:"tokens"`
	NFTs   []NFTRequirement   `yaml:"nfts"`
}

type TokenRequirement struct {
	Address    string `yaml:"address"`
	Symbol     string `yaml:"symbol"`
	Decimals   int    `yaml:"decimals"`
	MinBalance string `yaml:"minBalance"`
}

type NFTRequirement struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	MinCount int64  `yaml:"minCount"`
}

// MinBalanceDecimal parses the requirement's human-scaled minimum.
func (t TokenRequirement) MinBalanceDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(t.MinBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("minBalance for %s: %w", t.Symbol, err)
	}
	return d, nil
}

// LoadProject reads and validates the project YAML file.
func LoadProject(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project config: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse project config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("project config %s: %w", path, err)
	}

	canonical := make(map[string]string, len(cfg.AddressHandles))
	for addr, handle := range cfg.AddressHandles {
		key := identity.CanonicalAddress(addr)
		h := identity.CanonicalHandle(handle)
		if key == "" || h == "" {
			return nil, fmt.Errorf("project config %s: invalid addressHandles entry %q: %q", path, addr, handle)
		}
		canonical[key] = h
	}
	cfg.AddressHandles = canonical

	return &cfg, nil
}

func (c *ProjectConfig) validate() error {
	if c.Project == "" {
		return fmt.Errorf("project name is required")
	}
	if c.Scheduler.IntervalHours <= 0 {
		return fmt.Errorf("scheduler.intervalHours must be positive")
	}
	if c.Scheduler.RetryIntervalHours <= 0 {
		return fmt.Errorf("scheduler.retryIntervalHours must be positive")
	}
	if c.Scheduler.RetryIntervalHours > c.Scheduler.IntervalHours {
		return fmt.Errorf("scheduler.retryIntervalHours must not exceed intervalHours")
	}
	if len(c.Basic.Tokens)+len(c.Basic.NFTs) == 0 {
		return fmt.Errorf("basic tier needs at least one requirement")
	}

	for _, tier := range []TierRequirements{c.Basic, c.Upgraded} {
		for _, t := range tier.Tokens {
			if t.Address == "" || t.Symbol == "" {
				return fmt.Errorf("token requirement needs address and symbol")
			}
			if _, err := t.MinBalanceDecimal(); err != nil {
				return err
			}
		}
		for _, n := range tier.NFTs {
			if n.Address == "" || n.Symbol == "" {
				return fmt.Errorf("nft requirement needs address and symbol")
			}
			if n.MinCount <= 0 {
				return fmt.Errorf("nft requirement %s needs a positive minCount", n.Symbol)
			}
		}
	}
	return nil
}
