// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads and validates startup configuration for the
// off-process route-discovery client. Missing required values are a fatal
// startup error for the caller, not a runtime fault.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/spf13/viper"
)

// Defaults applied when a value is not configured.
const (
	DefaultSlippageBps = 50
	DefaultMaxSlippage = 500
	DefaultMaxHops     = 5
)

// Config is the route-discovery client configuration.
type Config struct {
	// Endpoint is the settlement ledger RPC endpoint.
	Endpoint string

	// SigningKeyFile is the path to the client's signing credential.
	SigningKeyFile string

	// RouterAddress and RegistryAddress identify the settlement ledger
	// contracts the client talks to.
	RouterAddress   common.Address
	RegistryAddress common.Address

	DefaultSlippageBps uint32
	MaxSlippageBps     uint32
	MaxHops            int
}

// Load reads configuration from the environment (GRAVITY_* variables) and,
// when path is non-empty, from a config file. File values are overridden by
// the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRAVITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("default_slippage_bps", DefaultSlippageBps)
	v.SetDefault("max_slippage_bps", DefaultMaxSlippage)
	v.SetDefault("max_hops", DefaultMaxHops)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Endpoint:           v.GetString("endpoint"),
		SigningKeyFile:     v.GetString("signing_key_file"),
		RouterAddress:      common.HexToAddress(v.GetString("router_address")),
		RegistryAddress:    common.HexToAddress(v.GetString("registry_address")),
		DefaultSlippageBps: v.GetUint32("default_slippage_bps"),
		MaxSlippageBps:     v.GetUint32("max_slippage_bps"),
		MaxHops:            v.GetInt("max_hops"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing required value and every out-of-range
// setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if c.SigningKeyFile == "" {
		errs = append(errs, errors.New("signing_key_file is required"))
	}
	if c.RouterAddress == (common.Address{}) {
		errs = append(errs, errors.New("router_address is required"))
	}
	if c.RegistryAddress == (common.Address{}) {
		errs = append(errs, errors.New("registry_address is required"))
	}
	if c.DefaultSlippageBps > c.MaxSlippageBps {
		errs = append(errs, fmt.Errorf("default_slippage_bps %d exceeds max_slippage_bps %d", c.DefaultSlippageBps, c.MaxSlippageBps))
	}
	if c.MaxHops < 1 || c.MaxHops > DefaultMaxHops {
		errs = append(errs, fmt.Errorf("max_hops must be in [1, %d]", DefaultMaxHops))
	}
	return errors.Join(errs...)
}
