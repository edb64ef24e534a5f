// Package config loads the gateway configuration from an optional TOML file
// with environment overrides. Every value needed before a network call is
// validated up front; the rest of the program never re-checks them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/stellar/go/network"
)

// ErrMissing reports required configuration values that are absent.
var ErrMissing = errors.New("missing configuration")

// Network selects one of the fixed named Stellar networks.
type Network string

const (
	NetworkTestnet   Network = "testnet"
	NetworkFuturenet Network = "futurenet"
	NetworkMainnet   Network = "mainnet"
	NetworkLocal     Network = "local"
)

// ParseNetwork maps a config string to a Network.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkTestnet:
		return NetworkTestnet, nil
	case NetworkFuturenet:
		return NetworkFuturenet, nil
	case NetworkMainnet:
		return NetworkMainnet, nil
	case NetworkLocal:
		return NetworkLocal, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// Passphrase returns the network passphrase mixed into every transaction
// signature on that network.
func (n Network) Passphrase() string {
	switch n {
	case NetworkMainnet:
		return network.PublicNetworkPassphrase
	case NetworkFuturenet:
		return network.FutureNetworkPassphrase
	case NetworkLocal:
		// network.StandaloneNetworkPassphrase does not exist in the pinned
		// stellar/go revision; this is the same upstream value.
		return "Standalone Network ; February 2017"
	default:
		return network.TestNetworkPassphrase
	}
}

// Config holds everything the gateway needs to reach the ledger.
type Config struct {
	Network            Network `toml:"network"`
	RPCURL             string  `toml:"rpc_url"`
	CollateralContract string  `toml:"collateral_contract"` // USDC
	IssuedContract     string  `toml:"issued_contract"`     // rUSD

	ListenAddr string `toml:"listen_addr"`
	APISecret  string `toml:"-"` // env only, guards the write endpoints
	SecretKey  string `toml:"-"` // env only, used by the CLI key signer
}

type fileConfig struct {
	Network            string `toml:"network"`
	RPCURL             string `toml:"rpc_url"`
	CollateralContract string `toml:"collateral_contract"`
	IssuedContract     string `toml:"issued_contract"`
	ListenAddr         string `toml:"listen_addr"`
}

// Load reads path (if it exists) and applies REBASEGATE_* environment
// overrides on top.
func Load(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &fc); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	networkName := envOr("REBASEGATE_NETWORK", fc.Network)
	if networkName == "" {
		networkName = string(NetworkTestnet)
	}
	net, err := ParseNetwork(networkName)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Network:            net,
		RPCURL:             envOr("REBASEGATE_RPC_URL", fc.RPCURL),
		CollateralContract: envOr("REBASEGATE_COLLATERAL_CONTRACT", fc.CollateralContract),
		IssuedContract:     envOr("REBASEGATE_ISSUED_CONTRACT", fc.IssuedContract),
		ListenAddr:         envOr("REBASEGATE_LISTEN_ADDR", fc.ListenAddr),
		APISecret:          envOr("REBASEGATE_API_SECRET", ""),
		SecretKey:          envOr("REBASEGATE_SECRET_KEY", ""),
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	return cfg, nil
}

// Validate refuses to proceed when any ledger-facing value is absent.
func (c *Config) Validate() error {
	var missing []string
	if c.Network == "" {
		missing = append(missing, "network")
	}
	if c.RPCURL == "" {
		missing = append(missing, "rpc_url")
	}
	if c.CollateralContract == "" {
		missing = append(missing, "collateral_contract")
	}
	if c.IssuedContract == "" {
		missing = append(missing, "issued_contract")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}
