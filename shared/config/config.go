// Package config loads and validates the ticker configuration from a YAML file
// with command-line flag overrides.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linluma/xrpticker/shared/security"
)

// Polling defaults and floors (seconds)
const (
	DefaultPricePollInterval   = 5
	MinPricePollInterval       = 5
	DefaultBalancePollInterval = 30
	MinBalancePollInterval     = 10
	DefaultRequestTimeout      = 30
	DefaultHistoryPoints       = 60
)

// DefaultXRPLEndpoints lists the XRPL endpoints in priority order
var DefaultXRPLEndpoints = []string{
	"wss://xrplcluster.com",
	"wss://s1.ripple.com",
	"wss://s2.ripple.com",
	"wss://xrpl.ws",
}

// WalletConfig holds the tracked wallet addresses
type WalletConfig struct {
	Addresses []string `yaml:"addresses"`
}

// ConnectionsConfig holds endpoint and polling settings
type ConnectionsConfig struct {
	XRPLEndpoints      []string `yaml:"xrpl_endpoints"`
	XRPLPollInterval   int      `yaml:"xrpl_poll_interval"`
	PricePollInterval  int      `yaml:"price_poll_interval"`
	RequestTimeoutSecs int      `yaml:"request_timeout"`
}

// DisplayConfig holds presentation settings
type DisplayConfig struct {
	HistoryPoints int `yaml:"history_points"`
}

// Config is the root configuration tree
type Config struct {
	Wallet      WalletConfig      `yaml:"wallet"`
	Connections ConnectionsConfig `yaml:"connections"`
	Display     DisplayConfig     `yaml:"display"`
}

// Flags holds command-line overrides
type Flags struct {
	ConfigPath string
	Wallet     string
	Debug      bool
}

// ParseFlags parses command line flags for the ticker service
func ParseFlags() *Flags {
	var (
		configPath = flag.String("config", "", "Path to config file (default: config.yaml in working directory)")
		wallet     = flag.String("wallet", "", "XRP wallet address (overrides config file)")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	return &Flags{
		ConfigPath: *configPath,
		Wallet:     *wallet,
		Debug:      *debug,
	}
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file, applies defaults and floors, and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Connections.XRPLEndpoints) == 0 {
		c.Connections.XRPLEndpoints = append([]string(nil), DefaultXRPLEndpoints...)
	}
	if c.Connections.XRPLPollInterval == 0 {
		c.Connections.XRPLPollInterval = DefaultBalancePollInterval
	}
	if c.Connections.PricePollInterval == 0 {
		c.Connections.PricePollInterval = DefaultPricePollInterval
	}
	if c.Connections.RequestTimeoutSecs == 0 {
		c.Connections.RequestTimeoutSecs = DefaultRequestTimeout
	}
	if c.Display.HistoryPoints == 0 {
		c.Display.HistoryPoints = DefaultHistoryPoints
	}

	// Enforce floors and ceilings
	if c.Connections.PricePollInterval < MinPricePollInterval {
		c.Connections.PricePollInterval = MinPricePollInterval
	}
	if c.Connections.XRPLPollInterval < MinBalancePollInterval {
		c.Connections.XRPLPollInterval = MinBalancePollInterval
	}
	if time.Duration(c.Connections.RequestTimeoutSecs)*time.Second > security.MaxRequestTimeout {
		c.Connections.RequestTimeoutSecs = int(security.MaxRequestTimeout / time.Second)
	}
}

// Validate checks wallet addresses and endpoint trust. Untrusted endpoints are
// rejected outright rather than silently dropped.
func (c *Config) Validate() error {
	for _, addr := range c.Wallet.Addresses {
		if !security.ValidateXRPAddress(addr) {
			return fmt.Errorf("invalid XRP address %q", security.MaskAddress(addr))
		}
	}

	for _, endpoint := range c.Connections.XRPLEndpoints {
		if !security.IsTrustedEndpoint(endpoint) {
			return fmt.Errorf("endpoint %q is not a trusted wss endpoint", endpoint)
		}
	}

	return nil
}

// PricePoll returns the price polling interval as a duration
func (c *Config) PricePoll() time.Duration {
	return time.Duration(c.Connections.PricePollInterval) * time.Second
}

// BalancePoll returns the balance polling interval as a duration
func (c *Config) BalancePoll() time.Duration {
	return time.Duration(c.Connections.XRPLPollInterval) * time.Second
}

// RequestTimeout returns the upstream request timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Connections.RequestTimeoutSecs) * time.Second
}

// AddWallet appends a wallet address if it is not already tracked
func (c *Config) AddWallet(address string) {
	for _, existing := range c.Wallet.Addresses {
		if existing == address {
			return
		}
	}
	c.Wallet.Addresses = append(c.Wallet.Addresses, address)
}

// WriteDefault writes a commented default config file to path
func WriteDefault(path string, address string) error {
	content := fmt.Sprintf(`# xrpticker configuration

wallet:
  addresses:
    - %q

connections:
  # Seconds between balance checks (lower = faster updates, higher = less API load)
  xrpl_poll_interval: %d
  price_poll_interval: %d
  xrpl_endpoints:
    - %s

display:
  history_points: %d
`,
		address,
		DefaultBalancePollInterval,
		DefaultPricePollInterval,
		strings.Join(DefaultXRPLEndpoints, "\n    - "),
		DefaultHistoryPoints,
	)

	return os.WriteFile(path, []byte(content), 0o644)
}
