package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"escrowd/crypto"
	"escrowd/native/token"

	"github.com/BurntSushi/toml"
)

// DefaultReleaseDelaySeconds is the reference three-day cooling-off period.
const DefaultReleaseDelaySeconds = 259_200

// TokenConfig declares an asset ledger the daemon should host.
type TokenConfig struct {
	Symbol          string `toml:"Symbol"`
	Address         string `toml:"Address"`
	Callback        bool   `toml:"Callback"`
	GodModeOperator string `toml:"GodModeOperator,omitempty"`
	InitialHolder   string `toml:"InitialHolder,omitempty"`
	InitialSupply   string `toml:"InitialSupply,omitempty"`
}

// PairConfig fixes a buyer/seller pair at startup. When present the daemon
// also serves the fixed-pair escrow with push support for the named asset.
type PairConfig struct {
	Buyer  string `toml:"Buyer"`
	Seller string `toml:"Seller"`
	Asset  string `toml:"Asset"`
}

type Config struct {
	ListenAddress       string                `toml:"ListenAddress"`
	DataDir             string                `toml:"DataDir"`
	ServiceName         string                `toml:"ServiceName"`
	Environment         string                `toml:"Environment"`
	Custodian           string                `toml:"Custodian"`
	ReleaseDelaySeconds int64                 `toml:"ReleaseDelaySeconds"`
	Tokens              []TokenConfig         `toml:"Tokens"`
	Sanctions           token.SanctionsConfig `toml:"Sanctions"`
	Pair                *PairConfig           `toml:"Pair,omitempty"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrowd-data"
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "escrowd"
	}
	if cfg.ReleaseDelaySeconds <= 0 {
		cfg.ReleaseDelaySeconds = DefaultReleaseDelaySeconds
	}
}

// Validate checks every configured address so misconfiguration surfaces at
// startup instead of on the first transfer.
func (cfg *Config) Validate() error {
	if _, err := crypto.DecodeAddress(cfg.Custodian); err != nil {
		return fmt.Errorf("config: custodian address: %w", err)
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: token with empty symbol")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate token symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
		if _, err := crypto.DecodeAddress(tok.Address); err != nil {
			return fmt.Errorf("config: token %s address: %w", symbol, err)
		}
		if strings.TrimSpace(tok.GodModeOperator) != "" {
			if _, err := crypto.DecodeAddress(tok.GodModeOperator); err != nil {
				return fmt.Errorf("config: token %s god mode operator: %w", symbol, err)
			}
		}
		if strings.TrimSpace(tok.InitialHolder) != "" {
			if _, err := crypto.DecodeAddress(tok.InitialHolder); err != nil {
				return fmt.Errorf("config: token %s initial holder: %w", symbol, err)
			}
		}
	}
	if cfg.Pair != nil {
		if _, err := crypto.DecodeAddress(cfg.Pair.Buyer); err != nil {
			return fmt.Errorf("config: pair buyer: %w", err)
		}
		if _, err := crypto.DecodeAddress(cfg.Pair.Seller); err != nil {
			return fmt.Errorf("config: pair seller: %w", err)
		}
		if _, err := crypto.DecodeAddress(cfg.Pair.Asset); err != nil {
			return fmt.Errorf("config: pair asset: %w", err)
		}
	}
	if _, err := cfg.Sanctions.Parameters(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	custodianKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("config: generate custodian key: %w", err)
	}
	cfg := &Config{
		Custodian: custodianKey.PubKey().Address().String(),
	}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
