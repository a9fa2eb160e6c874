package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/vctt94/betvault/betpool"
	"github.com/vctt94/bisonbotkit/config"
)

// BetVaultConfig combines the base bot config with the settlement daemon's
// own settings. Vault credentials are per network; a payout routed to a
// network with no configured vault fails fatally at runtime, and a backend
// selected here is fixed for the process lifetime.
type BetVaultConfig struct {
	*config.BotConfig

	HTTPPort string
	Mode     betpool.Mode

	// Backend selects the payment path at startup: "vault" (real
	// transfers) or "simulated" (sandbox, records instead of paying).
	Backend string

	// Per-network vault credentials. Keys are 32-byte hex.
	VaultAddress     string
	VaultPrivKey     []byte
	TestVaultAddress string
	TestVaultPrivKey []byte

	// Ledger API endpoints per network (explorer-style JSON REST).
	APIBase     string
	TestAPIBase string

	// Optional dcrd connectivity; when set the daemon watches the chain
	// directly instead of using the HTTP ledger API.
	DcrdHost string
	DcrdCert string
	DcrdUser string
	DcrdPass string

	FeeAtoms    int64
	MaxInputs   int
	MinBetAtoms int64
	MaxRetries  int
}

func parseKey(v, name string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	kb, err := hex.DecodeString(v)
	if err != nil || len(kb) != 32 {
		return nil, fmt.Errorf("invalid %s: expected 64 hex chars (32 bytes)", name)
	}
	return kb, nil
}

// LoadBetVaultConfig loads the daemon config from dataDir/configFile.
func LoadBetVaultConfig(dataDir, configFile string) (*BetVaultConfig, error) {
	baseConfig, err := config.LoadBotConfig(dataDir, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}
	extra := baseConfig.ExtraConfig

	cfg := &BetVaultConfig{
		BotConfig:        baseConfig,
		HTTPPort:         extra["httpport"],
		Mode:             betpool.ModeParimutuel,
		Backend:          extra["backend"],
		VaultAddress:     extra["vaultaddress"],
		TestVaultAddress: extra["testvaultaddress"],
		APIBase:          extra["apibase"],
		TestAPIBase:      extra["testapibase"],
		DcrdHost:         extra["dcrdhost"],
		DcrdCert:         extra["dcrdcert"],
		DcrdUser:         extra["dcrduser"],
		DcrdPass:         extra["dcrdpass"],
	}
	if m := extra["mode"]; m != "" {
		cfg.Mode = betpool.Mode(m)
		if cfg.Mode != betpool.ModeParimutuel && cfg.Mode != betpool.ModeHouse {
			return nil, fmt.Errorf("unknown mode %q in %s", m, configFile)
		}
	}
	if cfg.Backend == "" {
		cfg.Backend = "vault"
	}
	if cfg.Backend != "vault" && cfg.Backend != "simulated" {
		return nil, fmt.Errorf("unknown backend %q in %s", cfg.Backend, configFile)
	}

	if cfg.VaultPrivKey, err = parseKey(extra["vaultprivkey"], "vaultprivkey"); err != nil {
		return nil, err
	}
	if cfg.TestVaultPrivKey, err = parseKey(extra["testvaultprivkey"], "testvaultprivkey"); err != nil {
		return nil, err
	}
	if cfg.Backend == "vault" && cfg.VaultPrivKey == nil && cfg.TestVaultPrivKey == nil {
		return nil, fmt.Errorf("no vault configured: set vaultaddress/vaultprivkey "+
			"or testvaultaddress/testvaultprivkey in %s", configFile)
	}
	if (cfg.VaultAddress == "") != (cfg.VaultPrivKey == nil) {
		return nil, fmt.Errorf("vaultaddress and vaultprivkey must be set together")
	}
	if (cfg.TestVaultAddress == "") != (cfg.TestVaultPrivKey == nil) {
		return nil, fmt.Errorf("testvaultaddress and testvaultprivkey must be set together")
	}

	for key, dst := range map[string]*int64{
		"feeatoms":    &cfg.FeeAtoms,
		"minbetatoms": &cfg.MinBetAtoms,
	} {
		if v := extra[key]; v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("failed to parse %s: %q", key, v)
			}
			*dst = n
		}
	}
	for key, dst := range map[string]*int{
		"maxinputs":  &cfg.MaxInputs,
		"maxretries": &cfg.MaxRetries,
	} {
		if v := extra[key]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("failed to parse %s: %q", key, v)
			}
			*dst = n
		}
	}
	return cfg, nil
}
