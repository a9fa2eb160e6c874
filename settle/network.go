package settle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/vctt94/betvault/vault"
)

// ErrMissingConfig means no vault is configured for the network a
// recipient address belongs to. Fatal, never retried.
var ErrMissingConfig = errors.New("no vault configured for network")

// ParamsForAddress picks chain parameters from the address prefix: Decred
// testnet addresses start with "T", simnet with "S", everything else is
// treated as mainnet. The address is fully validated later when decoded
// against these params.
func ParamsForAddress(addr string) *chaincfg.Params {
	switch {
	case strings.HasPrefix(addr, "T"):
		return chaincfg.TestNet3Params()
	case strings.HasPrefix(addr, "S"):
		return chaincfg.SimNetParams()
	}
	return chaincfg.MainNetParams()
}

// VaultSet holds at most one vault per network and routes each payment to
// the vault matching the recipient's network.
type VaultSet struct {
	byNet map[string]*vault.Vault
}

func NewVaultSet(vaults ...*vault.Vault) *VaultSet {
	s := &VaultSet{byNet: make(map[string]*vault.Vault)}
	for _, v := range vaults {
		if v == nil {
			continue
		}
		s.byNet[ParamsForAddress(v.Address()).Name] = v
	}
	return s
}

// For returns the vault serving addr's network.
func (s *VaultSet) For(addr string) (*vault.Vault, error) {
	params := ParamsForAddress(addr)
	v, ok := s.byNet[params.Name]
	if !ok {
		return nil, fmt.Errorf("%s (%s): %w", addr, params.Name, ErrMissingConfig)
	}
	return v, nil
}
