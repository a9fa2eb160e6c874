package settle

import (
	"testing"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/stretchr/testify/assert"
)

func TestParamsForAddress(t *testing.T) {
	cases := []struct {
		addr string
		want *chaincfg.Params
	}{
		{"TsYCcKHzub8VNA8PDDBl6LAR2AccmWtPbbd", chaincfg.TestNet3Params()},
		{"SsjRjRCnm5qoAZECVLybJzQPQPjjZOCzV5b", chaincfg.SimNetParams()},
		{"DsYCcKHzub8VNA8PDDBl6LAR2AccmWtPbbd", chaincfg.MainNetParams()},
		{"", chaincfg.MainNetParams()},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want.Name, ParamsForAddress(tc.addr).Name, tc.addr)
	}
}

func TestVaultSetForUnknownNetwork(t *testing.T) {
	s := NewVaultSet()
	_, err := s.For("TsYCcKHzub8VNA8PDDBl6LAR2AccmWtPbbd")
	assert.ErrorIs(t, err, ErrMissingConfig)
	_, err = s.For("DsYCcKHzub8VNA8PDDBl6LAR2AccmWtPbbd")
	assert.ErrorIs(t, err, ErrMissingConfig)
}
