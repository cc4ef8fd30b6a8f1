package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkByName(t *testing.T) {
	tests := []struct {
		name    string
		chainID uint64
		wantErr bool
	}{
		{mainnetName, ethereumMainnetChainID, false},
		{sepoliaName, ethereumSepoliaChainID, false},
		{localTestnetName, localTestnetChainID, false},
		{"moonbase", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NetworkByName(tt.name)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.chainID, got.ChainID)
			assert.Len(t, got.Contracts.Addresses(), 4)
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("NETWORK", "sepolia")
	t.Setenv("PRIMARY_RPC_URL", "https://primary.example")
	t.Setenv("PRIMARY_RPC_ACCESS_TOKEN", "secret")
	t.Setenv("FALLBACK_RPC_URLS", "https://fallback-1.example, https://fallback-2.example")
	t.Setenv("FALLBACK_RPC_ACCESS_TOKENS", "t1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, sepoliaName, cfg.Network.Name)
	assert.Equal(t, 5*time.Second, cfg.PollingInterval)
	assert.Equal(t, uint64(1000), cfg.ChunkSize)
	assert.Equal(t, uint64(1), cfg.Confirmations)
	assert.Equal(t, 5, cfg.QueueConcurrency)
	assert.Equal(t, uint64(10), cfg.HealthBlockThreshold)

	require.Len(t, cfg.Endpoints, 3)
	assert.Equal(t, RPCEndpoint{URL: "https://primary.example", AccessToken: "secret"}, cfg.Endpoints[0])
	assert.Equal(t, RPCEndpoint{URL: "https://fallback-1.example", AccessToken: "t1"}, cfg.Endpoints[1])
	assert.Equal(t, RPCEndpoint{URL: "https://fallback-2.example"}, cfg.Endpoints[2])
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("NETWORK", "localtestnet")
	t.Setenv("PRIMARY_RPC_URL", "http://localhost:8545")
	t.Setenv("POLLING_INTERVAL", "250")
	t.Setenv("CHUNK_SIZE", "50")
	t.Setenv("CONFIRMATIONS", "0")
	t.Setenv("DRIPS_ADDRESS", "0x1234567890123456789012345678901234567890")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.PollingInterval)
	assert.Equal(t, uint64(50), cfg.ChunkSize)
	assert.Equal(t, uint64(0), cfg.Confirmations)
	assert.Equal(t, common.HexToAddress("0x1234567890123456789012345678901234567890"), cfg.Network.Contracts.Drips)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing primary", func(t *testing.T) {
		t.Setenv("PRIMARY_RPC_URL", "")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("bad chunk size", func(t *testing.T) {
		t.Setenv("PRIMARY_RPC_URL", "http://localhost:8545")
		t.Setenv("CHUNK_SIZE", "0")
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("health threshold within confirmations", func(t *testing.T) {
		t.Setenv("PRIMARY_RPC_URL", "http://localhost:8545")
		t.Setenv("CONFIRMATIONS", "12")
		t.Setenv("HEALTH_BLOCK_THRESHOLD", "12")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HEALTH_BLOCK_THRESHOLD")

		t.Setenv("HEALTH_BLOCK_THRESHOLD", "13")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, uint64(13), cfg.HealthBlockThreshold)
	})

	t.Run("bad contract override", func(t *testing.T) {
		t.Setenv("PRIMARY_RPC_URL", "http://localhost:8545")
		t.Setenv("NFT_DRIVER_ADDRESS", "nope")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
