package config

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const (
	ethereumMainnetChainID = 1
	ethereumSepoliaChainID = 11155111
	localTestnetChainID    = 31337

	mainnetName      = "mainnet"
	sepoliaName      = "sepolia"
	localTestnetName = "localtestnet"
)

// Contracts are the protocol contracts whose logs are indexed.
type Contracts struct {
	Drips                 common.Address
	NFTDriver             common.Address
	RepoDriver            common.Address
	ImmutableSplitsDriver common.Address
}

// Addresses returns every tracked contract address.
func (c Contracts) Addresses() []common.Address {
	return []common.Address{c.Drips, c.NFTDriver, c.RepoDriver, c.ImmutableSplitsDriver}
}

// Network describes a deployment of the protocol.
type Network struct {
	Name       string
	ChainID    uint64
	Contracts  Contracts
	StartBlock uint64
}

var networks = map[string]Network{
	mainnetName: {
		Name:    mainnetName,
		ChainID: ethereumMainnetChainID,
		Contracts: Contracts{
			Drips:                 common.HexToAddress("0xd0Dd053392db676D57317CD4fe96Fc2cCf42D0b4"),
			NFTDriver:             common.HexToAddress("0xcf9c49B0962EDb01Cdaa5326299ba85D72405258"),
			RepoDriver:            common.HexToAddress("0x770023d55D09A9C110694827F1a6B32D5c2b373E"),
			ImmutableSplitsDriver: common.HexToAddress("0x1212975c0642B07F696080ec1916998441c2b774"),
		},
		StartBlock: 17662327,
	},
	sepoliaName: {
		Name:    sepoliaName,
		ChainID: ethereumSepoliaChainID,
		Contracts: Contracts{
			Drips:                 common.HexToAddress("0x74A32a38D945b9527524900429b083547DeB9bF4"),
			NFTDriver:             common.HexToAddress("0xdC773a04C0D6EFdb80E7dfF961B6a7B063a28B44"),
			RepoDriver:            common.HexToAddress("0xa71bdf410D48d4AA9aE1517A69D7E1Ef0c179b2B"),
			ImmutableSplitsDriver: common.HexToAddress("0xC3C1955bb50AdA4dC8a55aBC6d4d2a39242685c1"),
		},
		StartBlock: 4500000,
	},
	// local deployments always pass addresses via env overrides
	localTestnetName: {
		Name:    localTestnetName,
		ChainID: localTestnetChainID,
	},
}

// NetworkByName returns the named network
func NetworkByName(name string) (Network, error) {
	network, ok := networks[name]
	if !ok {
		return Network{}, errors.Errorf("unsupported network: %s", name)
	}
	return network, nil
}
