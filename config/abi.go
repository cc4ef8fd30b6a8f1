package config

// DripsABI covers the Drips hub events and the splitsHash view used for reconciliation.
const DripsABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "accountId", "type": "uint256"},
			{"indexed": true, "internalType": "bytes32", "name": "key", "type": "bytes32"},
			{"indexed": false, "internalType": "bytes", "name": "value", "type": "bytes"}
		],
		"name": "AccountMetadataEmitted",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "accountId", "type": "uint256"},
			{"indexed": true, "internalType": "bytes32", "name": "receiversHash", "type": "bytes32"}
		],
		"name": "SplitsSet",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "accountId", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "receiver", "type": "uint256"},
			{"indexed": true, "internalType": "contract IERC20", "name": "erc20", "type": "address"},
			{"indexed": false, "internalType": "uint128", "name": "amt", "type": "uint128"}
		],
		"name": "Given",
		"type": "event"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "accountId", "type": "uint256"}
		],
		"name": "splitsHash",
		"outputs": [
			{"internalType": "bytes32", "name": "currSplitsHash", "type": "bytes32"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// NFTDriverABI is the ERC-721 transfer event of the NFT driver.
const NFTDriverABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "from", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "to", "type": "address"},
			{"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	}
]`

// RepoDriverABI covers the ownership claim flow of repo driver accounts.
const RepoDriverABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "accountId", "type": "uint256"},
			{"indexed": false, "internalType": "enum Forge", "name": "forge", "type": "uint8"},
			{"indexed": false, "internalType": "bytes", "name": "name", "type": "bytes"},
			{"indexed": false, "internalType": "address", "name": "payer", "type": "address"}
		],
		"name": "OwnerUpdateRequested",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "accountId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "owner", "type": "address"}
		],
		"name": "OwnerUpdated",
		"type": "event"
	}
]`

// ImmutableSplitsDriverABI is the creation event of immutable split lists.
const ImmutableSplitsDriverABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "accountId", "type": "uint256"},
			{"indexed": true, "internalType": "bytes32", "name": "receiversHash", "type": "bytes32"}
		],
		"name": "CreatedSplits",
		"type": "event"
	}
]`
