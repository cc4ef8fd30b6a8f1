package events

// Canonical signatures of the indexed events.
const (
	SigAccountMetadataEmitted = "AccountMetadataEmitted(uint256,bytes32,bytes)"
	SigSplitsSet              = "SplitsSet(uint256,bytes32)"
	SigGiven                  = "Given(uint256,uint256,address,uint128)"
	SigTransfer               = "Transfer(address,address,uint256)"
	SigOwnerUpdateRequested   = "OwnerUpdateRequested(uint256,uint8,bytes,address)"
	SigOwnerUpdated           = "OwnerUpdated(uint256,address)"
	SigCreatedSplits          = "CreatedSplits(uint256,bytes32)"
)
