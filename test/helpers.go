package test

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/models"
)

// Raw driver ids of the account kinds without a dedicated constructor.
const (
	nftDriverID             = 1
	immutableSplitsDriverID = 2
)

// NFTAccount returns the NFT driver account with token number n.
func NFTAccount(n uint64) accountid.AccountID {
	return accountid.Encode(nftDriverID, uint256.NewInt(n))
}

// SubListAccount returns the immutable splits driver account number n.
func SubListAccount(n uint64) accountid.AccountID {
	return accountid.Encode(immutableSplitsDriverID, uint256.NewInt(n))
}

// ProjectAccount returns the GitHub repo account of name.
func ProjectAccount(name string) accountid.AccountID {
	return accountid.FromRepo(accountid.ForgeGitHub, []byte(name))
}

// ORCIDAccount returns the linked identity account of an ORCID id.
func ORCIDAccount(id string) accountid.AccountID {
	return accountid.FromRepo(accountid.ForgeORCID, []byte(id))
}

// AddressAccount returns the address driver account of a hex address.
func AddressAccount(addr string) accountid.AccountID {
	return accountid.FromAddress(common.HexToAddress(addr))
}

// Payload builds an event payload at (block, logIndex) with a transaction
// hash derived from both.
func Payload(signature string, block uint64, logIndex uint, args models.EventArgs) *models.EventPayload {
	encoded, err := args.Encode()
	if err != nil {
		panic(err)
	}

	return &models.EventPayload{
		EventSignature:  signature,
		ContractAddress: "0x0000000000000000000000000000000000000001",
		TransactionHash: common.BytesToHash([]byte(fmt.Sprintf("tx-%d-%d", block, logIndex))).Hex(),
		BlockNumber:     block,
		LogIndex:        logIndex,
		BlockTimestamp:  time.Unix(1_700_000_000+int64(block)*12, 0).UTC(),
		Args:            encoded,
	}
}

// Bytes renders s the way byte arguments are stored in event args.
func Bytes(s string) string {
	return hexutil.Encode([]byte(s))
}

// Bytes32 renders s left-aligned in a bytes32 argument.
func Bytes32(s string) string {
	var h common.Hash
	copy(h[:], s)
	return h.Hex()
}
