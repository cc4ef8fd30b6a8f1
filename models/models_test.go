package models

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionOrdering(t *testing.T) {
	v1 := NewVersion(10, 1)
	v2 := NewVersion(10, 2)
	v3 := NewVersion(11, 0)

	assert.True(t, v2.After(v1))
	assert.True(t, v3.After(v2))
	assert.False(t, v1.After(v2))
	assert.False(t, v1.After(v1))

	assert.Equal(t, v3, UnpackVersion(v3.Packed()))

	parsed, err := ParseVersion("42949672962")
	require.NoError(t, err)
	assert.Equal(t, NewVersion(10, 2), parsed)

	_, err = ParseVersion("nope")
	assert.Error(t, err)
}

func TestEventArgsRoundTrip(t *testing.T) {
	accountID, ok := new(big.Int).SetString("26959946667150639794667015087019630673637144422540572481103610249217", 10)
	require.True(t, ok)

	owner := common.HexToAddress("0x5432109876543210987654321098765432109876")
	hash := common.HexToHash("0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890")

	args, err := NewEventArgs(map[string]interface{}{
		"accountId": accountID,
		"owner":     owner,
		"key":       [32]byte(hash),
		"value":     []byte("QmHash"),
		"forge":     uint8(1),
	})
	require.NoError(t, err)

	encoded, err := args.Encode()
	require.NoError(t, err)

	payload := &EventPayload{
		EventSignature:  "OwnerUpdated(uint256,address)",
		TransactionHash: "0x01",
		BlockNumber:     10,
		LogIndex:        2,
		BlockTimestamp:  time.Unix(1700000000, 0).UTC(),
		Args:            encoded,
	}
	assert.Equal(t, "10-0x01-2", payload.JobKey())
	assert.Equal(t, NewVersion(10, 2), payload.Version())

	decoded, err := payload.DecodeArgs()
	require.NoError(t, err)

	gotID, err := decoded.BigInt("accountId")
	require.NoError(t, err)
	assert.Equal(t, 0, accountID.Cmp(gotID))

	account, err := decoded.AccountID("accountId")
	require.NoError(t, err)
	assert.Equal(t, accountID.String(), account.String())

	gotOwner, err := decoded.Address("owner")
	require.NoError(t, err)
	assert.Equal(t, owner, gotOwner)

	gotHash, err := decoded.Hash("key")
	require.NoError(t, err)
	assert.Equal(t, hash, gotHash)

	gotValue, err := decoded.Bytes("value")
	require.NoError(t, err)
	assert.Equal(t, []byte("QmHash"), gotValue)

	forge, err := decoded.Uint("forge")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), forge)

	_, err = decoded.BigInt("missing")
	assert.Error(t, err)
}

func TestNewEventArgsUnsupported(t *testing.T) {
	_, err := NewEventArgs(map[string]interface{}{"x": struct{}{}})
	assert.Error(t, err)
}
