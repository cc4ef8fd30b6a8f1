package events

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/fundgraph/config"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/test"
	"github.com/speedrun-hq/fundgraph/test/mocks"
)

func TestComputeReceiversHash(t *testing.T) {
	a := test.AddressAccount("0x00000000000000000000000000000000000000aa")
	b := test.ProjectAccount("octo/repo")
	c := test.NFTAccount(4)

	t.Run("empty is zero", func(t *testing.T) {
		hash, err := ComputeReceiversHash(nil)
		require.NoError(t, err)
		assert.Equal(t, common.Hash{}, hash)
	})

	t.Run("order independent", func(t *testing.T) {
		h1, err := ComputeReceiversHash([]Receiver{{a, 1}, {b, 2}, {c, 3}})
		require.NoError(t, err)
		h2, err := ComputeReceiversHash([]Receiver{{c, 3}, {a, 1}, {b, 2}})
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
		assert.NotEqual(t, common.Hash{}, h1)
	})

	t.Run("duplicates ignored", func(t *testing.T) {
		h1, err := ComputeReceiversHash([]Receiver{{a, 1}, {b, 2}})
		require.NoError(t, err)
		h2, err := ComputeReceiversHash([]Receiver{{b, 2}, {a, 1}, {b, 2}})
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("weight matters", func(t *testing.T) {
		h1, err := ComputeReceiversHash([]Receiver{{a, 1}})
		require.NoError(t, err)
		h2, err := ComputeReceiversHash([]Receiver{{a, 2}})
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})
}

func TestReconcilerVerify(t *testing.T) {
	account := test.ProjectAccount("octo/repo")
	receivers := []Receiver{{test.AddressAccount("0x00000000000000000000000000000000000000aa"), 1_000_000}}
	hash, err := ComputeReceiversHash(receivers)
	require.NoError(t, err)

	splits := mocks.NewSplitsHashes()
	reconciler := NewReconciler(splits, logging.NewTesting(t))

	err = reconciler.Verify(context.Background(), account, receivers)
	assert.True(t, errors.Is(err, ErrSplitsMismatch))

	splits.Set(account, hash)
	assert.NoError(t, reconciler.Verify(context.Background(), account, receivers))
	assert.NoError(t, reconciler.Verify(context.Background(), test.ProjectAccount("octo/empty"), nil))

	splits.Err = errors.New("rpc down")
	err = reconciler.Verify(context.Background(), account, receivers)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSplitsMismatch))
}

type fakeCaller struct {
	msg ethereum.CallMsg
	out []byte
	err error
}

func (c *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.msg = msg
	return c.out, c.err
}

func TestDripsSplitsReader(t *testing.T) {
	drips, err := abi.JSON(strings.NewReader(config.DripsABI))
	require.NoError(t, err)

	want := common.HexToHash("0x1234")
	out, err := drips.Methods["splitsHash"].Outputs.Pack([32]byte(want))
	require.NoError(t, err)

	address := common.HexToAddress("0xd0d0")
	caller := &fakeCaller{out: out}
	reader, err := NewDripsSplitsReader(caller, address)
	require.NoError(t, err)

	account := test.NFTAccount(1)
	got, err := reader.SplitsHash(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NotNil(t, caller.msg.To)
	assert.Equal(t, address, *caller.msg.To)
	expected, err := drips.Pack("splitsHash", account.Big())
	require.NoError(t, err)
	assert.Equal(t, expected, caller.msg.Data)

	caller.out = []byte{0x01}
	_, err = reader.SplitsHash(context.Background(), account)
	assert.Error(t, err)

	caller.err = errors.New("execution reverted")
	_, err = reader.SplitsHash(context.Background(), account)
	assert.Error(t, err)
}
