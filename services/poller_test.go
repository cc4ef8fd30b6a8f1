package services

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/config"
	"github.com/speedrun-hq/fundgraph/events"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/test"
	"github.com/speedrun-hq/fundgraph/test/mocks"
)

var testContracts = config.Contracts{
	Drips:                 common.HexToAddress("0x0000000000000000000000000000000000000d01"),
	NFTDriver:             common.HexToAddress("0x0000000000000000000000000000000000000d02"),
	RepoDriver:            common.HexToAddress("0x0000000000000000000000000000000000000d03"),
	ImmutableSplitsDriver: common.HexToAddress("0x0000000000000000000000000000000000000d04"),
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs map[string][]byte
	keys []string
	err  error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string][]byte)}
}

func (q *fakeQueue) Enqueue(_ context.Context, id string, payload []byte) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	if _, ok := q.jobs[id]; ok {
		return false, nil
	}
	q.jobs[id] = payload
	q.keys = append(q.keys, id)
	return true, nil
}

func (q *fakeQueue) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.keys...)
}

type pollerFixture struct {
	chain   *mocks.MockChainClient
	db      *mocks.MockDB
	queue   *fakeQueue
	metrics *MetricsService
	poller  *Poller
}

func newPollerFixture(t *testing.T, cfg PollerConfig) *pollerFixture {
	t.Helper()

	decoder, err := events.NewDecoder(testContracts)
	require.NoError(t, err)

	logger := logging.NewTesting(t)
	f := &pollerFixture{
		chain:   &mocks.MockChainClient{},
		db:      mocks.NewMockDB(),
		queue:   newFakeQueue(),
		metrics: NewMetricsService(logger),
	}

	cfg.Contracts = testContracts.Addresses()
	f.poller, err = NewPoller(f.chain, f.db, decoder, events.NewDefaultRegistry(nil, nil, 0), f.queue, f.metrics, cfg, logger)
	require.NoError(t, err)

	return f
}

func rangeQuery(from, to int64) interface{} {
	return mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return q.FromBlock.Cmp(big.NewInt(from)) == 0 && q.ToBlock.Cmp(big.NewInt(to)) == 0 && len(q.Addresses) == 4
	})
}

func ownerUpdatedLog(t *testing.T, account accountid.AccountID, block uint64, index uint) types.Log {
	t.Helper()

	parsed, err := abi.JSON(strings.NewReader(config.RepoDriverABI))
	require.NoError(t, err)
	event := parsed.Events["OwnerUpdated"]

	data, err := event.Inputs.NonIndexed().Pack(common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	require.NoError(t, err)

	return types.Log{
		Address:     testContracts.RepoDriver,
		Topics:      []common.Hash{event.ID, common.BigToHash(account.Big())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
	}
}

func TestPollerChunkBoundary(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{ChunkSize: 1000, Confirmations: 5, StartBlock: 1})
	ctx := context.Background()

	f.chain.On("BlockNumber", mock.Anything).Return(uint64(2005), nil)
	f.chain.On("FilterLogs", mock.Anything, rangeQuery(1, 1000)).Return([]types.Log{}, nil).Once()
	f.chain.On("FilterLogs", mock.Anything, rangeQuery(1001, 2000)).Return([]types.Log{}, nil).Once()

	full, err := f.poller.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, full)
	cursor, ok, _ := f.db.GetCursor(ctx)
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), cursor)

	_, err = f.poller.Tick(ctx)
	require.NoError(t, err)
	cursor, _, _ = f.db.GetCursor(ctx)
	assert.Equal(t, uint64(2000), cursor)

	// nothing confirmed beyond the safe head
	full, err = f.poller.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, full)
	cursor, _, _ = f.db.GetCursor(ctx)
	assert.Equal(t, uint64(2000), cursor)
	assert.Equal(t, uint64(2000), f.poller.LastIndexedBlock())
	assert.Equal(t, float64(2000), testutil.ToFloat64(f.metrics.cursorBlock))

	f.chain.AssertExpectations(t)
}

func TestPollerConfirmationsAboveHead(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{ChunkSize: 10, Confirmations: 50})

	f.chain.On("BlockNumber", mock.Anything).Return(uint64(20), nil)

	full, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, full)
	f.chain.AssertNotCalled(t, "FilterLogs", mock.Anything, mock.Anything)
}

func TestPollerResumesFromCursor(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{ChunkSize: 100, StartBlock: 1})
	require.NoError(t, f.db.UpdateCursor(context.Background(), 500))

	f.chain.On("BlockNumber", mock.Anything).Return(uint64(550), nil)
	f.chain.On("FilterLogs", mock.Anything, rangeQuery(501, 550)).Return([]types.Log{}, nil).Once()

	full, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, full)
	f.chain.AssertExpectations(t)
}

func TestPollerEnqueuesLogs(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{ChunkSize: 100, StartBlock: 1})
	project := test.ProjectAccount("octo/repo")

	kept := ownerUpdatedLog(t, project, 10, 0)
	second := ownerUpdatedLog(t, project, 10, 3)
	removed := ownerUpdatedLog(t, project, 11, 0)
	removed.Removed = true
	untracked := ownerUpdatedLog(t, project, 12, 0)
	untracked.Address = common.HexToAddress("0x0000000000000000000000000000000000000bad")

	f.chain.On("BlockNumber", mock.Anything).Return(uint64(50), nil)
	f.chain.On("FilterLogs", mock.Anything, rangeQuery(1, 50)).
		Return([]types.Log{kept, second, removed, untracked}, nil)
	f.chain.On("HeaderByNumber", mock.Anything, mock.Anything).
		Return(&types.Header{Number: big.NewInt(10), Time: 1_700_000_000}, nil).Once()

	_, err := f.poller.Tick(context.Background())
	require.NoError(t, err)

	keys := f.queue.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, "10-"+kept.TxHash.Hex()+"-0", keys[0])
	assert.Equal(t, "10-"+second.TxHash.Hex()+"-3", keys[1])
	assert.Contains(t, string(f.queue.jobs[keys[0]]), `"eventSignature":"OwnerUpdated(uint256,address)"`)

	// the header of block 10 is cached
	f.chain.AssertNumberOfCalls(t, "HeaderByNumber", 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.jobsEnqueued))
}

func TestPollerKeepsCursorOnFailure(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{ChunkSize: 100, StartBlock: 1})
	project := test.ProjectAccount("octo/repo")

	f.chain.On("BlockNumber", mock.Anything).Return(uint64(50), nil)
	f.chain.On("FilterLogs", mock.Anything, rangeQuery(1, 50)).
		Return([]types.Log{ownerUpdatedLog(t, project, 10, 0)}, nil)
	f.chain.On("HeaderByNumber", mock.Anything, mock.Anything).
		Return(&types.Header{Time: 1_700_000_000}, nil)

	f.queue.err = errors.New("redis down")
	_, err := f.poller.Tick(context.Background())
	require.Error(t, err)

	_, ok, _ := f.db.GetCursor(context.Background())
	assert.False(t, ok)

	// the next tick fetches the same range again
	f.queue.err = nil
	_, err = f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.queue.Keys(), 1)

	cursor, _, _ := f.db.GetCursor(context.Background())
	assert.Equal(t, uint64(50), cursor)
}

func TestPollerRPCError(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{ChunkSize: 100})

	f.chain.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("all endpoints failed"))

	_, err := f.poller.Tick(context.Background())
	assert.Error(t, err)
}

func TestPollerTickInFlight(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{ChunkSize: 100})

	f.poller.tickMu.Lock()
	_, err := f.poller.Tick(context.Background())
	f.poller.tickMu.Unlock()

	assert.True(t, errors.Is(err, ErrTickInFlight))
}

func TestNewPollerRequiresContracts(t *testing.T) {
	_, err := NewPoller(nil, nil, nil, nil, nil, nil, PollerConfig{}, logging.NewTesting(t))
	assert.Error(t, err)
}
