package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/fundgraph/events"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/models"
	"github.com/speedrun-hq/fundgraph/queue"
	"github.com/speedrun-hq/fundgraph/test"
	"github.com/speedrun-hq/fundgraph/test/mocks"
)

func TestIndexerEndToEnd(t *testing.T) {
	logger := logging.NewTesting(t)
	project := test.ProjectAccount("octo/repo")

	server := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	jobs := queue.New(rdb, queue.Options{
		PollTimeout:     time.Second,
		PromoteInterval: 10 * time.Millisecond,
		InitialBackoff:  10 * time.Millisecond,
	}, logger)

	chain := &mocks.MockChainClient{}
	chain.On("BlockNumber", mock.Anything).Return(uint64(20), nil)
	chain.On("FilterLogs", mock.Anything, rangeQuery(1, 20)).
		Return([]types.Log{ownerUpdatedLog(t, project, 5, 0)}, nil).Once()
	chain.On("HeaderByNumber", mock.Anything, mock.Anything).
		Return(&types.Header{Time: uint64(time.Now().Unix())}, nil)

	mockDB := mocks.NewMockDB()
	decoder, err := events.NewDecoder(testContracts)
	require.NoError(t, err)
	registry := events.NewDefaultRegistry(mocks.NewDocuments(), events.NewReconciler(mocks.NewSplitsHashes(), logger), 0)
	router := events.NewRouter(mockDB, registry, nil, logger)

	metrics := NewMetricsService(logger)
	poller, err := NewPoller(chain, mockDB, decoder, registry, jobs, metrics, PollerConfig{
		Contracts:       testContracts.Addresses(),
		ChunkSize:       100,
		PollingInterval: 20 * time.Millisecond,
		StartBlock:      1,
	}, logger)
	require.NoError(t, err)

	indexer := NewIndexer(poller, jobs, NewProcessor(router, metrics, logger), metrics, 2, logger)
	indexer.Start(context.Background())

	require.Eventually(t, func() bool {
		entity, ok := mockDB.Entity(project)
		return ok && entity.VerificationStatus == models.VerificationClaimed
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		state, _, err := jobs.State(context.Background(), "5-"+ownerUpdatedLog(t, project, 5, 0).TxHash.Hex()+"-0")
		return err == nil && state == queue.StateCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, uint64(20), poller.LastIndexedBlock())
	assert.Equal(t, int32(3), indexer.ActiveGoroutines())

	require.NoError(t, indexer.Shutdown(5*time.Second))
	assert.Equal(t, int32(0), indexer.ActiveGoroutines())
	assert.NoError(t, indexer.Shutdown(time.Second))

	select {
	case err := <-indexer.Errors():
		t.Fatalf("unexpected indexer error: %v", err)
	default:
	}
}
