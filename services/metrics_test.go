package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/fundgraph/events"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/queue"
	"github.com/speedrun-hq/fundgraph/test/mocks"
)

type staticStats queue.Stats

func (s staticStats) Stats(context.Context) (queue.Stats, error) {
	return queue.Stats(s), nil
}

func TestMetricsService_UpdateMetrics(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTesting(t)

	chain := &mocks.MockChainClient{}
	chain.On("BlockNumber", mock.Anything).Return(uint64(50), nil)
	mockDB := mocks.NewMockDB()
	require.NoError(t, mockDB.UpdateCursor(ctx, 45))

	metrics := NewMetricsService(logger)
	metrics.RegisterQueue(staticStats{Pending: 3, Processing: 1, Delayed: 2, Failed: 4})
	metrics.RegisterHealth(NewHealth(chain, mockDB, 10, logger))

	metrics.UpdateMetrics(ctx)

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.queueJobs.WithLabelValues(queue.StatePending)))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.queueJobs.WithLabelValues(queue.StateFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.indexerHealthy))
	assert.Equal(t, float64(50), testutil.ToFloat64(metrics.chainHeadBlock))
}

func TestMetricsService_Handler(t *testing.T) {
	metrics := NewMetricsService(logging.NewTesting(t))
	metrics.SetCursor(1234)
	metrics.ObserveEvent(events.StatusOK)

	server := httptest.NewServer(metrics.GetHandler())
	defer server.Close()

	res, err := http.Get(server.URL)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fundgraph_cursor_block 1234")
	assert.Contains(t, string(body), `fundgraph_events_processed_total{status="ok"} 1`)
}
