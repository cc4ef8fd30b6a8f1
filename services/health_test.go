package services

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/test/mocks"
)

func TestIsHealthy(t *testing.T) {
	tests := []struct {
		name    string
		latest  uint64
		indexed uint64
		want    bool
	}{
		{"caught up", 100, 100, true},
		{"within threshold", 100, 91, true},
		{"at threshold", 100, 90, false},
		{"far behind", 100, 0, false},
		{"cursor ahead", 100, 105, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHealthy(tt.latest, tt.indexed, 10))
		})
	}
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	chain := &mocks.MockChainClient{}
	mockDB := mocks.NewMockDB()
	health := NewHealth(chain, mockDB, 10, logging.NewTesting(t))

	chain.On("BlockNumber", mock.Anything).Return(uint64(120), nil).Twice()

	require.NoError(t, mockDB.UpdateCursor(ctx, 100))
	status, err := health.Check(ctx)
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Equal(t, uint64(20), status.Lag)

	require.NoError(t, mockDB.UpdateCursor(ctx, 115))
	status, err = health.Check(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, HealthStatus{Healthy: true, LatestBlock: 120, IndexedBlock: 115, Lag: 5}, status)

	chain.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("rpc down"))
	_, err = health.Check(ctx)
	assert.Error(t, err)
}
