package httpjson

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gopkg.in/h2non/gentleman.v2"

	"github.com/speedrun-hq/fundgraph/db"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/models"
	"github.com/speedrun-hq/fundgraph/queue"
	"github.com/speedrun-hq/fundgraph/services"
	"github.com/speedrun-hq/fundgraph/test"
	"github.com/speedrun-hq/fundgraph/test/mocks"
)

type testSuite struct {
	t *testing.T

	Ctx      context.Context
	Client   *gentleman.Client
	Database *mocks.MockDB
	Health   *MockHealthChecker

	Logger zerolog.Logger
}

func newTestSuite(t *testing.T, database db.Database) *testSuite {
	gin.SetMode(gin.TestMode)

	var (
		ctx    = context.Background()
		logger = logging.NewTesting(t)
		router = gin.New()
		health = &MockHealthChecker{}
		memory = mocks.NewMockDB()
	)

	if database == nil {
		database = memory
	}

	cfg := Config{
		Logger:      logger,
		LogRequests: true,
		Dependencies: Dependencies{
			Database: database,
			Health:   health,
			Queue:    staticStats{Pending: 2, Failed: 1},
			Metrics:  services.NewMetricsService(logger),
		},
	}

	// Create handler
	h := newHandler(cfg, router)
	// Run test server
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	client := gentleman.New()
	client.BaseURL(server.URL)

	return &testSuite{
		t:        t,
		Ctx:      ctx,
		Client:   client,
		Logger:   logger,
		Database: memory,
		Health:   health,
	}
}

// MockHealthChecker is a mock implementation of the HealthChecker
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) Check(ctx context.Context) (services.HealthStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(services.HealthStatus), args.Error(1)
}

type staticStats queue.Stats

func (s staticStats) Stats(context.Context) (queue.Stats, error) {
	return queue.Stats(s), nil
}

func TestHandler(t *testing.T) {
	t.Run("health check", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t, nil)
		ts.Health.On("Check", mock.Anything).
			Return(services.HealthStatus{Healthy: true, LatestBlock: 100, IndexedBlock: 98, Lag: 2}, nil)

		// ACT
		resp, err := ts.Client.Get().AddPath("/health").Do()

		// ASSERT
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assertResponseContainsJSON(t, resp, "healthy", "true")
		assertResponseContainsJSON(t, resp, "indexedBlock", "98")
	})

	t.Run("health check lagging", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t, nil)
		ts.Health.On("Check", mock.Anything).
			Return(services.HealthStatus{Healthy: false, LatestBlock: 100, IndexedBlock: 50, Lag: 50}, nil)

		// ACT
		resp, err := ts.Client.Get().AddPath("/health").Do()

		// ASSERT
		require.NoError(t, err)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assertResponseContainsJSON(t, resp, "lag", "50")
	})

	t.Run("health check error", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t, nil)
		ts.Health.On("Check", mock.Anything).
			Return(services.HealthStatus{}, errors.New("all endpoints failed"))

		// ACT
		resp, err := ts.Client.Get().AddPath("/health").Do()

		// ASSERT
		require.NoError(t, err)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assertResponseContainsJSON(t, resp, "error", "all endpoints failed")
	})

	t.Run("metrics", func(t *testing.T) {
		ts := newTestSuite(t, nil)

		resp, err := ts.Client.Get().AddPath("/metrics").Do()

		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.String(), "fundgraph_cursor_block")
	})

	t.Run("queue stats", func(t *testing.T) {
		ts := newTestSuite(t, nil)

		resp, err := ts.Client.Get().AddPath("/api/v1/queue").Do()

		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assertResponseContainsJSON(t, resp, "pending", "2")
		assertResponseContainsJSON(t, resp, "failed", "1")
	})

	t.Run("unknown route", func(t *testing.T) {
		ts := newTestSuite(t, nil)

		resp, err := ts.Client.Get().AddPath("/api/v1/streams").Do()

		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAccounts(t *testing.T) {
	project := test.ProjectAccount("octo/repo")
	maintainer := test.AddressAccount("0x00000000000000000000000000000000000000cc")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	t.Run("get account", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t, nil)
		ts.Database.PutEntity(models.Entity{
			AccountID:            project,
			Kind:                 models.EntityProject,
			OwnerAddress:         &owner,
			Name:                 "octo/repo",
			VerificationStatus:   models.VerificationClaimed,
			IsValid:              true,
			IsVisible:            true,
			LastProcessedVersion: models.NewVersion(42, 1),
		})
		require.NoError(t, ts.Database.WithTx(ts.Ctx, func(tx db.Tx) error {
			return tx.ReplaceSplitsReceivers(ts.Ctx, project, []models.SplitsReceiver{
				{FundeeAccountID: maintainer, Weight: 1_000_000, Type: models.ReceiverAddress},
			})
		}))

		// ACT
		resp, err := ts.Client.Get().AddPath("/api/v1/accounts/" + project.String()).Do()

		// ASSERT
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assertResponseContainsJSON(t, resp, "kind", "project")
		assertResponseContainsJSON(t, resp, "driver", "repo")
		assertResponseContainsJSON(t, resp, "owner", owner.Hex())
		assertResponseContainsJSON(t, resp, "lastProcessedBlock", "42")
		assertResponseContainsJSON(t, resp, "receivers.0.accountId", maintainer.String())
		assertResponseContainsJSON(t, resp, "receivers.0.weight", "1000000")
	})

	t.Run("unknown account", func(t *testing.T) {
		ts := newTestSuite(t, nil)

		resp, err := ts.Client.Get().AddPath("/api/v1/accounts/" + project.String()).Do()

		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assertResponseContainsJSON(t, resp, "error", "not found")
	})

	t.Run("invalid id", func(t *testing.T) {
		ts := newTestSuite(t, nil)

		resp, err := ts.Client.Get().AddPath("/api/v1/accounts/0xnope").Do()

		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("database error", func(t *testing.T) {
		database := &db.MockDB{}
		database.On("WithTx", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
		ts := newTestSuite(t, database)

		resp, err := ts.Client.Get().AddPath("/api/v1/accounts/" + project.String()).Do()

		require.NoError(t, err)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		database.AssertExpectations(t)
	})
}

func assertResponseContainsJSON(t *testing.T, res *gentleman.Response, path string, contains string) {
	r := gjson.GetBytes(res.Bytes(), path)

	assert.Contains(t, r.String(), contains, res.String())
}
