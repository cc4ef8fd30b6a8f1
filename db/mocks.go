package db

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockDB is a mock implementation of the Database interface for testing
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDB) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDB) InitDB(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDB) GetCursor(ctx context.Context) (uint64, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

func (m *MockDB) UpdateCursor(ctx context.Context, blockNumber uint64) error {
	args := m.Called(ctx, blockNumber)
	return args.Error(0)
}

func (m *MockDB) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}
