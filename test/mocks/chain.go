package mocks

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"

	"github.com/speedrun-hq/fundgraph/accountid"
)

// MockChainClient is a mock of the failover chain client
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Log), args.Error(1)
}

func (m *MockChainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Header), args.Error(1)
}

// SplitsHashes serves on-chain splits hashes from memory. Unknown accounts
// have the zero hash.
type SplitsHashes struct {
	mu     sync.Mutex
	hashes map[accountid.AccountID]common.Hash
	calls  int

	Err error
}

func NewSplitsHashes() *SplitsHashes {
	return &SplitsHashes{hashes: make(map[accountid.AccountID]common.Hash)}
}

func (s *SplitsHashes) Set(account accountid.AccountID, hash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[account] = hash
}

func (s *SplitsHashes) SplitsHash(_ context.Context, account accountid.AccountID) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Err != nil {
		return common.Hash{}, s.Err
	}
	return s.hashes[account], nil
}

func (s *SplitsHashes) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ErrDocumentNotFound is returned by Documents for unknown hashes.
var ErrDocumentNotFound = errors.New("document not found")

// Documents is an in-memory metadata store keyed by content hash.
type Documents struct {
	mu    sync.Mutex
	docs  map[string][]byte
	calls int
}

func NewDocuments() *Documents {
	return &Documents{docs: make(map[string][]byte)}
}

func (d *Documents) Put(hash string, doc []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[hash] = doc
}

func (d *Documents) Fetch(_ context.Context, hash string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	doc, ok := d.docs[hash]
	if !ok {
		return nil, errors.Wrap(ErrDocumentNotFound, hash)
	}
	return doc, nil
}

func (d *Documents) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
