package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
	"github.com/speedrun-hq/fundgraph/models"
)

type logKey struct {
	txHash   string
	logIndex uint
}

type memState struct {
	logEvents map[logKey]models.LogEvent
	entities  map[accountid.AccountID]models.Entity
	receivers map[accountid.AccountID][]models.SplitsReceiver
}

func (s *memState) clone() *memState {
	c := &memState{
		logEvents: make(map[logKey]models.LogEvent, len(s.logEvents)),
		entities:  make(map[accountid.AccountID]models.Entity, len(s.entities)),
		receivers: make(map[accountid.AccountID][]models.SplitsReceiver, len(s.receivers)),
	}
	for k, v := range s.logEvents {
		c.logEvents[k] = v
	}
	for k, v := range s.entities {
		c.entities[k] = v
	}
	for k, v := range s.receivers {
		c.receivers[k] = append([]models.SplitsReceiver(nil), v...)
	}
	return c
}

// MockDB is an in-memory db.Database. Transactions are serialized and
// work on a copy of the state that replaces it on commit.
type MockDB struct {
	mu        sync.Mutex
	state     *memState
	cursor    uint64
	hasCursor bool

	// TxErr, when set, is returned by the next WithTx before fn runs.
	TxErr error
}

// NewMockDB creates a new MockDB instance
func NewMockDB() *MockDB {
	return &MockDB{state: (&memState{}).clone()}
}

func (m *MockDB) Close() error                 { return nil }
func (m *MockDB) Ping(context.Context) error   { return nil }
func (m *MockDB) InitDB(context.Context) error { return nil }

func (m *MockDB) GetCursor(context.Context) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, m.hasCursor, nil
}

func (m *MockDB) UpdateCursor(_ context.Context, blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasCursor || blockNumber > m.cursor {
		m.cursor = blockNumber
		m.hasCursor = true
	}
	return nil
}

func (m *MockDB) WithTx(_ context.Context, fn func(tx db.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.TxErr; err != nil {
		m.TxErr = nil
		return err
	}

	working := m.state.clone()
	if err := fn(&memTx{s: working}); err != nil {
		return err
	}
	m.state = working
	return nil
}

// Entity returns a committed entity.
func (m *MockDB) Entity(id accountid.AccountID) (*models.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state.entities[id]
	return &e, ok
}

// Receivers returns the committed receivers of funder.
func (m *MockDB) Receivers(funder accountid.AccountID) []models.SplitsReceiver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SplitsReceiver(nil), m.state.receivers[funder]...)
}

// LogEventCount returns the number of committed log events.
func (m *MockDB) LogEventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.logEvents)
}

// PutEntity stores an entity outside any transaction.
func (m *MockDB) PutEntity(e models.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.entities[e.AccountID] = e
}

type memTx struct {
	s *memState
}

func (t *memTx) LockAccount(context.Context, accountid.AccountID) error {
	return nil
}

func (t *memTx) FindOrCreateLogEvent(_ context.Context, event *models.LogEvent) (bool, error) {
	key := logKey{txHash: event.TransactionHash, logIndex: event.LogIndex}
	if _, ok := t.s.logEvents[key]; ok {
		return false, nil
	}
	stored := *event
	stored.CreatedAt = time.Now()
	t.s.logEvents[key] = stored
	return true, nil
}

func (t *memTx) IsLatestEvent(
	_ context.Context,
	signature string,
	account accountid.AccountID,
	v models.Version,
) (bool, error) {
	for _, e := range t.s.logEvents {
		if e.EventSignature == signature && e.AccountID == account && e.Version().After(v) {
			return false, nil
		}
	}
	return true, nil
}

func (t *memTx) LatestLogEvent(_ context.Context, signature string, account accountid.AccountID) (*models.LogEvent, error) {
	var latest *models.LogEvent
	for _, e := range t.s.logEvents {
		if e.EventSignature != signature || e.AccountID != account {
			continue
		}
		if latest == nil || e.Version().After(latest.Version()) {
			event := e
			latest = &event
		}
	}
	if latest == nil {
		return nil, db.ErrNotFound
	}
	return latest, nil
}

func (t *memTx) GetEntity(_ context.Context, id accountid.AccountID) (*models.Entity, error) {
	e, ok := t.s.entities[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &e, nil
}

func (t *memTx) CreateEntityIfAbsent(_ context.Context, entity *models.Entity) (*models.Entity, bool, error) {
	if e, ok := t.s.entities[entity.AccountID]; ok {
		return &e, false, nil
	}
	now := time.Now()
	entity.CreatedAt, entity.UpdatedAt = now, now
	t.s.entities[entity.AccountID] = *entity
	return entity, true, nil
}

func (t *memTx) UpdateEntity(_ context.Context, entity *models.Entity) error {
	if _, ok := t.s.entities[entity.AccountID]; !ok {
		return errors.Wrapf(db.ErrNotFound, "entity %s", entity.AccountID)
	}
	entity.UpdatedAt = time.Now()
	t.s.entities[entity.AccountID] = *entity
	return nil
}

func (t *memTx) ReplaceSplitsReceivers(
	_ context.Context,
	funder accountid.AccountID,
	receivers []models.SplitsReceiver,
) error {
	stored := make([]models.SplitsReceiver, len(receivers))
	for i, r := range receivers {
		r.FunderAccountID = funder
		stored[i] = r
	}
	t.s.receivers[funder] = stored
	return nil
}

func (t *memTx) GetSplitsReceivers(_ context.Context, funder accountid.AccountID) ([]models.SplitsReceiver, error) {
	out := append([]models.SplitsReceiver(nil), t.s.receivers[funder]...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].FundeeAccountID.Cmp(out[j].FundeeAccountID) < 0
	})
	return out, nil
}
