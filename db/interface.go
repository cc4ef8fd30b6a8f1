package db

import (
	"context"

	"github.com/pkg/errors"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Database is the indexer's persistent store.
type Database interface {
	Close() error
	Ping(ctx context.Context) error

	// InitDB creates the schema if missing.
	InitDB(ctx context.Context) error

	// GetCursor returns the last fully indexed block and whether one was stored.
	GetCursor(ctx context.Context) (uint64, bool, error)
	// UpdateCursor advances the cursor. Lower values are ignored.
	UpdateCursor(ctx context.Context, blockNumber uint64) error

	// WithTx runs fn in a transaction, retrying serialization failures and deadlocks.
	// The transaction commits iff fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx holds the operations handlers perform inside one transaction.
type Tx interface {
	// LockAccount serializes transactions touching the same account until commit.
	LockAccount(ctx context.Context, id accountid.AccountID) error

	// FindOrCreateLogEvent inserts the event unless (tx hash, log index) already exists.
	FindOrCreateLogEvent(ctx context.Context, event *models.LogEvent) (bool, error)
	// IsLatestEvent reports whether no stored event with the same signature for the
	// account has a strictly greater version.
	IsLatestEvent(ctx context.Context, signature string, account accountid.AccountID, v models.Version) (bool, error)
	// LatestLogEvent returns the highest-version event of a signature for the account.
	LatestLogEvent(ctx context.Context, signature string, account accountid.AccountID) (*models.LogEvent, error)

	GetEntity(ctx context.Context, id accountid.AccountID) (*models.Entity, error)
	// CreateEntityIfAbsent inserts the entity, or returns the stored row when one exists.
	CreateEntityIfAbsent(ctx context.Context, entity *models.Entity) (*models.Entity, bool, error)
	UpdateEntity(ctx context.Context, entity *models.Entity) error

	// ReplaceSplitsReceivers deletes the funder's edges and inserts receivers.
	ReplaceSplitsReceivers(ctx context.Context, funder accountid.AccountID, receivers []models.SplitsReceiver) error
	GetSplitsReceivers(ctx context.Context, funder accountid.AccountID) ([]models.SplitsReceiver, error)
}
