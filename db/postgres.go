package db

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/logging"
)

const (
	maxTxRetries       = 5
	txRetryInitialWait = 50 * time.Millisecond
)

// SQLSTATE codes that signal a transaction may succeed when retried.
var retryableCodes = map[pq.ErrorCode]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
}

// PostgresDB implements the Database interface using PostgreSQL
type PostgresDB struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgresDB opens a connection pool and bootstraps the schema.
func NewPostgresDB(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresDB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	postgresDB := &PostgresDB{
		db:     db,
		logger: logger.With().Str(logging.FieldModule, "postgres").Logger(),
	}

	if err := postgresDB.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := postgresDB.InitDB(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	return postgresDB, nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks if the database connection is alive
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// GetCursor reads the single cursor row.
func (p *PostgresDB) GetCursor(ctx context.Context) (uint64, bool, error) {
	var raw string
	err := p.db.QueryRowContext(ctx, `SELECT block_number FROM _cursor WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to get cursor")
	}

	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "invalid cursor value %q", raw)
	}

	return block, true, nil
}

// UpdateCursor stores blockNumber unless the stored cursor is already at or past it.
func (p *PostgresDB) UpdateCursor(ctx context.Context, blockNumber uint64) error {
	query := `
		INSERT INTO _cursor (id, block_number, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET block_number = $1,
			updated_at = NOW()
		WHERE _cursor.block_number < $1
	`

	if _, err := p.db.ExecContext(ctx, query, strconv.FormatUint(blockNumber, 10)); err != nil {
		return errors.Wrap(err, "failed to update cursor")
	}
	return nil
}

func (p *PostgresDB) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := p.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			p.logger.Warn().Err(err).Int("attempt", attempt).Msg("Transaction conflict, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = txRetryInitialWait

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, maxTxRetries), ctx))
}

func (p *PostgresDB) runTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			p.logger.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	_, ok := retryableCodes[pqErr.Code]
	return ok
}

// InitDB initializes the database schema
func (p *PostgresDB) InitDB(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS log_events (
			transaction_hash VARCHAR(66) NOT NULL,
			log_index INTEGER NOT NULL,
			event_signature TEXT NOT NULL,
			account_id NUMERIC(78, 0) NOT NULL,
			block_number BIGINT NOT NULL,
			block_timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			args JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (transaction_hash, log_index)
		);

		CREATE TABLE IF NOT EXISTS entities (
			account_id NUMERIC(78, 0) PRIMARY KEY,
			kind VARCHAR(20) NOT NULL,
			owner_address VARCHAR(42),
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			color VARCHAR(16) NOT NULL DEFAULT '',
			emoji VARCHAR(16) NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			forge SMALLINT,
			verification_status VARCHAR(20) NOT NULL,
			is_valid BOOLEAN NOT NULL DEFAULT FALSE,
			is_visible BOOLEAN NOT NULL DEFAULT TRUE,
			last_processed_ipfs_hash TEXT NOT NULL DEFAULT '',
			last_processed_version NUMERIC(20, 0) NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS splits_receivers (
			funder_account_id NUMERIC(78, 0) NOT NULL,
			fundee_account_id NUMERIC(78, 0) NOT NULL,
			weight BIGINT NOT NULL,
			receiver_type VARCHAR(20) NOT NULL,
			block_timestamp TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE TABLE IF NOT EXISTS _cursor (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			block_number NUMERIC(20, 0) NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_log_events_signature_account
			ON log_events(event_signature, account_id, block_number DESC, log_index DESC);
		CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
		CREATE INDEX IF NOT EXISTS idx_splits_receivers_funder ON splits_receivers(funder_account_id);
		CREATE INDEX IF NOT EXISTS idx_splits_receivers_fundee ON splits_receivers(fundee_account_id);
	`

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to initialize database schema")
	}

	return nil
}
