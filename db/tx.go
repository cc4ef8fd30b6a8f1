package db

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/models"
)

type pgTx struct {
	tx *sql.Tx
}

const entityColumns = `account_id, kind, owner_address, name, description, color, emoji, source_url, forge,
	verification_status, is_valid, is_visible, last_processed_ipfs_hash, last_processed_version,
	created_at, updated_at`

func (t *pgTx) LockAccount(ctx context.Context, id accountid.AccountID) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, id.String())
	if err != nil {
		return errors.Wrapf(err, "failed to lock account %s", id)
	}
	return nil
}

func (t *pgTx) FindOrCreateLogEvent(ctx context.Context, event *models.LogEvent) (bool, error) {
	query := `
		INSERT INTO log_events (
			transaction_hash, log_index, event_signature, account_id, block_number, block_timestamp, args, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (transaction_hash, log_index) DO NOTHING
	`

	args := event.Args
	if args == "" {
		args = "{}"
	}

	res, err := t.tx.ExecContext(ctx, query,
		event.TransactionHash,
		event.LogIndex,
		event.EventSignature,
		event.AccountID.String(),
		event.BlockNumber,
		event.BlockTimestamp,
		args,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert log event")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}

	return rows == 1, nil
}

func (t *pgTx) IsLatestEvent(
	ctx context.Context,
	signature string,
	account accountid.AccountID,
	v models.Version,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM log_events
			WHERE event_signature = $1
			AND account_id = $2
			AND (block_number > $3 OR (block_number = $3 AND log_index > $4))
		)
	`

	var newer bool
	if err := t.tx.QueryRowContext(ctx, query, signature, account.String(), v.Block, v.LogIndex).Scan(&newer); err != nil {
		return false, errors.Wrap(err, "failed to check event ordering")
	}

	return !newer, nil
}

func (t *pgTx) LatestLogEvent(ctx context.Context, signature string, account accountid.AccountID) (*models.LogEvent, error) {
	query := `
		SELECT transaction_hash, log_index, event_signature, block_number, block_timestamp, args, created_at
		FROM log_events
		WHERE event_signature = $1 AND account_id = $2
		ORDER BY block_number DESC, log_index DESC
		LIMIT 1
	`

	event := &models.LogEvent{AccountID: account}
	err := t.tx.QueryRowContext(ctx, query, signature, account.String()).Scan(
		&event.TransactionHash,
		&event.LogIndex,
		&event.EventSignature,
		&event.BlockNumber,
		&event.BlockTimestamp,
		&event.Args,
		&event.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest log event")
	}

	return event, nil
}

func (t *pgTx) GetEntity(ctx context.Context, id accountid.AccountID) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE account_id = $1`

	entity, err := scanEntity(t.tx.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get entity %s", id)
	}

	return entity, nil
}

func (t *pgTx) CreateEntityIfAbsent(ctx context.Context, entity *models.Entity) (*models.Entity, bool, error) {
	query := `
		INSERT INTO entities (` + entityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		ON CONFLICT (account_id) DO NOTHING
	`

	res, err := t.tx.ExecContext(ctx, query, entityArgs(entity)...)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to create entity %s", entity.AccountID)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to get rows affected")
	}

	if rows == 1 {
		return entity, true, nil
	}

	existing, err := t.GetEntity(ctx, entity.AccountID)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (t *pgTx) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	query := `
		UPDATE entities
		SET kind = $2,
			owner_address = $3,
			name = $4,
			description = $5,
			color = $6,
			emoji = $7,
			source_url = $8,
			forge = $9,
			verification_status = $10,
			is_valid = $11,
			is_visible = $12,
			last_processed_ipfs_hash = $13,
			last_processed_version = $14,
			updated_at = NOW()
		WHERE account_id = $1
	`

	res, err := t.tx.ExecContext(ctx, query, entityArgs(entity)...)
	if err != nil {
		return errors.Wrapf(err, "failed to update entity %s", entity.AccountID)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(ErrNotFound, "entity %s", entity.AccountID)
	}

	return nil
}

func (t *pgTx) ReplaceSplitsReceivers(
	ctx context.Context,
	funder accountid.AccountID,
	receivers []models.SplitsReceiver,
) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM splits_receivers WHERE funder_account_id = $1`, funder.String()); err != nil {
		return errors.Wrapf(err, "failed to delete receivers of %s", funder)
	}

	query := `
		INSERT INTO splits_receivers (funder_account_id, fundee_account_id, weight, receiver_type, block_timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, r := range receivers {
		_, err := t.tx.ExecContext(ctx, query,
			funder.String(),
			r.FundeeAccountID.String(),
			int64(r.Weight),
			string(r.Type),
			r.BlockTimestamp,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to insert receiver %s of %s", r.FundeeAccountID, funder)
		}
	}

	return nil
}

func (t *pgTx) GetSplitsReceivers(ctx context.Context, funder accountid.AccountID) ([]models.SplitsReceiver, error) {
	query := `
		SELECT fundee_account_id, weight, receiver_type, block_timestamp
		FROM splits_receivers
		WHERE funder_account_id = $1
		ORDER BY fundee_account_id
	`

	rows, err := t.tx.QueryContext(ctx, query, funder.String())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query receivers of %s", funder)
	}
	defer rows.Close()

	var receivers []models.SplitsReceiver
	for rows.Next() {
		var (
			fundee string
			weight int64
			kind   string
			r      = models.SplitsReceiver{FunderAccountID: funder}
		)
		if err := rows.Scan(&fundee, &weight, &kind, &r.BlockTimestamp); err != nil {
			return nil, errors.Wrap(err, "failed to scan receiver")
		}
		if r.FundeeAccountID, err = accountid.Parse(fundee); err != nil {
			return nil, err
		}
		r.Weight = uint32(weight)
		r.Type = models.ReceiverType(kind)
		receivers = append(receivers, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating receivers")
	}

	return receivers, nil
}

func entityArgs(e *models.Entity) []interface{} {
	var owner sql.NullString
	if e.OwnerAddress != nil {
		owner = sql.NullString{String: e.OwnerAddress.Hex(), Valid: true}
	}

	var forge sql.NullInt16
	if e.Forge != nil {
		forge = sql.NullInt16{Int16: int16(*e.Forge), Valid: true}
	}

	return []interface{}{
		e.AccountID.String(),
		string(e.Kind),
		owner,
		e.Name,
		e.Description,
		e.Color,
		e.Emoji,
		e.SourceURL,
		forge,
		string(e.VerificationStatus),
		e.IsValid,
		e.IsVisible,
		e.LastProcessedIpfsHash,
		strconv.FormatUint(e.LastProcessedVersion.Packed(), 10),
	}
}

func scanEntity(row *sql.Row) (*models.Entity, error) {
	var (
		e       models.Entity
		id      string
		kind    string
		owner   sql.NullString
		forge   sql.NullInt16
		status  string
		version string
	)

	err := row.Scan(
		&id,
		&kind,
		&owner,
		&e.Name,
		&e.Description,
		&e.Color,
		&e.Emoji,
		&e.SourceURL,
		&forge,
		&status,
		&e.IsValid,
		&e.IsVisible,
		&e.LastProcessedIpfsHash,
		&version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.AccountID, err = accountid.Parse(id); err != nil {
		return nil, err
	}
	if e.LastProcessedVersion, err = models.ParseVersion(version); err != nil {
		return nil, err
	}
	if owner.Valid {
		addr := common.HexToAddress(owner.String)
		e.OwnerAddress = &addr
	}
	if forge.Valid {
		f := uint8(forge.Int16)
		e.Forge = &f
	}
	e.Kind = models.EntityKind(kind)
	e.VerificationStatus = models.VerificationStatus(status)

	return &e, nil
}
