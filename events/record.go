package events

import (
	"context"

	"github.com/pkg/errors"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/models"
)

// record locks account, stores the immutable log event and reports whether the
// event is the latest of its signature for account. Check and later mutations
// happen under the same lock.
func record(ctx context.Context, tx db.Tx, req *Request, account accountid.AccountID) (bool, error) {
	if err := tx.LockAccount(ctx, account); err != nil {
		return false, err
	}

	created, err := tx.FindOrCreateLogEvent(ctx, models.LogEventFromPayload(req.Payload, account))
	if err != nil {
		return false, err
	}
	if !created {
		req.Logger.Debug().Str(logging.FieldAccount, account.String()).Msg("Log event already recorded")
	}

	latest, err := tx.IsLatestEvent(ctx, req.Payload.EventSignature, account, req.Payload.Version())
	if err != nil {
		return false, err
	}
	if !latest {
		req.Logger.Debug().Str(logging.FieldAccount, account.String()).Msg("Newer event already recorded, skipping update")
	}

	return latest, nil
}

// ensureEntity creates entity unless its account already has a row, which is
// returned instead. A stored row of a different kind is an invariant fault.
func ensureEntity(ctx context.Context, tx db.Tx, entity *models.Entity) (*models.Entity, bool, error) {
	stored, created, err := tx.CreateEntityIfAbsent(ctx, entity)
	if err != nil {
		return nil, false, err
	}

	if !created && stored.Kind != entity.Kind {
		return nil, false, invariant(errors.Wrapf(
			ErrEntityKindConflict,
			"account %s is a %s, event implies %s", entity.AccountID, stored.Kind, entity.Kind,
		))
	}

	return stored, created, nil
}

// getEntity returns nil without error when the account has no entity.
func getEntity(ctx context.Context, tx db.Tx, account accountid.AccountID) (*models.Entity, error) {
	entity, err := tx.GetEntity(ctx, account)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return entity, err
}

func kindForRepoTag(tag accountid.DriverTag) models.EntityKind {
	if tag == accountid.DriverLinkedIdentity {
		return models.EntityLinkedIdentity
	}
	return models.EntityProject
}

// accountArg reads an account id argument, treating parse failures as malformed payloads.
func accountArg(args models.EventArgs, name string) (accountid.AccountID, error) {
	id, err := args.AccountID(name)
	if err != nil {
		return accountid.AccountID{}, malformed(err)
	}
	return id, nil
}
