package events

import (
	"context"

	"github.com/pkg/errors"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/models"
)

// SplitsSetHandler checks the persisted receivers of an account against a new
// on-chain splits commitment.
type SplitsSetHandler struct{}

func (h *SplitsSetHandler) Signatures() []string {
	return []string{SigSplitsSet}
}

func (h *SplitsSetHandler) Handle(ctx context.Context, tx db.Tx, req *Request) (Outcome, error) {
	account, err := accountArg(req.Args, "accountId")
	if err != nil {
		return Outcome{}, err
	}

	if _, err := accountid.Decode(account); err != nil {
		return Outcome{}, invariant(err)
	}

	committed, err := req.Args.Hash("receiversHash")
	if err != nil {
		return Outcome{}, malformed(err)
	}

	latest, err := record(ctx, tx, req, account)
	if err != nil || !latest {
		return Outcome{}, err
	}

	entity, err := getEntity(ctx, tx, account)
	if err != nil || entity == nil {
		return Outcome{}, err
	}

	persisted, err := tx.GetSplitsReceivers(ctx, account)
	if err != nil {
		return Outcome{}, err
	}

	computed, err := ComputeReceiversHash(toReceivers(persisted))
	if err != nil {
		return Outcome{}, err
	}

	valid := computed == committed
	entity.IsValid = valid
	if version := req.Payload.Version(); version.After(entity.LastProcessedVersion) {
		entity.LastProcessedVersion = version
	}

	if err := tx.UpdateEntity(ctx, entity); err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Accounts: []accountid.AccountID{account}}
	if !valid {
		req.Logger.Info().
			Str(logging.FieldAccount, account.String()).
			Str("computed", computed.Hex()).
			Str("committed", committed.Hex()).
			Msg("Persisted receivers do not match splits commitment")
		outcome.Pending = errors.Wrapf(ErrSplitsMismatch, "account %s", account)
	}

	return outcome, nil
}

// CreatedSplitsHandler creates immutable split lists.
type CreatedSplitsHandler struct{}

func (h *CreatedSplitsHandler) Signatures() []string {
	return []string{SigCreatedSplits}
}

func (h *CreatedSplitsHandler) Handle(ctx context.Context, tx db.Tx, req *Request) (Outcome, error) {
	account, err := accountArg(req.Args, "accountId")
	if err != nil {
		return Outcome{}, err
	}

	if err := accountid.AssertImmutableSplits(account); err != nil {
		return Outcome{}, invariant(err)
	}

	if err := tx.LockAccount(ctx, account); err != nil {
		return Outcome{}, err
	}

	previous, err := tx.LatestLogEvent(ctx, SigCreatedSplits, account)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return Outcome{}, err
	case previous.TransactionHash != req.Payload.TransactionHash || previous.LogIndex != req.Payload.LogIndex:
		return Outcome{}, invariant(errors.Wrapf(
			ErrDuplicateCreation,
			"account %s already created in %s", account, previous.TransactionHash,
		))
	}

	if _, err := record(ctx, tx, req, account); err != nil {
		return Outcome{}, err
	}

	if _, _, err := ensureEntity(ctx, tx, &models.Entity{
		AccountID:            account,
		Kind:                 models.EntitySubList,
		IsValid:              false,
		IsVisible:            true,
		LastProcessedVersion: req.Payload.Version(),
	}); err != nil {
		return Outcome{}, err
	}

	return Outcome{Accounts: []accountid.AccountID{account}}, nil
}

func toReceivers(edges []models.SplitsReceiver) []Receiver {
	out := make([]Receiver, len(edges))
	for i, e := range edges {
		out[i] = Receiver{AccountID: e.FundeeAccountID, Weight: e.Weight}
	}
	return out
}
