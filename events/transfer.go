package events

import (
	"context"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
)

// TransferHandler tracks the owner of NFT driver accounts.
type TransferHandler struct{}

func (h *TransferHandler) Signatures() []string {
	return []string{SigTransfer}
}

func (h *TransferHandler) Handle(ctx context.Context, tx db.Tx, req *Request) (Outcome, error) {
	tokenID, err := accountArg(req.Args, "tokenId")
	if err != nil {
		return Outcome{}, err
	}

	if err := accountid.AssertNFT(tokenID); err != nil {
		return Outcome{}, invariant(err)
	}

	to, err := req.Args.Address("to")
	if err != nil {
		return Outcome{}, malformed(err)
	}

	latest, err := record(ctx, tx, req, tokenID)
	if err != nil {
		return Outcome{}, err
	}

	entity, err := getEntity(ctx, tx, tokenID)
	if err != nil {
		return Outcome{}, err
	}

	// the owner is picked up from this event once metadata creates the entity
	if entity == nil || !latest {
		return Outcome{}, nil
	}

	entity.OwnerAddress = &to
	if version := req.Payload.Version(); version.After(entity.LastProcessedVersion) {
		entity.LastProcessedVersion = version
	}

	if err := tx.UpdateEntity(ctx, entity); err != nil {
		return Outcome{}, err
	}

	return Outcome{Accounts: []accountid.AccountID{tokenID}}, nil
}
