package events

import (
	"context"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
)

// GivenHandler records direct gifts between accounts.
type GivenHandler struct{}

func (h *GivenHandler) Signatures() []string {
	return []string{SigGiven}
}

func (h *GivenHandler) Handle(ctx context.Context, tx db.Tx, req *Request) (Outcome, error) {
	account, err := accountArg(req.Args, "accountId")
	if err != nil {
		return Outcome{}, err
	}
	receiver, err := accountArg(req.Args, "receiver")
	if err != nil {
		return Outcome{}, err
	}

	if _, err := record(ctx, tx, req, account); err != nil {
		return Outcome{}, err
	}

	return Outcome{Accounts: []accountid.AccountID{account, receiver}}, nil
}
