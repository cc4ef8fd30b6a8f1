package events

import (
	"context"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
	"github.com/speedrun-hq/fundgraph/models"
)

// OwnerUpdateRequestedHandler records a repo ownership claim request and
// creates the project or linked identity it refers to.
type OwnerUpdateRequestedHandler struct{}

func (h *OwnerUpdateRequestedHandler) Signatures() []string {
	return []string{SigOwnerUpdateRequested}
}

func (h *OwnerUpdateRequestedHandler) Handle(ctx context.Context, tx db.Tx, req *Request) (Outcome, error) {
	account, err := accountArg(req.Args, "accountId")
	if err != nil {
		return Outcome{}, err
	}

	tag, err := accountid.AssertRepoOwned(account)
	if err != nil {
		return Outcome{}, invariant(err)
	}

	forgeArg, err := req.Args.Uint("forge")
	if err != nil {
		return Outcome{}, malformed(err)
	}
	name, err := req.Args.Bytes("name")
	if err != nil {
		return Outcome{}, malformed(err)
	}

	latest, err := record(ctx, tx, req, account)
	if err != nil {
		return Outcome{}, err
	}

	forge := uint8(forgeArg)
	stored, created, err := ensureEntity(ctx, tx, &models.Entity{
		AccountID:            account,
		Kind:                 kindForRepoTag(tag),
		Name:                 string(name),
		SourceURL:            sourceURL(forge, string(name)),
		Forge:                &forge,
		VerificationStatus:   models.VerificationPendingOwner,
		IsVisible:            true,
		LastProcessedVersion: req.Payload.Version(),
	})
	if err != nil {
		return Outcome{}, err
	}

	if !created && latest && stored.VerificationStatus == models.VerificationUnclaimed {
		stored.VerificationStatus = models.VerificationPendingOwner
		if stored.Name == "" {
			stored.Name = string(name)
			stored.SourceURL = sourceURL(forge, string(name))
		}
		if err := tx.UpdateEntity(ctx, stored); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Accounts: []accountid.AccountID{account}}, nil
}

// OwnerUpdatedHandler applies a confirmed repo ownership change.
type OwnerUpdatedHandler struct{}

func (h *OwnerUpdatedHandler) Signatures() []string {
	return []string{SigOwnerUpdated}
}

func (h *OwnerUpdatedHandler) Handle(ctx context.Context, tx db.Tx, req *Request) (Outcome, error) {
	account, err := accountArg(req.Args, "accountId")
	if err != nil {
		return Outcome{}, err
	}

	tag, err := accountid.AssertRepoOwned(account)
	if err != nil {
		return Outcome{}, invariant(err)
	}

	owner, err := req.Args.Address("owner")
	if err != nil {
		return Outcome{}, malformed(err)
	}

	latest, err := record(ctx, tx, req, account)
	if err != nil {
		return Outcome{}, err
	}

	version := req.Payload.Version()
	forge := account.Forge()
	stored, created, err := ensureEntity(ctx, tx, &models.Entity{
		AccountID:            account,
		Kind:                 kindForRepoTag(tag),
		OwnerAddress:         &owner,
		Forge:                &forge,
		VerificationStatus:   models.VerificationClaimed,
		IsVisible:            true,
		LastProcessedVersion: version,
	})
	if err != nil {
		return Outcome{}, err
	}

	if !created && latest {
		stored.OwnerAddress = &owner
		stored.VerificationStatus = models.VerificationClaimed
		if version.After(stored.LastProcessedVersion) {
			stored.LastProcessedVersion = version
		}
		if err := tx.UpdateEntity(ctx, stored); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Accounts: []accountid.AccountID{account}}, nil
}

func sourceURL(forge uint8, name string) string {
	if name == "" {
		return ""
	}
	switch forge {
	case accountid.ForgeGitHub:
		return "https://github.com/" + name
	case accountid.ForgeGitLab:
		return "https://gitlab.com/" + name
	case accountid.ForgeORCID:
		return "https://orcid.org/" + name
	default:
		return ""
	}
}
