package events

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
	"github.com/speedrun-hq/fundgraph/logging"
	"github.com/speedrun-hq/fundgraph/models"
)

// ipfsKey is bytes32("ipfs"), the only metadata key the indexer follows.
var ipfsKey = func() common.Hash {
	var key common.Hash
	copy(key[:], "ipfs")
	return key
}()

// AccountMetadataHandler applies metadata documents: entity details and the
// receivers of the account's split graph.
type AccountMetadataHandler struct {
	fetcher    MetadataFetcher
	reconciler *Reconciler

	// Entities described at blocks below this are always visible.
	visibilityThreshold uint64
}

func NewAccountMetadataHandler(
	fetcher MetadataFetcher,
	reconciler *Reconciler,
	visibilityThreshold uint64,
) *AccountMetadataHandler {
	return &AccountMetadataHandler{
		fetcher:             fetcher,
		reconciler:          reconciler,
		visibilityThreshold: visibilityThreshold,
	}
}

func (h *AccountMetadataHandler) Signatures() []string {
	return []string{SigAccountMetadataEmitted}
}

func (h *AccountMetadataHandler) Handle(ctx context.Context, tx db.Tx, req *Request) (Outcome, error) {
	account, err := accountArg(req.Args, "accountId")
	if err != nil {
		return Outcome{}, err
	}

	tag, err := accountid.Decode(account)
	if err != nil {
		return Outcome{}, invariant(err)
	}

	key, err := req.Args.Hash("key")
	if err != nil {
		return Outcome{}, malformed(err)
	}
	value, err := req.Args.Bytes("value")
	if err != nil {
		return Outcome{}, malformed(err)
	}

	latest, err := record(ctx, tx, req, account)
	if err != nil {
		return Outcome{}, err
	}

	if key != ipfsKey || tag == accountid.DriverAddress || !latest {
		return Outcome{}, nil
	}

	hash := string(value)
	logger := req.Logger.With().Str(logging.FieldAccount, account.String()).Str("ipfs_hash", hash).Logger()

	existing, err := getEntity(ctx, tx, account)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil && existing.IsValid && existing.LastProcessedIpfsHash == hash {
		logger.Debug().Msg("Metadata already applied")
		return Outcome{}, nil
	}

	raw, err := h.fetcher.Fetch(ctx, hash)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "failed to fetch metadata of %s", account)
	}

	doc, err := ParseMetadata(raw, account)
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		logger.Warn().Err(err).Msg("Ignoring invalid metadata")
		return Outcome{Rejected: err}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	edges, receivers, err := h.receivers(account, doc, req)
	if err != nil {
		return Outcome{}, err
	}

	if err := h.reconciler.Verify(ctx, account, receivers); err != nil {
		return Outcome{}, err
	}

	owner, err := h.resolveOwner(ctx, tx, account, tag, existing)
	if err != nil {
		return Outcome{}, err
	}

	desired := &models.Entity{
		AccountID:             account,
		Kind:                  doc.Kind(),
		OwnerAddress:          owner,
		Name:                  doc.Name,
		Description:           doc.Description,
		Color:                 doc.Color,
		Emoji:                 doc.Emoji,
		IsValid:               true,
		IsVisible:             h.visible(doc, req.Payload.BlockNumber),
		LastProcessedIpfsHash: hash,
		LastProcessedVersion:  req.Payload.Version(),
	}
	if doc.Source != nil {
		desired.SourceURL = doc.Source.URL
	}
	if tag == accountid.DriverRepo || tag == accountid.DriverLinkedIdentity {
		forge := account.Forge()
		desired.Forge = &forge
		desired.VerificationStatus = models.VerificationUnclaimed
	}

	stored, created, err := ensureEntity(ctx, tx, desired)
	if err != nil {
		return Outcome{}, err
	}

	if !created {
		stored.OwnerAddress = desired.OwnerAddress
		stored.Name = desired.Name
		stored.Description = desired.Description
		stored.Color = desired.Color
		stored.Emoji = desired.Emoji
		if desired.SourceURL != "" {
			stored.SourceURL = desired.SourceURL
		}
		stored.IsValid = true
		stored.IsVisible = desired.IsVisible
		stored.LastProcessedIpfsHash = hash
		if desired.LastProcessedVersion.After(stored.LastProcessedVersion) {
			stored.LastProcessedVersion = desired.LastProcessedVersion
		}
		if err := tx.UpdateEntity(ctx, stored); err != nil {
			return Outcome{}, err
		}
	}

	if err := tx.ReplaceSplitsReceivers(ctx, account, edges); err != nil {
		return Outcome{}, err
	}

	affected := []accountid.AccountID{account}
	for _, edge := range edges {
		affected = append(affected, edge.FundeeAccountID)
		if err := ensurePlaceholder(ctx, tx, edge); err != nil {
			return Outcome{}, err
		}
	}

	logger.Info().Int("receivers", len(edges)).Str("kind", string(stored.Kind)).Msg("Applied account metadata")

	return Outcome{Accounts: affected}, nil
}

func (h *AccountMetadataHandler) receivers(
	account accountid.AccountID,
	doc *Metadata,
	req *Request,
) ([]models.SplitsReceiver, []Receiver, error) {
	listed := doc.Receivers()
	edges := make([]models.SplitsReceiver, 0, len(listed))
	receivers := make([]Receiver, 0, len(listed))

	for _, r := range listed {
		typ, err := receiverType(r)
		if err != nil {
			return nil, nil, err
		}
		edges = append(edges, models.SplitsReceiver{
			FunderAccountID: account,
			FundeeAccountID: r.AccountID,
			Weight:          r.Weight,
			Type:            typ,
			BlockTimestamp:  req.Payload.BlockTimestamp,
		})
		receivers = append(receivers, Receiver{AccountID: r.AccountID, Weight: r.Weight})
	}

	return edges, receivers, nil
}

// resolveOwner returns the owner of NFT accounts from their latest transfer.
// Repo owned accounts keep the owner set by ownership events.
func (h *AccountMetadataHandler) resolveOwner(
	ctx context.Context,
	tx db.Tx,
	account accountid.AccountID,
	tag accountid.DriverTag,
	existing *models.Entity,
) (*common.Address, error) {
	var current *common.Address
	if existing != nil {
		current = existing.OwnerAddress
	}

	if tag != accountid.DriverNFT {
		return current, nil
	}

	transfer, err := tx.LatestLogEvent(ctx, SigTransfer, account)
	if errors.Is(err, db.ErrNotFound) {
		return current, nil
	}
	if err != nil {
		return nil, err
	}

	args, err := (&models.EventPayload{Args: transfer.Args}).DecodeArgs()
	if err != nil {
		return nil, err
	}
	to, err := args.Address("to")
	if err != nil {
		return nil, err
	}

	return &to, nil
}

func (h *AccountMetadataHandler) visible(doc *Metadata, block uint64) bool {
	if block < h.visibilityThreshold || doc.IsVisible == nil {
		return true
	}
	return *doc.IsVisible
}

// ensurePlaceholder creates the project or linked identity a receiver refers to.
func ensurePlaceholder(ctx context.Context, tx db.Tx, edge models.SplitsReceiver) error {
	var kind models.EntityKind
	switch edge.Type {
	case models.ReceiverProject:
		kind = models.EntityProject
	case models.ReceiverLinkedIdentity:
		kind = models.EntityLinkedIdentity
	default:
		return nil
	}

	forge := edge.FundeeAccountID.Forge()
	_, _, err := ensureEntity(ctx, tx, &models.Entity{
		AccountID:          edge.FundeeAccountID,
		Kind:               kind,
		Forge:              &forge,
		VerificationStatus: models.VerificationUnclaimed,
		IsVisible:          true,
	})
	return err
}
