package events

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/config"
	"github.com/speedrun-hq/fundgraph/logging"
)

const splitsHashTimeout = 15 * time.Second

// Receiver is one (account, weight) entry of a splits configuration.
type Receiver struct {
	AccountID accountid.AccountID
	Weight    uint32
}

var receiversType = mustReceiversType()

func mustReceiversType() abi.Arguments {
	t, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "accountId", Type: "uint256"},
		{Name: "weight", Type: "uint32"},
	})
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}

// ComputeReceiversHash returns the protocol's commitment for receivers:
// keccak256 of the ABI-encoded list, deduplicated and sorted by account id.
// An empty list hashes to the zero hash.
func ComputeReceiversHash(receivers []Receiver) (common.Hash, error) {
	if len(receivers) == 0 {
		return common.Hash{}, nil
	}

	unique := make(map[Receiver]struct{}, len(receivers))
	sorted := make([]Receiver, 0, len(receivers))
	for _, r := range receivers {
		if _, ok := unique[r]; ok {
			continue
		}
		unique[r] = struct{}{}
		sorted = append(sorted, r)
	}

	sort.Slice(sorted, func(i, j int) bool {
		if c := sorted[i].AccountID.Cmp(sorted[j].AccountID); c != 0 {
			return c < 0
		}
		return sorted[i].Weight < sorted[j].Weight
	})

	encodable := make([]struct {
		AccountId *big.Int
		Weight    uint32
	}, len(sorted))
	for i, r := range sorted {
		encodable[i].AccountId = r.AccountID.Big()
		encodable[i].Weight = r.Weight
	}

	packed, err := receiversType.Pack(encodable)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to encode receivers")
	}

	return crypto.Keccak256Hash(packed), nil
}

// SplitsHashReader reads an account's current on-chain splits commitment.
type SplitsHashReader interface {
	SplitsHash(ctx context.Context, account accountid.AccountID) (common.Hash, error)
}

// ContractCaller is the subset of the chain client used for view calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DripsSplitsReader calls splitsHash on the Drips contract.
type DripsSplitsReader struct {
	caller ContractCaller
	drips  common.Address
	abi    abi.ABI
}

func NewDripsSplitsReader(caller ContractCaller, drips common.Address) (*DripsSplitsReader, error) {
	parsed, err := abi.JSON(strings.NewReader(config.DripsABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse drips ABI")
	}

	return &DripsSplitsReader{caller: caller, drips: drips, abi: parsed}, nil
}

func (r *DripsSplitsReader) SplitsHash(ctx context.Context, account accountid.AccountID) (common.Hash, error) {
	data, err := r.abi.Pack("splitsHash", account.Big())
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to pack splitsHash call")
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, splitsHashTimeout)
	defer cancel()

	out, err := r.caller.CallContract(ctxTimeout, ethereum.CallMsg{To: &r.drips, Data: data}, nil)
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "failed to read splits hash of %s", account)
	}

	values, err := r.abi.Unpack("splitsHash", out)
	if err != nil || len(values) != 1 {
		return common.Hash{}, errors.Errorf("unexpected splitsHash result for %s: %x", account, out)
	}

	hash, ok := values[0].([32]byte)
	if !ok {
		return common.Hash{}, errors.Errorf("unexpected splitsHash type %T", values[0])
	}

	return common.Hash(hash), nil
}

// Reconciler checks derived receivers against the live on-chain commitment.
type Reconciler struct {
	reader SplitsHashReader
	logger zerolog.Logger
}

func NewReconciler(reader SplitsHashReader, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		reader: reader,
		logger: logger.With().Str(logging.FieldModule, "reconciler").Logger(),
	}
}

// Verify returns ErrSplitsMismatch unless receivers hash to account's on-chain splits hash.
func (r *Reconciler) Verify(ctx context.Context, account accountid.AccountID, receivers []Receiver) error {
	computed, err := ComputeReceiversHash(receivers)
	if err != nil {
		return err
	}

	onChain, err := r.reader.SplitsHash(ctx, account)
	if err != nil {
		return err
	}

	if computed != onChain {
		r.logger.Info().
			Str(logging.FieldAccount, account.String()).
			Str("computed", computed.Hex()).
			Str("on_chain", onChain.Hex()).
			Msg("Receivers do not match on-chain splits")
		return errors.Wrapf(ErrSplitsMismatch, "account %s: computed %s, on-chain %s", account, computed.Hex(), onChain.Hex())
	}

	return nil
}
