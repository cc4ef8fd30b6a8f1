package events

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/speedrun-hq/fundgraph/config"
	"github.com/speedrun-hq/fundgraph/models"
)

// ErrUnknownEvent is returned for logs whose topic is not in the emitting contract's ABI.
var ErrUnknownEvent = errors.New("unknown event")

// Decoder turns raw logs of the tracked contracts into job payloads.
type Decoder struct {
	contracts map[common.Address]abi.ABI
}

func NewDecoder(contracts config.Contracts) (*Decoder, error) {
	sources := map[common.Address]string{
		contracts.Drips:                 config.DripsABI,
		contracts.NFTDriver:             config.NFTDriverABI,
		contracts.RepoDriver:            config.RepoDriverABI,
		contracts.ImmutableSplitsDriver: config.ImmutableSplitsDriverABI,
	}

	if len(sources) != 4 {
		return nil, errors.New("tracked contract addresses must be distinct")
	}

	d := &Decoder{contracts: make(map[common.Address]abi.ABI, len(sources))}
	for addr, raw := range sources {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse ABI of %s", addr.Hex())
		}
		d.contracts[addr] = parsed
	}

	return d, nil
}

// Decode returns the payload of vLog. Event arguments are stringified losslessly.
func (d *Decoder) Decode(vLog types.Log, blockTimestamp time.Time) (*models.EventPayload, error) {
	contract, ok := d.contracts[vLog.Address]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEvent, "untracked contract %s", vLog.Address.Hex())
	}
	if len(vLog.Topics) == 0 {
		return nil, errors.Wrap(ErrUnknownEvent, "anonymous log")
	}

	event, err := contract.EventByID(vLog.Topics[0])
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownEvent, "topic %s on %s", vLog.Topics[0].Hex(), vLog.Address.Hex())
	}

	values := make(map[string]interface{}, len(event.Inputs))
	if len(vLog.Data) > 0 {
		if err := event.Inputs.UnpackIntoMap(values, vLog.Data); err != nil {
			return nil, errors.Wrapf(err, "failed to unpack %s data", event.Name)
		}
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, vLog.Topics[1:]); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s topics", event.Name)
	}

	args, err := models.NewEventArgs(values)
	if err != nil {
		return nil, err
	}
	encoded, err := args.Encode()
	if err != nil {
		return nil, err
	}

	return &models.EventPayload{
		EventSignature:  event.Sig,
		ContractAddress: vLog.Address.Hex(),
		TransactionHash: vLog.TxHash.Hex(),
		BlockNumber:     vLog.BlockNumber,
		LogIndex:        vLog.Index,
		BlockTimestamp:  blockTimestamp.UTC(),
		Args:            encoded,
	}, nil
}
