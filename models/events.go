package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/speedrun-hq/fundgraph/accountid"
)

// EventPayload is the job payload produced by the poller for a single log.
type EventPayload struct {
	EventSignature  string    `json:"eventSignature"`
	ContractAddress string    `json:"contractAddress"`
	TransactionHash string    `json:"transactionHash"`
	BlockNumber     uint64    `json:"blockNumber"`
	LogIndex        uint      `json:"logIndex"`
	BlockTimestamp  time.Time `json:"blockTimestamp"`

	// Args is a JSON object of decoded event arguments with every value rendered
	// as a string: integers in decimal, addresses and byte strings in hex.
	Args string `json:"args"`
}

// JobKey is the idempotency key of the payload in the job queue.
func (p *EventPayload) JobKey() string {
	return fmt.Sprintf("%d-%s-%d", p.BlockNumber, p.TransactionHash, p.LogIndex)
}

func (p *EventPayload) Version() Version {
	return NewVersion(p.BlockNumber, p.LogIndex)
}

// DecodeArgs parses the Args field.
func (p *EventPayload) DecodeArgs() (EventArgs, error) {
	args := EventArgs{}
	if p.Args == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(p.Args), &args); err != nil {
		return nil, errors.Wrap(err, "failed to decode event args")
	}
	return args, nil
}

// EventArgs holds stringified event arguments keyed by ABI argument name.
type EventArgs map[string]string

// NewEventArgs stringifies ABI-decoded values losslessly.
func NewEventArgs(values map[string]interface{}) (EventArgs, error) {
	args := make(EventArgs, len(values))

	for name, value := range values {
		switch v := value.(type) {
		case *big.Int:
			args[name] = v.String()
		case common.Address:
			args[name] = v.Hex()
		case common.Hash:
			args[name] = v.Hex()
		case [32]byte:
			args[name] = common.Hash(v).Hex()
		case []byte:
			args[name] = hexutil.Encode(v)
		case bool:
			args[name] = strconv.FormatBool(v)
		case uint8:
			args[name] = strconv.FormatUint(uint64(v), 10)
		case uint16:
			args[name] = strconv.FormatUint(uint64(v), 10)
		case uint32:
			args[name] = strconv.FormatUint(uint64(v), 10)
		case uint64:
			args[name] = strconv.FormatUint(v, 10)
		case string:
			args[name] = v
		default:
			return nil, errors.Errorf("unsupported argument %q of type %T", name, value)
		}
	}

	return args, nil
}

func (a EventArgs) Encode() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode event args")
	}
	return string(data), nil
}

func (a EventArgs) get(name string) (string, error) {
	v, ok := a[name]
	if !ok {
		return "", errors.Errorf("missing event argument %q", name)
	}
	return v, nil
}

func (a EventArgs) BigInt(name string) (*big.Int, error) {
	v, err := a.get(name)
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, errors.Errorf("argument %q is not a decimal integer: %q", name, v)
	}
	return n, nil
}

func (a EventArgs) AccountID(name string) (accountid.AccountID, error) {
	v, err := a.get(name)
	if err != nil {
		return accountid.AccountID{}, err
	}
	return accountid.Parse(v)
}

func (a EventArgs) Address(name string) (common.Address, error) {
	v, err := a.get(name)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.Errorf("argument %q is not an address: %q", name, v)
	}
	return common.HexToAddress(v), nil
}

func (a EventArgs) Hash(name string) (common.Hash, error) {
	v, err := a.get(name)
	if err != nil {
		return common.Hash{}, err
	}
	b, err := hexutil.Decode(v)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errors.Errorf("argument %q is not a bytes32: %q", name, v)
	}
	return common.BytesToHash(b), nil
}

func (a EventArgs) Bytes(name string) ([]byte, error) {
	v, err := a.get(name)
	if err != nil {
		return nil, err
	}
	b, err := hexutil.Decode(v)
	if err != nil {
		return nil, errors.Wrapf(err, "argument %q is not hex bytes", name)
	}
	return b, nil
}

func (a EventArgs) Uint(name string) (uint64, error) {
	v, err := a.get(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "argument %q is not an unsigned integer", name)
	}
	return n, nil
}
