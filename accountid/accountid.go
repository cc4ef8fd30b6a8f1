// Package accountid decodes protocol account ids into driver-tagged values.
//
// An account id is a 256-bit unsigned integer. Bits 224-255 hold the id of the
// driver that owns the account. Accounts of the repo driver additionally carry a
// forge id in bits 216-223; the ORCID forge ids mark a linked external identity.
//
// This package is the only place where driver bits are interpreted.
package accountid

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// DriverTag classifies an account by the driver that owns it.
type DriverTag uint8

const (
	DriverAddress DriverTag = iota + 1
	DriverNFT
	DriverImmutableSplits
	DriverRepo
	DriverLinkedIdentity
)

// On-chain driver ids stored in the top 32 bits.
const (
	addressDriverID         = 0
	nftDriverID             = 1
	immutableSplitsDriverID = 2
	repoDriverID            = 3
)

// Forges as passed to the repo driver. The forge id stored in bits 216-223 is
// 2*forge for names of up to 27 bytes and 2*forge+1 for hashed longer names:
// GitHub 0/1, GitLab 2/3, ORCID 4/5.
const (
	ForgeGitHub uint8 = 0
	ForgeGitLab uint8 = 1
	ForgeORCID  uint8 = 2

	maxInlineName = 27
)

const (
	driverShift = 224
	forgeShift  = 216
)

var (
	ErrUnknownDriver  = errors.New("unknown account driver")
	ErrDriverMismatch = errors.New("account driver mismatch")
	ErrInvalidID      = errors.New("invalid account id")
)

func (t DriverTag) String() string {
	switch t {
	case DriverAddress:
		return "address"
	case DriverNFT:
		return "nft"
	case DriverImmutableSplits:
		return "immutable_splits"
	case DriverRepo:
		return "repo"
	case DriverLinkedIdentity:
		return "linked_identity"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// AccountID is a comparable 256-bit account identifier.
type AccountID struct {
	n uint256.Int
}

// Parse reads a decimal or 0x-prefixed hex account id.
func Parse(s string) (AccountID, error) {
	var id AccountID

	s = strings.TrimSpace(s)
	if s == "" {
		return id, errors.Wrap(ErrInvalidID, "empty string")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if err := id.n.SetFromHex(s); err != nil {
			return id, errors.Wrapf(ErrInvalidID, "%q: %v", s, err)
		}
		return id, nil
	}

	if err := id.n.SetFromDecimal(s); err != nil {
		return id, errors.Wrapf(ErrInvalidID, "%q: %v", s, err)
	}

	return id, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) AccountID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromBig converts an ABI-decoded integer. Negative or oversized values are rejected.
func FromBig(b *big.Int) (AccountID, error) {
	var id AccountID
	if b == nil || b.Sign() < 0 {
		return id, errors.Wrap(ErrInvalidID, "negative or nil")
	}
	if overflow := id.n.SetFromBig(b); overflow {
		return id, errors.Wrap(ErrInvalidID, "exceeds 256 bits")
	}
	return id, nil
}

// FromAddress returns the address driver account of addr.
func FromAddress(addr common.Address) AccountID {
	var id AccountID
	id.n.SetBytes(addr.Bytes())
	return id
}

// Encode builds an account id from a raw driver id and the 224 low bits.
func Encode(driverID uint32, low *uint256.Int) AccountID {
	var id AccountID

	mask := new(uint256.Int).Lsh(uint256.NewInt(1), driverShift)
	mask.SubUint64(mask, 1)

	id.n.And(low, mask)
	id.n.Or(&id.n, new(uint256.Int).Lsh(uint256.NewInt(uint64(driverID)), driverShift))

	return id
}

// FromRepo computes the repo driver account for a forge and a name. Names
// longer than 27 bytes are replaced by the low 27 bytes of their keccak256.
func FromRepo(forge uint8, name []byte) AccountID {
	var nameEncoded [maxInlineName]byte

	forgeID := forge << 1
	if len(name) <= maxInlineName {
		copy(nameEncoded[:], name)
	} else {
		forgeID |= 1
		hash := crypto.Keccak256(name)
		copy(nameEncoded[:], hash[len(hash)-maxInlineName:])
	}

	low := new(uint256.Int).SetBytes(nameEncoded[:])
	low.Or(low, new(uint256.Int).Lsh(uint256.NewInt(uint64(forgeID)), forgeShift))

	return Encode(repoDriverID, low)
}

// DriverID returns the raw on-chain driver id (top 32 bits).
func (id AccountID) DriverID() uint32 {
	return uint32(new(uint256.Int).Rsh(&id.n, driverShift).Uint64())
}

// ForgeID returns the raw forge id (bits 216-223) of a repo driver account.
func (id AccountID) ForgeID() uint8 {
	return uint8(new(uint256.Int).Rsh(&id.n, forgeShift).Uint64())
}

// Forge returns the forge of a repo driver account.
func (id AccountID) Forge() uint8 {
	return id.ForgeID() >> 1
}

// NameHashed reports whether a repo driver account encodes a hashed name.
func (id AccountID) NameHashed() bool {
	return id.ForgeID()&1 == 1
}

// Address returns the low 160 bits, the owner of an address driver account.
func (id AccountID) Address() common.Address {
	b := id.n.Bytes32()
	return common.BytesToAddress(b[12:])
}

func (id AccountID) Big() *big.Int {
	return id.n.ToBig()
}

func (id AccountID) Cmp(other AccountID) int {
	return id.n.Cmp(&other.n)
}

func (id AccountID) IsZero() bool {
	return id.n.IsZero()
}

func (id AccountID) String() string {
	return id.n.Dec()
}

func (id AccountID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *AccountID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "account id must be a string")
	}

	parsed, err := Parse(s)
	if err != nil {
		return err
	}

	*id = parsed
	return nil
}

// Decode returns the driver tag of id.
func Decode(id AccountID) (DriverTag, error) {
	switch driver := id.DriverID(); driver {
	case addressDriverID:
		return DriverAddress, nil
	case nftDriverID:
		return DriverNFT, nil
	case immutableSplitsDriverID:
		return DriverImmutableSplits, nil
	case repoDriverID:
		switch forgeID := id.ForgeID(); forgeID >> 1 {
		case ForgeGitHub, ForgeGitLab:
			return DriverRepo, nil
		case ForgeORCID:
			return DriverLinkedIdentity, nil
		default:
			return 0, errors.Wrapf(ErrUnknownDriver, "account %s: repo forge id %d", id, forgeID)
		}
	default:
		return 0, errors.Wrapf(ErrUnknownDriver, "account %s: driver %d", id, driver)
	}
}

// MustDecode panics on an unknown driver. Use only on ids already validated.
func MustDecode(id AccountID) DriverTag {
	tag, err := Decode(id)
	if err != nil {
		panic(err)
	}
	return tag
}

func is(id AccountID, want DriverTag) bool {
	tag, err := Decode(id)
	return err == nil && tag == want
}

func IsAddress(id AccountID) bool         { return is(id, DriverAddress) }
func IsNFT(id AccountID) bool             { return is(id, DriverNFT) }
func IsImmutableSplits(id AccountID) bool { return is(id, DriverImmutableSplits) }
func IsRepo(id AccountID) bool            { return is(id, DriverRepo) }
func IsLinkedIdentity(id AccountID) bool  { return is(id, DriverLinkedIdentity) }

// Assert returns an error unless id decodes to want.
func Assert(id AccountID, want DriverTag) error {
	tag, err := Decode(id)
	if err != nil {
		return err
	}
	if tag != want {
		return errors.Wrapf(ErrDriverMismatch, "account %s: expected %s, got %s", id, want, tag)
	}
	return nil
}

func AssertNFT(id AccountID) error             { return Assert(id, DriverNFT) }
func AssertImmutableSplits(id AccountID) error { return Assert(id, DriverImmutableSplits) }

// AssertRepoOwned accepts both plain repo accounts and linked identities.
func AssertRepoOwned(id AccountID) (DriverTag, error) {
	tag, err := Decode(id)
	if err != nil {
		return 0, err
	}
	if tag != DriverRepo && tag != DriverLinkedIdentity {
		return 0, errors.Wrapf(ErrDriverMismatch, "account %s: expected repo driver, got %s", id, tag)
	}
	return tag, nil
}
