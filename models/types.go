package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/fundgraph/accountid"
)

// LogEvent is the immutable record of one physical log, unique on (TransactionHash, LogIndex).
type LogEvent struct {
	TransactionHash string
	LogIndex        uint
	EventSignature  string
	AccountID       accountid.AccountID
	BlockNumber     uint64
	BlockTimestamp  time.Time
	Args            string
	CreatedAt       time.Time
}

func (e *LogEvent) Version() Version {
	return NewVersion(e.BlockNumber, e.LogIndex)
}

// LogEventFromPayload builds the LogEvent row for a job payload concerning account.
func LogEventFromPayload(p *EventPayload, account accountid.AccountID) *LogEvent {
	return &LogEvent{
		TransactionHash: p.TransactionHash,
		LogIndex:        p.LogIndex,
		EventSignature:  p.EventSignature,
		AccountID:       account,
		BlockNumber:     p.BlockNumber,
		BlockTimestamp:  p.BlockTimestamp,
		Args:            p.Args,
	}
}

// EntityKind is the kind of account an Entity row describes.
type EntityKind string

const (
	EntityProject        EntityKind = "project"
	EntityDripList       EntityKind = "drip_list"
	EntityEcosystem      EntityKind = "ecosystem"
	EntitySubList        EntityKind = "sub_list"
	EntityLinkedIdentity EntityKind = "linked_identity"
)

// VerificationStatus tracks repo driver ownership claims.
type VerificationStatus string

const (
	VerificationUnclaimed    VerificationStatus = "unclaimed"
	VerificationPendingOwner VerificationStatus = "pending_owner"
	VerificationClaimed      VerificationStatus = "claimed"
)

// Entity is the derived state of a non-address account.
type Entity struct {
	AccountID             accountid.AccountID
	Kind                  EntityKind
	OwnerAddress          *common.Address
	Name                  string
	Description           string
	Color                 string
	Emoji                 string
	SourceURL             string
	Forge                 *uint8
	VerificationStatus    VerificationStatus
	IsValid               bool
	IsVisible             bool
	LastProcessedIpfsHash string
	LastProcessedVersion  Version
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ReceiverType classifies the fundee of a splits edge.
type ReceiverType string

const (
	ReceiverAddress        ReceiverType = "address"
	ReceiverProject        ReceiverType = "project"
	ReceiverDripList       ReceiverType = "drip_list"
	ReceiverEcosystem      ReceiverType = "ecosystem"
	ReceiverSubList        ReceiverType = "sub_list"
	ReceiverLinkedIdentity ReceiverType = "linked_identity"
)

// SplitsReceiver is one weighted edge of an account's split graph.
type SplitsReceiver struct {
	FunderAccountID accountid.AccountID
	FundeeAccountID accountid.AccountID
	Weight          uint32
	Type            ReceiverType
	BlockTimestamp  time.Time
}
