package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/models"
)

const (
	MaxReceivers     = 200
	TotalSplitWeight = 1_000_000
)

// MetadataFetcher loads a metadata document by content hash.
type MetadataFetcher interface {
	Fetch(ctx context.Context, hash string) ([]byte, error)
}

// Metadata document types.
const (
	DocProject   = "project"
	DocORCID     = "orcid"
	DocDripList  = "dripList"
	DocEcosystem = "ecosystem"
	DocSubList   = "subList"
	DocAddress   = "address"
)

type MetadataSource struct {
	Forge     string `json:"forge"`
	OwnerName string `json:"ownerName"`
	RepoName  string `json:"repoName"`
	URL       string `json:"url"`
}

type MetadataReceiver struct {
	Type      string              `json:"type"`
	AccountID accountid.AccountID `json:"accountId"`
	Weight    uint32              `json:"weight"`
}

type MetadataSplits struct {
	Maintainers  []MetadataReceiver `json:"maintainers"`
	Dependencies []MetadataReceiver `json:"dependencies"`
}

// Metadata is an account metadata document.
type Metadata struct {
	Type      string `json:"type"`
	Describes struct {
		AccountID accountid.AccountID `json:"accountId"`
	} `json:"describes"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Color       string             `json:"color"`
	Emoji       string             `json:"emoji"`
	IsVisible   *bool              `json:"isVisible"`
	Source      *MetadataSource    `json:"source"`
	Recipients  []MetadataReceiver `json:"recipients"`
	Splits      *MetadataSplits    `json:"splits"`
}

// Receivers returns the document's receivers across both layouts.
func (m *Metadata) Receivers() []MetadataReceiver {
	out := append([]MetadataReceiver{}, m.Recipients...)
	if m.Splits != nil {
		out = append(out, m.Splits.Maintainers...)
		out = append(out, m.Splits.Dependencies...)
	}
	return out
}

// Kind is the entity kind the document describes.
func (m *Metadata) Kind() models.EntityKind {
	switch m.Type {
	case DocProject:
		return models.EntityProject
	case DocORCID:
		return models.EntityLinkedIdentity
	case DocDripList:
		return models.EntityDripList
	case DocEcosystem:
		return models.EntityEcosystem
	case DocSubList:
		return models.EntitySubList
	default:
		return ""
	}
}

// ParseMetadata decodes and validates a document emitted for account.
func ParseMetadata(raw []byte, account accountid.AccountID) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, validationf("invalid metadata document: %v", err)
	}

	if err := m.validate(account); err != nil {
		return nil, err
	}

	return &m, nil
}

// allowedDocTypes lists the document types each driver may emit.
var allowedDocTypes = map[accountid.DriverTag][]string{
	accountid.DriverRepo:            {DocProject},
	accountid.DriverLinkedIdentity:  {DocORCID},
	accountid.DriverNFT:             {DocDripList, DocEcosystem},
	accountid.DriverImmutableSplits: {DocSubList},
}

func (m *Metadata) validate(account accountid.AccountID) error {
	if m.Describes.AccountID != account {
		return validationf("metadata describes %s, emitted by %s", m.Describes.AccountID, account)
	}

	tag, err := accountid.Decode(account)
	if err != nil {
		return invariant(err)
	}

	if !contains(allowedDocTypes[tag], m.Type) {
		return validationf("document type %q not allowed for %s account", m.Type, tag)
	}

	if m.Type == DocProject {
		if m.Source == nil {
			return validationf("project metadata without source")
		}
		repo := m.Source.OwnerName + "/" + m.Source.RepoName
		if m.Source.OwnerName == "" || m.Source.RepoName == "" || !strings.Contains(m.Source.URL, repo) {
			return validationf("project source url %q does not match %q", m.Source.URL, repo)
		}
	}

	receivers := m.Receivers()
	if len(receivers) > MaxReceivers {
		return validationf("%d receivers exceed the maximum of %d", len(receivers), MaxReceivers)
	}

	var total uint64
	for _, r := range receivers {
		if r.Weight == 0 || r.Weight > TotalSplitWeight {
			return validationf("receiver %s has invalid weight %d", r.AccountID, r.Weight)
		}
		total += uint64(r.Weight)

		if _, err := receiverType(r); err != nil {
			return err
		}
	}
	if total > TotalSplitWeight {
		return validationf("receiver weights sum to %d, above %d", total, TotalSplitWeight)
	}

	return nil
}

// receiverType checks the declared receiver type against its account driver.
func receiverType(r MetadataReceiver) (models.ReceiverType, error) {
	tag, err := accountid.Decode(r.AccountID)
	if err != nil {
		return "", validationf("receiver %s: %v", r.AccountID, err)
	}

	var (
		want models.ReceiverType
		ok   bool
	)

	switch r.Type {
	case DocAddress:
		want, ok = models.ReceiverAddress, tag == accountid.DriverAddress
	case DocProject:
		want, ok = models.ReceiverProject, tag == accountid.DriverRepo
	case DocORCID:
		want, ok = models.ReceiverLinkedIdentity, tag == accountid.DriverLinkedIdentity
	case DocDripList:
		want, ok = models.ReceiverDripList, tag == accountid.DriverNFT
	case DocEcosystem:
		want, ok = models.ReceiverEcosystem, tag == accountid.DriverNFT
	case DocSubList:
		want, ok = models.ReceiverSubList, tag == accountid.DriverImmutableSplits
	}

	if !ok {
		return "", validationf("receiver %s of type %q has a %s account", r.AccountID, r.Type, tag)
	}

	return want, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
