package events

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/models"
	"github.com/speedrun-hq/fundgraph/test"
)

func TestParseMetadata(t *testing.T) {
	project := test.ProjectAccount("octo/repo")
	orcid := test.ORCIDAccount("0000-0002-1825-0097")
	list := test.NFTAccount(2)
	sub := test.SubListAccount(5)
	address := test.AddressAccount("0x00000000000000000000000000000000000000aa")
	gitlab := accountid.FromRepo(accountid.ForgeGitLab, []byte("gitlab-org/gitlab"))

	source := `"source":{"forge":"github","ownerName":"octo","repoName":"repo","url":"https://github.com/octo/repo"}`

	tests := []struct {
		name    string
		account string
		doc     string
		kind    models.EntityKind
		wantErr bool
	}{
		{
			name: "project with recipients",
			doc: fmt.Sprintf(`{"type":"project","describes":{"accountId":"%s"},%s,"recipients":[{"type":"address","accountId":"%s","weight":600000},{"type":"dripList","accountId":"%s","weight":400000}]}`,
				project, source, address, list),
			kind: models.EntityProject,
		},
		{
			name: "project with splits layout",
			doc: fmt.Sprintf(`{"type":"project","describes":{"accountId":"%s"},%s,"splits":{"maintainers":[{"type":"address","accountId":"%s","weight":500000}],"dependencies":[{"type":"orcid","accountId":"%s","weight":500000}]}}`,
				project, source, address, orcid),
			kind: models.EntityProject,
		},
		{
			name:    "gitlab project",
			account: gitlab.String(),
			doc: fmt.Sprintf(`{"type":"project","describes":{"accountId":"%s"},"source":{"forge":"gitlab","ownerName":"gitlab-org","repoName":"gitlab","url":"https://gitlab.com/gitlab-org/gitlab"},"recipients":[{"type":"project","accountId":"%s","weight":1000}]}`,
				gitlab, project),
			kind: models.EntityProject,
		},
		{
			name:    "orcid",
			account: orcid.String(),
			doc:     fmt.Sprintf(`{"type":"orcid","describes":{"accountId":"%s"}}`, orcid),
			kind:    models.EntityLinkedIdentity,
		},
		{
			name:    "ecosystem",
			account: list.String(),
			doc:     fmt.Sprintf(`{"type":"ecosystem","describes":{"accountId":"%s"},"recipients":[{"type":"subList","accountId":"%s","weight":1000000}]}`, list, sub),
			kind:    models.EntityEcosystem,
		},
		{
			name:    "not json",
			doc:     `{"type":`,
			wantErr: true,
		},
		{
			name:    "describes another account",
			doc:     fmt.Sprintf(`{"type":"project","describes":{"accountId":"%s"},%s}`, list, source),
			wantErr: true,
		},
		{
			name:    "type not allowed for driver",
			doc:     fmt.Sprintf(`{"type":"dripList","describes":{"accountId":"%s"}}`, project),
			wantErr: true,
		},
		{
			name:    "project without source",
			doc:     fmt.Sprintf(`{"type":"project","describes":{"accountId":"%s"}}`, project),
			wantErr: true,
		},
		{
			name: "source url mismatch",
			doc: fmt.Sprintf(`{"type":"project","describes":{"accountId":"%s"},"source":{"forge":"github","ownerName":"octo","repoName":"repo","url":"https://github.com/evil/repo"}}`,
				project),
			wantErr: true,
		},
		{
			name: "zero weight",
			doc: fmt.Sprintf(`{"type":"project","describes":{"accountId":"%s"},%s,"recipients":[{"type":"address","accountId":"%s","weight":0}]}`,
				project, source, address),
			wantErr: true,
		},
		{
			name: "weights above total",
			doc: fmt.Sprintf(`{"type":"project","describes":{"accountId":"%s"},%s,"recipients":[{"type":"address","accountId":"%s","weight":600000},{"type":"dripList","accountId":"%s","weight":400001}]}`,
				project, source, address, list),
			wantErr: true,
		},
		{
			name: "receiver type mismatch",
			doc: fmt.Sprintf(`{"type":"project","describes":{"accountId":"%s"},%s,"recipients":[{"type":"project","accountId":"%s","weight":1}]}`,
				project, source, address),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := project
			if tt.account != "" {
				require.NoError(t, account.UnmarshalJSON([]byte(`"`+tt.account+`"`)))
			}

			doc, err := ParseMetadata([]byte(tt.doc), account)
			if tt.wantErr {
				var valErr *ValidationError
				require.Error(t, err)
				assert.True(t, errors.As(err, &valErr), "unexpected error type: %v", err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.kind, doc.Kind())
		})
	}
}

func TestParseMetadataTooManyReceivers(t *testing.T) {
	list := test.NFTAccount(2)

	recipients := make([]string, MaxReceivers+1)
	for i := range recipients {
		recipients[i] = fmt.Sprintf(`{"type":"dripList","accountId":"%s","weight":1}`, test.NFTAccount(uint64(100+i)))
	}
	doc := fmt.Sprintf(`{"type":"dripList","describes":{"accountId":"%s"},"recipients":[%s]}`, list, strings.Join(recipients, ","))

	_, err := ParseMetadata([]byte(doc), list)
	var valErr *ValidationError
	assert.True(t, errors.As(err, &valErr))
}

func TestMetadataReceivers(t *testing.T) {
	a := test.AddressAccount("0x00000000000000000000000000000000000000aa")
	b := test.AddressAccount("0x00000000000000000000000000000000000000bb")

	m := &Metadata{
		Recipients: []MetadataReceiver{{Type: DocAddress, AccountID: a, Weight: 1}},
		Splits: &MetadataSplits{
			Dependencies: []MetadataReceiver{{Type: DocAddress, AccountID: b, Weight: 2}},
		},
	}

	receivers := m.Receivers()
	require.Len(t, receivers, 2)
	assert.Equal(t, a, receivers[0].AccountID)
	assert.Equal(t, b, receivers[1].AccountID)
}
