package httpjson

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
	web "github.com/speedrun-hq/fundgraph/http"
	"github.com/speedrun-hq/fundgraph/models"
)

type receiverResponse struct {
	AccountID string `json:"accountId"`
	Weight    uint32 `json:"weight"`
	Type      string `json:"type"`
}

type accountResponse struct {
	AccountID          string             `json:"accountId"`
	Driver             string             `json:"driver"`
	Kind               string             `json:"kind"`
	Owner              string             `json:"owner,omitempty"`
	Name               string             `json:"name,omitempty"`
	Description        string             `json:"description,omitempty"`
	Color              string             `json:"color,omitempty"`
	Emoji              string             `json:"emoji,omitempty"`
	SourceURL          string             `json:"sourceUrl,omitempty"`
	VerificationStatus string             `json:"verificationStatus,omitempty"`
	IsValid            bool               `json:"isValid"`
	IsVisible          bool               `json:"isVisible"`
	IpfsHash           string             `json:"ipfsHash,omitempty"`
	LastProcessedBlock uint64             `json:"lastProcessedBlock"`
	UpdatedAt          time.Time          `json:"updatedAt"`
	Receivers          []receiverResponse `json:"receivers"`
}

func (h *handler) setupAccountRoutes(group *gin.RouterGroup) {
	group.GET("/accounts/:id", h.getAccount)
}

func (h *handler) getAccount(c *gin.Context) {
	id, err := accountid.Parse(c.Param("id"))
	if err != nil {
		web.ErrBadRequest(c, err)
		return
	}

	tag, err := accountid.Decode(id)
	if err != nil {
		web.ErrBadRequest(c, err)
		return
	}

	var (
		entity    *models.Entity
		receivers []models.SplitsReceiver
	)

	err = h.deps.Database.WithTx(c.Request.Context(), func(tx db.Tx) error {
		var txErr error
		if entity, txErr = tx.GetEntity(c.Request.Context(), id); txErr != nil {
			return txErr
		}
		receivers, txErr = tx.GetSplitsReceivers(c.Request.Context(), id)
		return txErr
	})

	switch {
	case errors.Is(err, db.ErrNotFound):
		web.ErrNotFound(c, errors.Wrapf(ErrNotFound, "account %s", id))
		return
	case err != nil:
		web.ErrInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAccountResponse(tag, entity, receivers))
}

func toAccountResponse(tag accountid.DriverTag, e *models.Entity, receivers []models.SplitsReceiver) accountResponse {
	res := accountResponse{
		AccountID:          e.AccountID.String(),
		Driver:             tag.String(),
		Kind:               string(e.Kind),
		Name:               e.Name,
		Description:        e.Description,
		Color:              e.Color,
		Emoji:              e.Emoji,
		SourceURL:          e.SourceURL,
		VerificationStatus: string(e.VerificationStatus),
		IsValid:            e.IsValid,
		IsVisible:          e.IsVisible,
		IpfsHash:           e.LastProcessedIpfsHash,
		LastProcessedBlock: e.LastProcessedVersion.Block,
		UpdatedAt:          e.UpdatedAt,
		Receivers:          make([]receiverResponse, len(receivers)),
	}

	if e.OwnerAddress != nil {
		res.Owner = e.OwnerAddress.Hex()
	}

	for i, r := range receivers {
		res.Receivers[i] = receiverResponse{
			AccountID: r.FundeeAccountID.String(),
			Weight:    r.Weight,
			Type:      string(r.Type),
		}
	}

	return res
}
