package ipfs

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/h2non/gentleman.v2"
	gctx "gopkg.in/h2non/gentleman.v2/context"
	"gopkg.in/h2non/gentleman.v2/plugins/timeout"

	"github.com/speedrun-hq/fundgraph/logging"
)

const DefaultTimeout = 30 * time.Second

// ErrNotFound is returned when the gateway has no content for a hash.
var ErrNotFound = errors.New("ipfs content not found")

// Client fetches pinned metadata documents through an HTTP gateway.
type Client struct {
	cli    *gentleman.Client
	logger zerolog.Logger
}

func New(gatewayURL string, requestTimeout time.Duration, logger zerolog.Logger) *Client {
	if requestTimeout <= 0 {
		requestTimeout = DefaultTimeout
	}

	cli := gentleman.New()
	cli.BaseURL(strings.TrimRight(gatewayURL, "/"))
	cli.Use(timeout.Request(requestTimeout))

	return &Client{
		cli:    cli,
		logger: logger.With().Str(logging.FieldModule, "ipfs_client").Logger(),
	}
}

// Fetch returns the raw document stored under hash.
func (c *Client) Fetch(ctx context.Context, hash string) ([]byte, error) {
	if hash == "" {
		return nil, errors.New("empty ipfs hash")
	}

	req := c.cli.Request()
	req.Method(http.MethodGet)
	req.AddPath("/ipfs/" + hash)
	req.UseRequest(func(gc *gctx.Context, h gctx.Handler) {
		gc.Request = gc.Request.WithContext(ctx)
		h.Next(gc)
	})

	start := time.Now()
	res, err := req.Send()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch ipfs hash %s", hash)
	}

	c.logger.Debug().
		Str("hash", hash).
		Int("status", res.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Fetched metadata")

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, errors.Wrap(ErrNotFound, hash)
	case !res.Ok:
		return nil, errors.Errorf("gateway returned status %d for %s", res.StatusCode, hash)
	}

	return res.Bytes(), nil
}
