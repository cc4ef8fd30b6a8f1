package evm

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/speedrun-hq/fundgraph/config"
	"github.com/speedrun-hq/fundgraph/logging"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = 5 * time.Second

type endpoint struct {
	name string
	rpc  *rpc.Client
	eth  *ethclient.Client
}

// Client is a JSON-RPC client over an ordered list of endpoints.
// Every call starts at the primary endpoint and fails over in order.
type Client struct {
	endpoints []endpoint
	chainID   uint64
	logger    zerolog.Logger
}

// EndpointFailure is the failure of one endpoint during a call.
type EndpointFailure struct {
	Endpoint string
	Err      error
}

// AllEndpointsFailedError is returned when no endpoint produced a response.
type AllEndpointsFailedError struct {
	Op       string
	Failures []EndpointFailure
}

func (e *AllEndpointsFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Endpoint, f.Err))
	}
	return fmt.Sprintf("%s failed on all %d endpoints: [%s]", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

func (e *AllEndpointsFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// New dials all endpoints and verifies they serve the same chain as the primary.
func New(ctx context.Context, endpoints []config.RPCEndpoint, logger zerolog.Logger) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no RPC endpoints configured")
	}

	logger = logger.With().Str(logging.FieldModule, "evm_client").Logger()

	c := &Client{
		endpoints: make([]endpoint, 0, len(endpoints)),
		logger:    logger,
	}

	for i, cfg := range endpoints {
		opts := []rpc.ClientOption{}
		if cfg.AccessToken != "" {
			opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+cfg.AccessToken))
		}

		rpcClient, err := rpc.DialOptions(ctx, cfg.URL, opts...)
		if err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "failed to dial %s", redact(i, cfg.URL))
		}

		c.endpoints = append(c.endpoints, endpoint{
			name: redact(i, cfg.URL),
			rpc:  rpcClient,
			eth:  ethclient.NewClient(rpcClient),
		})
	}

	chainIDs, err := c.probeChainIDs(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.chainID = chainIDs[0]

	for i, id := range chainIDs {
		if id != c.chainID {
			c.Close()
			return nil, errors.Errorf(
				"endpoint %s reports chain %d, primary %s reports chain %d",
				c.endpoints[i].name, id, c.endpoints[0].name, c.chainID,
			)
		}
	}

	logger.Info().
		Uint64(logging.FieldChain, c.chainID).
		Int("endpoints", len(c.endpoints)).
		Msg("Successfully created EVM client")

	return c, nil
}

func (c *Client) probeChainIDs(ctx context.Context) ([]uint64, error) {
	ids := make([]uint64, len(c.endpoints))
	errGroup, ctxShared := errgroup.WithContext(ctx)

	for i := range c.endpoints {
		i := i
		ep := c.endpoints[i]
		errGroup.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctxShared, probeTimeout)
			defer cancel()

			id, err := ep.eth.ChainID(probeCtx)
			if err != nil {
				return errors.Wrapf(err, "failed to get chain id from %s", ep.name)
			}

			ids[i] = id.Uint64()
			return nil
		})
	}

	if err := errGroup.Wait(); err != nil {
		return nil, err
	}

	return ids, nil
}

// failover runs fn against each endpoint in order until one succeeds.
func failover[T any](ctx context.Context, c *Client, op string, fn func(context.Context, endpoint) (T, error)) (T, error) {
	var (
		zero     T
		failures []EndpointFailure
	)

	for i, ep := range c.endpoints {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		res, err := fn(ctx, ep)
		if err == nil {
			if i > 0 {
				c.logger.Debug().Str("op", op).Str("endpoint", ep.name).Msg("Served by fallback endpoint")
			}
			return res, nil
		}

		c.logger.Warn().Err(err).Str("op", op).Str("endpoint", ep.name).Msg("RPC endpoint failed")
		failures = append(failures, EndpointFailure{Endpoint: ep.name, Err: err})
	}

	return zero, &AllEndpointsFailedError{Op: op, Failures: failures}
}

// ChainID returns the chain id verified at construction.
func (c *Client) ChainID() uint64 {
	return c.chainID
}

// Send forwards a raw JSON-RPC call.
func (c *Client) Send(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	_, err := failover(ctx, c, method, func(ctx context.Context, ep endpoint) (struct{}, error) {
		return struct{}{}, ep.rpc.CallContext(ctx, result, method, args...)
	})
	return err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return failover(ctx, c, "eth_blockNumber", func(ctx context.Context, ep endpoint) (uint64, error) {
		return ep.eth.BlockNumber(ctx)
	})
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return failover(ctx, c, "eth_getLogs", func(ctx context.Context, ep endpoint) ([]types.Log, error) {
		return ep.eth.FilterLogs(ctx, q)
	})
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return failover(ctx, c, "eth_getBlockByNumber", func(ctx context.Context, ep endpoint) (*types.Header, error) {
		return ep.eth.HeaderByNumber(ctx, number)
	})
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return failover(ctx, c, "eth_call", func(ctx context.Context, ep endpoint) ([]byte, error) {
		return ep.eth.CallContract(ctx, msg, blockNumber)
	})
}

// Close releases all underlying connections.
func (c *Client) Close() {
	for _, ep := range c.endpoints {
		ep.rpc.Close()
	}
}

// redact strips credentials, paths and query strings, which commonly carry API
// keys. The endpoint index keeps endpoints on one host apart.
func redact(index int, raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("#%d invalid-url", index)
	}
	return fmt.Sprintf("#%d %s://%s", index, u.Scheme, u.Host)
}
