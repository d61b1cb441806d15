package cosmos

import (
	"context"
	"math/big"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
)

// cosmos is the CosmWasm chain implementation.
type cosmos struct {
	config        *types.ChainConfig
	logger        *logrus.Logger
	client        *RPCClient
	signer        Signer
	safetyDeposit *big.Int

	// submitMutex serializes submissions from the broadcasting account.
	// Account sequence numbers impose the same strict ordering nonces do on
	// the EVM side.
	submitMutex sync.Mutex

	watcherMutex sync.Mutex
	watcher      *pollWatcher
}

// BalanceQuerier is implemented by signers that can report the broadcasting
// account's balance. Bank queries are not reachable over the bare Tendermint
// RPC surface, so the capability lives with the signer sidecar.
type BalanceQuerier interface {
	Balance(ctx context.Context, address, denom string) (*big.Int, error)
}

// NewCosmosChain creates the CosmWasm chain implementation and verifies the
// RPC endpoint responds.
//
// Parameters:
// - ctx: the context for the connectivity check.
// - config: the chain configuration.
// - logger: the logger for logging events.
// - signer: the signing capability; may be nil for a watch-only chain.
//
// Returns:
// - types.Chain: a new CosmWasm chain instance.
// - error: an error if the RPC endpoint is unreachable.
func NewCosmosChain(ctx context.Context, config *types.ChainConfig, logger *logrus.Logger, signer Signer) (types.Chain, error) {
	chain := &cosmos{
		config:        config,
		logger:        logger,
		client:        NewRPCClient(config.RpcUrl),
		signer:        signer,
		safetyDeposit: big.NewInt(0),
	}

	if config.SafetyDeposit != "" {
		deposit, ok := new(big.Int).SetString(config.SafetyDeposit, 10)
		if !ok {
			return nil, errors.Wrapf(commonerrors.ErrInvalidConfig, "bad safety deposit %q", config.SafetyDeposit)
		}
		chain.safetyDeposit = deposit
	}

	height, err := chain.client.LatestHeight(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reach RPC endpoint")
	}

	logger.WithFields(logrus.Fields{
		"chain":  config.Name,
		"height": height,
	}).Info("Connected to Cosmos RPC")

	return chain, nil
}

// GetBalance returns the broadcasting account's balance in the configured
// denomination, when the signer exposes balance queries.
func (c *cosmos) GetBalance(ctx context.Context) (*big.Int, error) {
	if c.signer == nil {
		return nil, errors.New("signer not configured")
	}

	querier, ok := c.signer.(BalanceQuerier)
	if !ok {
		return nil, errors.New("signer does not support balance queries")
	}
	return querier.Balance(ctx, c.signer.Address(), c.config.Denom)
}
