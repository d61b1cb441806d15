// Package chainmanager assembles chain implementations from configuration:
// a factory mapping chain types to constructors and a registry holding the
// built chain for each swap leg.
package chainmanager

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hashlock-labs/htlc-relay/chains/cosmos"
	"github.com/hashlock-labs/htlc-relay/chains/evm"
	commontypes "github.com/hashlock-labs/htlc-relay/common/types"
)

// Chain type identifiers accepted in configuration.
const (
	ChainTypeEVM    = "evm"
	ChainTypeCosmos = "cosmos"
)

// ChainConstructor represents a function that constructs a new chain instance.
//
// Parameters:
// - ctx: the context for connectivity checks during construction.
// - config: the configuration for the chain.
// - logger: the logger for logging purposes.
//
// Returns:
// - commontypes.Chain: the constructed chain instance.
// - error: an error if the chain construction fails.
type ChainConstructor func(ctx context.Context, config *commontypes.ChainConfig, logger *logrus.Logger) (commontypes.Chain, error)

// ChainFactory defines the interface for chain creation.
type ChainFactory interface {
	// RegisterConstructor registers a new chain constructor for a given chain type.
	RegisterConstructor(chainType string, constructor ChainConstructor)

	// CreateChain creates a new chain instance based on the configuration.
	CreateChain(ctx context.Context, config *commontypes.ChainConfig, logger *logrus.Logger) (commontypes.Chain, error)
}

type chainFactory struct {
	// constructors stores the mapping of chain types to their constructors.
	constructors map[string]ChainConstructor
	// constructorsMutex protects access to the constructors map.
	constructorsMutex sync.RWMutex
}

// NewChainFactory creates a new instance of the chain factory with the
// default EVM and Cosmos constructors registered.
func NewChainFactory() ChainFactory {
	factory := &chainFactory{
		constructors: make(map[string]ChainConstructor),
	}

	factory.registerConstructors()

	return factory
}

// RegisterConstructor registers a new chain constructor.
func (f *chainFactory) RegisterConstructor(chainType string, constructor ChainConstructor) {
	f.constructorsMutex.Lock()
	defer f.constructorsMutex.Unlock()

	f.constructors[chainType] = constructor
}

// CreateChain creates a new chain instance based on the configuration.
func (f *chainFactory) CreateChain(ctx context.Context, config *commontypes.ChainConfig, logger *logrus.Logger) (commontypes.Chain, error) {
	f.constructorsMutex.RLock()
	constructor, exists := f.constructors[config.Type]
	f.constructorsMutex.RUnlock()

	if !exists {
		return nil, errors.Errorf("invalid chain type %q", config.Type)
	}

	return constructor(ctx, config, logger)
}

// registerConstructors registers the blockchain constructors for the chain
// factory instance.
func (f *chainFactory) registerConstructors() {
	f.RegisterConstructor(ChainTypeEVM, func(ctx context.Context, config *commontypes.ChainConfig, logger *logrus.Logger) (commontypes.Chain, error) {
		return evm.NewEvmChain(ctx, config, logger)
	})

	f.RegisterConstructor(ChainTypeCosmos, func(ctx context.Context, config *commontypes.ChainConfig, logger *logrus.Logger) (commontypes.Chain, error) {
		var signer cosmos.Signer
		if config.SignerURL != "" {
			signer = cosmos.NewRemoteSigner(config.SignerURL, config.SignerAddress)
		}
		return cosmos.NewCosmosChain(ctx, config, logger, signer)
	})
}
