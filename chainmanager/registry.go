package chainmanager

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	commontypes "github.com/hashlock-labs/htlc-relay/common/types"
)

// Registry holds the built chain for each swap leg.
type Registry struct {
	logger      *logrus.Logger
	factory     ChainFactory
	chains      map[commontypes.ChainRole]commontypes.Chain
	chainsMutex sync.RWMutex
}

// NewChainRegistry creates a registry backed by the given factory.
func NewChainRegistry(factory ChainFactory, logger *logrus.Logger) *Registry {
	return &Registry{
		logger:  logger,
		factory: factory,
		chains:  make(map[commontypes.ChainRole]commontypes.Chain),
	}
}

// Add builds the chain for the config and stores it under its role.
func (r *Registry) Add(ctx context.Context, config *commontypes.ChainConfig) error {
	chain, err := r.factory.CreateChain(ctx, config, r.logger)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s chain %s", config.Type, config.Name)
	}

	r.chainsMutex.Lock()
	r.chains[config.Role] = chain
	r.chainsMutex.Unlock()

	r.logger.WithFields(logrus.Fields{
		"chain": config.Name,
		"type":  config.Type,
		"role":  config.Role,
	}).Info("Chain registered")
	return nil
}

// Get returns the chain for the role, or nil if none was added.
func (r *Registry) Get(role commontypes.ChainRole) commontypes.Chain {
	r.chainsMutex.RLock()
	defer r.chainsMutex.RUnlock()
	return r.chains[role]
}

// All returns the registered chains keyed by role.
func (r *Registry) All() map[commontypes.ChainRole]commontypes.Chain {
	r.chainsMutex.RLock()
	defer r.chainsMutex.RUnlock()

	chains := make(map[commontypes.ChainRole]commontypes.Chain, len(r.chains))
	for role, chain := range r.chains {
		chains[role] = chain
	}
	return chains
}
