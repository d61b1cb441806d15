// Package connectionmonitor keeps chain RPC connections alive: a periodic
// health check with bounded reconnect attempts when a check fails.
package connectionmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// healthCheckInterval defines interval between connection health checks.
	healthCheckInterval = 30 * time.Second
	// reconnectDelay defines the pause between reconnection attempts.
	reconnectDelay = 5 * time.Second
	// maxReconnectAttempts defines maximum number of reconnection attempts.
	maxReconnectAttempts = 3
)

// ConnectionMonitor represents connection state monitoring interface.
type ConnectionMonitor interface {
	// Start starts connection monitoring.
	Start(ctx context.Context) error
	// Stop stops connection monitoring.
	Stop()
}

// BlockchainClient represents the monitored blockchain client.
type BlockchainClient interface {
	// CheckConnection checks if the connection is alive.
	CheckConnection(ctx context.Context) error
	// Reconnect attempts to reconnect to the blockchain node.
	Reconnect(ctx context.Context) error
}

type connectionMonitor struct {
	client       BlockchainClient
	logger       *logrus.Logger
	chainName    string
	stopChan     chan struct{}
	isMonitoring bool
	monitorMutex sync.Mutex
}

// NewConnectionMonitor creates a new connection monitor instance.
//
// Parameters:
// - client: the blockchain client to monitor.
// - logger: the logger for logging purposes.
// - chainName: the name of the monitored chain.
//
// Returns:
// - ConnectionMonitor: the new connection monitor instance.
func NewConnectionMonitor(client BlockchainClient, logger *logrus.Logger, chainName string) ConnectionMonitor {
	return &connectionMonitor{
		client:    client,
		logger:    logger,
		chainName: chainName,
		stopChan:  make(chan struct{}),
	}
}

// Start starts connection monitoring.
func (m *connectionMonitor) Start(ctx context.Context) error {
	m.monitorMutex.Lock()
	if m.isMonitoring {
		m.monitorMutex.Unlock()
		return errors.Errorf("connection monitor is already running for chain %s", m.chainName)
	}
	m.isMonitoring = true
	m.monitorMutex.Unlock()

	go m.monitorConnection(ctx)
	return nil
}

// Stop stops connection monitoring.
func (m *connectionMonitor) Stop() {
	m.monitorMutex.Lock()
	defer m.monitorMutex.Unlock()

	if !m.isMonitoring {
		return
	}

	close(m.stopChan)
	m.isMonitoring = false
}

func (m *connectionMonitor) monitorConnection(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.WithField("chain", m.chainName).Info("Connection monitoring stopped due to context cancellation")
			return

		case <-m.stopChan:
			m.logger.WithField("chain", m.chainName).Info("Connection monitoring stopped")
			return

		case <-ticker.C:
			if err := m.checkAndReconnect(ctx); err != nil {
				m.logger.WithFields(logrus.Fields{
					"chain": m.chainName,
				}).WithError(err).Error("Failed to check or reconnect")
			}
		}
	}
}

// checkAndReconnect verifies the connection and drives the bounded
// reconnect loop when the check fails.
func (m *connectionMonitor) checkAndReconnect(ctx context.Context) error {
	checkErr := m.client.CheckConnection(ctx)
	if checkErr == nil {
		return nil
	}

	m.logger.WithFields(logrus.Fields{
		"chain": m.chainName,
	}).WithError(checkErr).Warn("Connection check failed, attempting to reconnect")

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		err := m.client.Reconnect(ctx)
		if err == nil {
			m.logger.WithFields(logrus.Fields{
				"chain":   m.chainName,
				"attempt": attempt,
			}).Info("Reconnected to chain")
			return nil
		}

		m.logger.WithFields(logrus.Fields{
			"chain":   m.chainName,
			"attempt": attempt,
		}).WithError(err).Error("Reconnection attempt failed")

		if attempt == maxReconnectAttempts {
			return errors.Wrapf(err, "failed to reconnect to chain %s", m.chainName)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopChan:
			return nil
		case <-time.After(reconnectDelay):
		}
	}

	return nil
}
