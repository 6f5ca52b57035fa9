// Package base provides the foundational BaseConnector that all Meridian
// connectors embed. It implements the functionality every platform connector
// needs: lifecycle and auth-state management, per-operation rate limiting,
// capability gating, and the shared HTTP client.
//
// # Usage
//
// All connectors embed BaseConnector to inherit its functionality:
//
//	type MyConnector struct {
//	    *base.BaseConnector
//	    // connector-specific fields
//	}
//
//	func New() *MyConnector {
//	    return &MyConnector{
//	        BaseConnector: base.NewBaseConnector(core.PlatformShopify, "1.0.0"),
//	    }
//	}
//
// # Lifecycle
//
// 1. Create with NewBaseConnector
// 2. Initialize with Initialize() - validates config, sets up limiter and client
// 3. Authenticate, then dispatch operations
// 4. Close with Close() - cancels pending work and releases resources
package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian/pkg/clients"
	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/errors"
	"github.com/meridianhq/meridian/pkg/logger"
	"github.com/meridianhq/meridian/pkg/metrics"
)

// BaseConnector provides common functionality for all platform connectors:
// auth-state tracking, the per-operation sliding-window limiter, the shared
// HTTP client, and the fallback scheduler for platforms without native
// deferred publishing.
type BaseConnector struct {
	// Core fields
	platform core.Platform      // Platform this connector talks to
	version  string             // Connector version
	config   *config.BaseConfig // Unified configuration
	logger   *zap.Logger        // Structured logger

	// Auth state
	authState  core.AuthState
	profile    *core.ProfileInfo
	stateMutex sync.RWMutex

	// Resource management
	ctx        context.Context
	cancel     context.CancelFunc
	closed     bool
	closeMutex sync.Mutex

	// Production features
	limiter    *clients.OperationLimiter
	httpClient *clients.HTTPClient
	scheduler  *Scheduler
}

// NewBaseConnector creates a new base connector for the given platform.
// This should be called by connector implementations during construction.
func NewBaseConnector(platform core.Platform, version string) *BaseConnector {
	return &BaseConnector{
		platform:  platform,
		version:   version,
		authState: core.AuthStateUnauthenticated,
		logger:    logger.Get().With(zap.String("platform", string(platform))),
	}
}

// Initialize validates the configuration and sets up the rate limiter and
// HTTP client. It must be called before the connector is used; it performs
// no network calls.
func (bc *BaseConnector) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrTypeValidation, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrTypeValidation, "invalid connector configuration")
	}

	bc.config = cfg
	bc.ctx, bc.cancel = context.WithCancel(context.Background())
	bc.logger = bc.logger.With(zap.String("instance", cfg.Name))

	// Per-operation sliding-window limiter. Platform defaults apply unless
	// the instance configures an explicit per-window budget.
	budgets := core.DefaultRateBudgets(bc.platform)
	fallback := 60
	if cfg.Reliability.RateLimitMaxCalls > 0 {
		budgets = map[string]int{}
		fallback = cfg.Reliability.RateLimitMaxCalls
	}
	bc.limiter = clients.NewOperationLimiter(cfg.Reliability.RateLimitWindow, budgets, fallback)

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RequestTimeout = cfg.Timeouts.Request
	httpCfg.DialTimeout = cfg.Timeouts.Connection
	httpCfg.KeepAlive = cfg.Timeouts.KeepAlive
	bc.httpClient = clients.NewHTTPClient(httpCfg, bc.logger)

	bc.scheduler = NewScheduler(bc.platform, bc.logger)

	bc.logger.Info("connector initialized",
		zap.String("version", bc.version),
		zap.Duration("rate_limit_window", cfg.Reliability.RateLimitWindow))

	return nil
}

// Platform returns the platform this connector talks to
func (bc *BaseConnector) Platform() core.Platform {
	return bc.platform
}

// Name returns the connector instance name
func (bc *BaseConnector) Name() string {
	if bc.config == nil {
		return ""
	}
	return bc.config.Name
}

// Version returns the connector version
func (bc *BaseConnector) Version() string {
	return bc.version
}

// Config returns the connector configuration
func (bc *BaseConnector) Config() *config.BaseConfig {
	return bc.config
}

// Logger returns the instance-scoped structured logger
func (bc *BaseConnector) Logger() *zap.Logger {
	return bc.logger
}

// HTTPClient returns the shared HTTP client
func (bc *BaseConnector) HTTPClient() *clients.HTTPClient {
	return bc.httpClient
}

// Scheduler returns the fallback scheduler for deferred publishing
func (bc *BaseConnector) Scheduler() *Scheduler {
	return bc.scheduler
}

// AuthState returns the current authentication state
func (bc *BaseConnector) AuthState() core.AuthState {
	bc.stateMutex.RLock()
	defer bc.stateMutex.RUnlock()
	return bc.authState
}

// Profile returns the account profile captured by the last successful
// authentication, or nil.
func (bc *BaseConnector) Profile() *core.ProfileInfo {
	bc.stateMutex.RLock()
	defer bc.stateMutex.RUnlock()
	return bc.profile
}

// MarkAuthenticated records a successful authentication probe
func (bc *BaseConnector) MarkAuthenticated(profile *core.ProfileInfo) {
	bc.stateMutex.Lock()
	defer bc.stateMutex.Unlock()
	bc.authState = core.AuthStateAuthenticated
	bc.profile = profile
	bc.logger.Info("authenticated", zap.String("account", profile.ID))
}

// MarkExpired transitions the connector out of the authenticated state after
// a provider rejects its credentials mid-session.
func (bc *BaseConnector) MarkExpired() {
	bc.stateMutex.Lock()
	defer bc.stateMutex.Unlock()
	if bc.authState == core.AuthStateAuthenticated {
		bc.authState = core.AuthStateExpired
		bc.logger.Warn("credentials expired")
	}
}

// EnsureOperational gates an operation on the capability matrix, the auth
// state, and the rate limiter, in that order. Unsupported operations fail
// fast without consuming rate budget.
func (bc *BaseConnector) EnsureOperational(ctx context.Context, op core.Operation) error {
	if bc.isClosed() {
		return errors.New(errors.ErrTypeGenericAPI, "connector is closed")
	}

	matrix := core.MatrixFor(bc.platform)
	if !matrix.Supports(op) {
		return errors.Unsupported(string(bc.platform), string(op), matrix.Hint(op))
	}

	if op != core.OpAuthenticate {
		state := bc.AuthState()
		if state != core.AuthStateAuthenticated {
			return errors.Newf(errors.ErrTypeAuthFailed,
				"connector is %s; authenticate before dispatching %s", state, op)
		}
	}

	if err := bc.limiter.Wait(ctx, string(op)); err != nil {
		return err
	}
	return nil
}

// Observe records an operation outcome in logs and metrics. Call it once per
// dispatched operation.
func (bc *BaseConnector) Observe(op core.Operation, err error, elapsed time.Duration) {
	metrics.ObserveOperation(string(bc.platform), string(op), err, elapsed)
	if err != nil {
		bc.logger.Warn("operation failed",
			zap.String("operation", string(op)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	bc.logger.Debug("operation completed",
		zap.String("operation", string(op)),
		zap.Duration("elapsed", elapsed))
}

// RateLimitStats returns per-operation limiter statistics
func (bc *BaseConnector) RateLimitStats() map[string]clients.RateLimiterStats {
	if bc.limiter == nil {
		return nil
	}
	return bc.limiter.Stats()
}

// Close shuts down the connector: cancels pending scheduled jobs, tears down
// the HTTP client, and marks the connector closed. Close is idempotent.
func (bc *BaseConnector) Close(ctx context.Context) error {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()

	if bc.closed {
		return nil
	}
	bc.closed = true

	if bc.scheduler != nil {
		cancelled := bc.scheduler.CancelAll()
		if cancelled > 0 {
			bc.logger.Info("cancelled pending scheduled jobs", zap.Int("count", cancelled))
		}
	}
	if bc.cancel != nil {
		bc.cancel()
	}
	if bc.httpClient != nil {
		if err := bc.httpClient.Close(); err != nil {
			bc.logger.Warn("http client close", zap.Error(err))
		}
	}

	bc.logger.Info("connector closed")
	return nil
}

func (bc *BaseConnector) isClosed() bool {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()
	return bc.closed
}
