package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/rayguard/sentinel-backbone/internal/metrics"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// JSON-RPC error codes returned by the ledger node
const (
	codeAddressOccupied = -32010
	codeNotFound        = -32011
)

// RPCConfig holds ledger node connection configuration
type RPCConfig struct {
	NodeURL        string        `json:"node_url"`
	BackupNodes    []string      `json:"backup_nodes"`
	RequestTimeout time.Duration `json:"request_timeout"`
	RetryAttempts  int           `json:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
}

// RPCStore implements StoreClient against a ledger node over JSON-RPC,
// failing over to backup nodes when the primary is unreachable.
type RPCStore struct {
	config       *RPCConfig
	mu           sync.RWMutex
	client       *rpc.Client
	currentIndex int
	stats        StoreStats
	logger       *logrus.Logger

	metricsManager *metrics.Manager
}

// NewRPCStore creates a new RPC store client
func NewRPCStore(cfg *RPCConfig, metricsManager *metrics.Manager) *RPCStore {
	return &RPCStore{
		config: cfg,
		logger: utils.GetLogger(),
		stats: StoreStats{
			CurrentURL: cfg.NodeURL,
		},
		metricsManager: metricsManager,
	}
}

// CreateLedger implements StoreClient
func (s *RPCStore) CreateLedger(ctx context.Context, seed uint16) (string, string, error) {
	var result struct {
		Address string `json:"address"`
		TxRef   string `json:"txRef"`
	}
	if err := s.call(ctx, &result, "rayguard_createLedger", seed); err != nil {
		return "", "", err
	}
	return result.Address, result.TxRef, nil
}

// FetchLedger implements StoreClient
func (s *RPCStore) FetchLedger(ctx context.Context, address string) (*LedgerState, error) {
	var result *LedgerState
	if err := s.call(ctx, &result, "rayguard_fetchLedger", address); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Ledger not found", address)
	}
	return result, nil
}

// AppendLog implements StoreClient
func (s *RPCStore) AppendLog(ctx context.Context, ledgerAddress, logAddress string, fields LogFields) (string, error) {
	var result struct {
		TxRef string `json:"txRef"`
	}
	if err := s.call(ctx, &result, "rayguard_appendLog", ledgerAddress, logAddress, fields); err != nil {
		return "", err
	}
	return result.TxRef, nil
}

// QueryLog implements StoreClient
func (s *RPCStore) QueryLog(ctx context.Context, logAddress string) (*LogFields, error) {
	var result *LogFields
	if err := s.call(ctx, &result, "rayguard_queryLog", logAddress); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log not found", logAddress)
	}
	return result, nil
}

// Close closes the underlying connection
func (s *RPCStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.stats.IsHealthy = false
	s.logger.Info("Ledger node connection closed")
	return nil
}

// Stats returns client-side store statistics
func (s *RPCStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// HealthCheck verifies the node answers a cheap query within the timeout
func (s *RPCStore) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	client, err := s.getClient(checkCtx)
	if err != nil {
		return err
	}

	var healthy bool
	if err := client.CallContext(checkCtx, &healthy, "rayguard_health"); err != nil {
		s.mu.Lock()
		s.stats.IsHealthy = false
		s.mu.Unlock()
		return utils.NewAppError(utils.ErrCodeUnavailable, "Ledger node health check failed", err.Error())
	}

	s.mu.Lock()
	s.stats.IsHealthy = true
	s.mu.Unlock()
	return nil
}

// call issues one JSON-RPC request with a bounded timeout and maps node
// errors onto the shared taxonomy.
func (s *RPCStore) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	client, err := s.getClient(callCtx)
	if err != nil {
		s.recordMetrics(method, "error", start)
		return err
	}

	s.mu.Lock()
	s.stats.TotalRequests++
	endpoint := s.stats.CurrentURL
	s.mu.Unlock()

	callErr := client.CallContext(callCtx, result, method, args...)
	if callErr == nil {
		s.recordMetrics(method, "success", start)
		return nil
	}

	s.mu.Lock()
	s.stats.FailedRequests++
	s.mu.Unlock()
	s.recordMetrics(method, "error", start)

	mapped := s.mapError(callErr)
	if utils.IsUnavailable(mapped) {
		if s.metricsManager != nil {
			s.metricsManager.GetPrometheusMetrics().RecordConnectionError(endpoint, "rpc_call_failed")
		}
		// Transport-level failure: drop the client so the next call dials
		// again, possibly on a backup node.
		s.dropClient()
	}
	return mapped
}

// mapError translates node and transport errors into the error taxonomy
func (s *RPCStore) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return utils.NewAppError(utils.ErrCodeUnavailable, "Ledger node call timed out", err.Error())
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeAddressOccupied:
			return utils.NewAppError(utils.ErrCodeConflict, "Derived address already occupied", err.Error())
		case codeNotFound:
			return utils.NewAppError(utils.ErrCodeNotFound, "Address unknown to ledger node", err.Error())
		default:
			return utils.NewAppError(utils.ErrCodeInternal, "Ledger node rejected request", err.Error())
		}
	}

	if errors.Is(err, rpc.ErrNoResult) {
		return utils.NewAppError(utils.ErrCodeNotFound, "Ledger node returned no result", err.Error())
	}

	return utils.NewAppError(utils.ErrCodeUnavailable, "Ledger node unreachable", err.Error())
}

// getClient returns the current client, dialing if necessary
func (s *RPCStore) getClient(ctx context.Context) (*rpc.Client, error) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client != nil {
		return client, nil
	}
	return s.connect(ctx)
}

// connect walks the configured nodes until one answers
func (s *RPCStore) connect(ctx context.Context) (*rpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	urls := s.nodeURLs()

	for attempt := 0; attempt < s.config.RetryAttempts; attempt++ {
		for i, url := range urls {
			s.logger.WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt + 1,
			}).Info("Connecting to ledger node")

			client, err := rpc.DialContext(ctx, url)
			if err != nil {
				s.logger.WithFields(logrus.Fields{"url": url, "error": err}).Warn("Ledger node dial failed")
				s.stats.FailedRequests++
				continue
			}

			s.client = client
			s.currentIndex = i
			s.stats.CurrentURL = url
			s.stats.LastConnectedAt = time.Now()
			s.stats.IsHealthy = true

			s.logger.WithField("url", url).Info("Connected to ledger node")
			return client, nil
		}

		if attempt < s.config.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, utils.NewAppError(utils.ErrCodeUnavailable, "Ledger node connect canceled", ctx.Err().Error())
			case <-time.After(s.config.RetryDelay):
			}
		}
	}

	return nil, utils.NewAppError(utils.ErrCodeUnavailable, "Failed to connect to any ledger node",
		"all connection attempts exhausted")
}

// dropClient discards the current connection so the next call redials
func (s *RPCStore) dropClient() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Close()
		s.client = nil
		s.stats.Reconnects++
		s.stats.IsHealthy = false
	}
}

// nodeURLs returns all node URLs, rotated so the last working node is first
func (s *RPCStore) nodeURLs() []string {
	urls := []string{s.config.NodeURL}
	urls = append(urls, s.config.BackupNodes...)

	if s.currentIndex > 0 && s.currentIndex < len(urls) {
		rotated := make([]string, len(urls))
		copy(rotated, urls[s.currentIndex:])
		copy(rotated[len(urls)-s.currentIndex:], urls[:s.currentIndex])
		return rotated
	}
	return urls
}

func (s *RPCStore) recordMetrics(method, status string, start time.Time) {
	if s.metricsManager == nil {
		return
	}
	s.mu.RLock()
	endpoint := s.stats.CurrentURL
	s.mu.RUnlock()
	s.metricsManager.GetPrometheusMetrics().RecordRPCRequest(endpoint, method, status, time.Since(start))
}
