package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/internal/models"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// LedgerStore persists origin-to-ledger mappings so a restart can restore
// the cache instead of re-creating ledgers for known origins.
type LedgerStore interface {
	SaveLedger(ctx context.Context, ledger *models.Ledger) error
}

// Registry maps origin IPs to ledger addresses. Each origin gets exactly one
// ledger; concurrent first requests for the same origin are collapsed into a
// single creation through singleflight.
type Registry struct {
	store   chain.StoreClient
	persist LedgerStore
	logger  *logrus.Logger

	mu      sync.RWMutex
	ledgers map[string]*models.Ledger

	group singleflight.Group

	stats RegistryStats
}

// RegistryStats holds registry counters
type RegistryStats struct {
	CachedLedgers uint64 `json:"cached_ledgers"`
	Created       uint64 `json:"created"`
	CacheHits     uint64 `json:"cache_hits"`
	Failures      uint64 `json:"failures"`
}

// New creates a new ledger registry
func New(store chain.StoreClient) *Registry {
	return &Registry{
		store:   store,
		logger:  utils.GetLogger(),
		ledgers: make(map[string]*models.Ledger),
	}
}

// EnablePersistence makes the registry write new mappings to store.
// Persistence is best-effort; a write failure is logged and the in-memory
// mapping stands.
func (r *Registry) EnablePersistence(store LedgerStore) {
	r.persist = store
}

// GetOrCreate returns the ledger for origin, creating it on first use.
// Failures are not cached, so a later call retries from scratch.
func (r *Registry) GetOrCreate(ctx context.Context, origin string) (*models.Ledger, error) {
	if origin == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Origin IP is required")
	}

	r.mu.RLock()
	ledger, ok := r.ledgers[origin]
	r.mu.RUnlock()
	if ok {
		r.mu.Lock()
		r.stats.CacheHits++
		r.mu.Unlock()
		return ledger, nil
	}

	result, err, _ := r.group.Do(origin, func() (interface{}, error) {
		// Another flight may have populated the cache while we queued.
		r.mu.RLock()
		cached, ok := r.ledgers[origin]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}
		return r.create(ctx, origin)
	})
	if err != nil {
		r.mu.Lock()
		r.stats.Failures++
		r.mu.Unlock()
		return nil, err
	}
	return result.(*models.Ledger), nil
}

// Lookup returns the cached ledger for origin without creating one
func (r *Registry) Lookup(origin string) (*models.Ledger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ledger, ok := r.ledgers[origin]
	return ledger, ok
}

// Ledgers returns a snapshot of all cached ledgers
func (r *Registry) Ledgers() []*models.Ledger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Ledger, 0, len(r.ledgers))
	for _, ledger := range r.ledgers {
		out = append(out, ledger)
	}
	return out
}

// Restore seeds the cache with a ledger loaded from persistent storage
func (r *Registry) Restore(ledger *models.Ledger) {
	if ledger == nil || ledger.Origin == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ledgers[ledger.Origin]; !exists {
		r.ledgers[ledger.Origin] = ledger
		r.stats.CachedLedgers = uint64(len(r.ledgers))
	}
}

// GetStats returns registry counters
func (r *Registry) GetStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := r.stats
	stats.CachedLedgers = uint64(len(r.ledgers))
	return stats
}

func (r *Registry) create(ctx context.Context, origin string) (*models.Ledger, error) {
	seed, err := utils.RandomLedgerSeed()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to draw ledger seed", err.Error())
	}

	address, _, err := r.store.CreateLedger(ctx, seed)
	if err != nil {
		if !utils.IsConflict(err) {
			r.logger.WithFields(logrus.Fields{
				"origin": origin,
				"error":  err,
			}).Error("Ledger creation failed")
			return nil, err
		}
		// Random seed collided with an existing ledger. Retry once with a
		// fresh seed before giving up.
		seed, err = utils.RandomLedgerSeed()
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to draw ledger seed", err.Error())
		}
		address, _, err = r.store.CreateLedger(ctx, seed)
		if err != nil {
			return nil, err
		}
	}

	ledger := &models.Ledger{
		Address:   address,
		Origin:    origin,
		Seed:      seed,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.ledgers[origin] = ledger
	r.stats.Created++
	r.stats.CachedLedgers = uint64(len(r.ledgers))
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"origin":  origin,
		"address": address,
		"seed":    seed,
	}).Info("Ledger created")

	if r.persist != nil {
		if err := r.persist.SaveLedger(ctx, ledger); err != nil {
			r.logger.WithFields(logrus.Fields{
				"origin": origin,
				"error":  err,
			}).Error("Failed to persist ledger mapping")
		}
	}

	return ledger, nil
}
