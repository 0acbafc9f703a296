package verifier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/internal/metrics"
	"github.com/rayguard/sentinel-backbone/internal/models"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// ProofStore persists a proof onto the matching event record. Best-effort:
// failures are logged, the verification result stands either way.
type ProofStore interface {
	UpdateEventProof(ctx context.Context, ledgerAddress string, sequence uint64, proof string) error
}

// Verifier checks claimed events against the external store. It re-derives
// the slot addresses the recorder used and compares the stored fields with
// the claim; a match yields a proof that is cached so a repeat verification
// of the same claim never re-queries the store.
type Verifier struct {
	store  chain.StoreClient
	proofs ProofStore
	logger *logrus.Logger

	mu    sync.RWMutex
	cache map[string]string

	// MaxScan bounds the slot scan per verification.
	maxScan uint64

	metricsManager *metrics.Manager
}

// Config holds verifier configuration
type Config struct {
	MaxScan uint64 `json:"max_scan"`
}

// New creates a verifier. proofs and metricsManager may be nil.
func New(config *Config, store chain.StoreClient, proofs ProofStore, metricsManager *metrics.Manager) *Verifier {
	maxScan := config.MaxScan
	if maxScan == 0 {
		maxScan = 1024
	}
	return &Verifier{
		store:          store,
		proofs:         proofs,
		logger:         utils.GetLogger(),
		cache:          make(map[string]string),
		maxScan:        maxScan,
		metricsManager: metricsManager,
	}
}

// Verify checks that the claimed fields were recorded on the ledger. The
// external store is never mutated. Verifying an already-verified claim is a
// no-op returning the cached proof.
func (v *Verifier) Verify(ctx context.Context, ledgerAddress, ip, threatType, action string) (*models.VerifyResult, error) {
	if ledgerAddress == "" || ip == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Ledger address and IP are required")
	}
	threat, err := models.ParseThreatType(threatType)
	if err != nil {
		return nil, err
	}
	act, err := models.ParseAction(action)
	if err != nil {
		return nil, err
	}

	key := cacheKey(ledgerAddress, ip, string(threat), string(act))
	v.mu.RLock()
	proof, cached := v.cache[key]
	v.mu.RUnlock()
	if cached {
		return &models.VerifyResult{
			Verified: true,
			Proof:    proof,
			Message:  "already verified",
		}, nil
	}

	state, err := v.store.FetchLedger(ctx, ledgerAddress)
	if err != nil {
		if utils.IsNotFound(err) {
			return &models.VerifyResult{Verified: false, Message: "ledger address unknown"}, nil
		}
		return nil, err
	}

	count := state.Count
	var floor uint64
	if count > v.maxScan {
		floor = count - v.maxScan
	}

	// Walk the slots newest-first: the claim being checked is usually a
	// recently displayed event. On long ledgers the scan stops after
	// maxScan slots, so only the newest entries are reachable.
	for slot := count; slot > floor; slot-- {
		sequence := slot - 1

		logAddress, err := chain.DeriveLogAddress(ledgerAddress, sequence)
		if err != nil {
			return nil, err
		}

		fields, err := v.store.QueryLog(ctx, logAddress)
		if err != nil {
			if utils.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		if fields.IPAddress != ip ||
			!strings.EqualFold(fields.ThreatType, string(threat)) ||
			!strings.EqualFold(fields.ActionTaken, string(act)) {
			continue
		}

		v.mu.Lock()
		if existing, ok := v.cache[key]; ok {
			// A concurrent verifier won; keep its proof.
			logAddress = existing
		} else {
			v.cache[key] = logAddress
		}
		v.mu.Unlock()

		if v.proofs != nil {
			if err := v.proofs.UpdateEventProof(ctx, ledgerAddress, sequence, logAddress); err != nil {
				v.logger.WithFields(logrus.Fields{
					"ledger":   ledgerAddress,
					"sequence": sequence,
					"error":    err,
				}).Error("Failed to persist proof")
			}
		}
		if v.metricsManager != nil {
			v.metricsManager.GetPrometheusMetrics().RecordVerification("verified")
		}

		v.logger.WithFields(logrus.Fields{
			"ledger":   ledgerAddress,
			"sequence": sequence,
			"proof":    logAddress,
		}).Info("Event verified")

		return &models.VerifyResult{Verified: true, Proof: logAddress}, nil
	}

	if v.metricsManager != nil {
		v.metricsManager.GetPrometheusMetrics().RecordVerification("unverified")
	}
	return &models.VerifyResult{
		Verified: false,
		Message:  "no matching record on ledger",
	}, nil
}

// CachedProof returns the stored proof for a claim, if one exists
func (v *Verifier) CachedProof(ledgerAddress, ip, threatType, action string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	proof, ok := v.cache[cacheKey(ledgerAddress, ip, threatType, action)]
	return proof, ok
}

func cacheKey(parts ...string) string {
	return fmt.Sprintf("%s|%s|%s|%s", parts[0], parts[1], parts[2], parts[3])
}
