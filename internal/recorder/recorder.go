package recorder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rayguard/sentinel-backbone/internal/alert"
	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/internal/guard"
	"github.com/rayguard/sentinel-backbone/internal/hub"
	"github.com/rayguard/sentinel-backbone/internal/metrics"
	"github.com/rayguard/sentinel-backbone/internal/models"
	"github.com/rayguard/sentinel-backbone/internal/registry"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// EventStore persists recorded events for the history endpoint. Persistence
// is best-effort: a storage failure is logged and never fails a record.
type EventStore interface {
	SaveEvent(ctx context.Context, event *models.ThreatEvent) error
}

// Config holds recorder configuration
type Config struct {
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
	AlertTimeout  time.Duration `json:"alert_timeout"`
}

// Recorder appends classified threat events to the external store and fans
// them out through the hub. The store's sequence count is fetched on every
// record; the log address derived from it gives first-writer-wins semantics
// when recorders race on a slot.
type Recorder struct {
	config   *Config
	registry *registry.Registry
	store    chain.StoreClient
	hub      *hub.Hub
	guard    *guard.Guard
	sink     alert.Sink
	events   EventStore
	logger   *logrus.Logger

	metricsManager *metrics.Manager
}

// New creates a recorder. events and metricsManager may be nil, sink may be
// alert.NoopSink{}.
func New(config *Config, reg *registry.Registry, store chain.StoreClient, h *hub.Hub,
	g *guard.Guard, sink alert.Sink, events EventStore, metricsManager *metrics.Manager) *Recorder {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 500 * time.Millisecond
	}
	if config.AlertTimeout <= 0 {
		config.AlertTimeout = 15 * time.Second
	}
	if sink == nil {
		sink = alert.NoopSink{}
	}
	return &Recorder{
		config:         config,
		registry:       reg,
		store:          store,
		hub:            h,
		guard:          g,
		sink:           sink,
		events:         events,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
	}
}

// Record appends one classified verdict to the origin's ledger. BENIGN
// verdicts are acknowledged without touching the store or the hub. Non-benign
// events are always published, even when the append could not be confirmed:
// the stream must not starve because the store is down.
func (r *Recorder) Record(ctx context.Context, origin, threatType, action string) (*models.RecordResult, error) {
	start := time.Now()
	if origin == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Origin IP is required")
	}
	threat, err := models.ParseThreatType(threatType)
	if err != nil {
		return nil, err
	}
	act, err := models.ParseAction(action)
	if err != nil {
		return nil, err
	}

	if threat == models.ThreatBenign {
		return &models.RecordResult{Recorded: false}, nil
	}

	ledger, err := r.registry.GetOrCreate(ctx, origin)
	if err != nil {
		return nil, err
	}

	id, err := utils.GenerateID()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to generate event ID", err.Error())
	}

	event := &models.ThreatEvent{
		ID:            id,
		LedgerAddress: ledger.Address,
		OriginIP:      origin,
		ThreatType:    threat,
		ActionTaken:   act,
		Timestamp:     time.Now().UTC(),
		ChainStatus:   models.ChainPending,
	}

	sequence, txRef, appendErr := r.append(ctx, ledger.Address, origin, threat, act)
	event.Sequence = sequence
	if appendErr == nil {
		event.TxRef = txRef
		event.ChainStatus = models.ChainConfirmed
	} else {
		// Surfaced as pending rather than dropped. The dashboard still sees
		// the event; verification settles it later.
		r.logger.WithFields(logrus.Fields{
			"origin": origin,
			"ledger": ledger.Address,
			"error":  appendErr,
		}).Warn("Append unconfirmed, event marked pending")
	}

	r.recordMetrics(event)

	r.hub.Publish(models.StreamMessageFor(event))
	if r.metricsManager != nil {
		r.metricsManager.GetPrometheusMetrics().RecordHubPublished()
	}

	if r.events != nil {
		saveStatus := "success"
		if err := r.events.SaveEvent(ctx, event); err != nil {
			saveStatus = "error"
			r.logger.WithFields(logrus.Fields{
				"event_id": event.ID,
				"error":    err,
			}).Error("Failed to persist event")
		}
		if r.metricsManager != nil {
			r.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation("save_event", saveStatus)
		}
	}

	if r.metricsManager != nil {
		r.metricsManager.GetPrometheusMetrics().RecordRecordDuration(time.Since(start))
	}

	r.applyPolicy(event)

	return &models.RecordResult{Recorded: true, Event: event}, nil
}

// append fetches the authoritative sequence count, derives the slot address
// and submits the append. A conflict means another writer claimed the slot;
// the count is refetched and the append retried once at the next slot. An
// unavailable store is retried a bounded number of times with backoff.
func (r *Recorder) append(ctx context.Context, ledgerAddress, origin string,
	threat models.ThreatType, act models.Action) (uint64, string, error) {

	fields := chain.LogFields{
		IPAddress:   origin,
		ThreatType:  string(threat),
		ActionTaken: string(act),
		Timestamp:   time.Now().UTC().Unix(),
	}

	var lastErr error
	conflictRetried := false

	for attempt := 0; attempt < r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return 0, "", utils.NewAppError(utils.ErrCodeUnavailable, "Record canceled", ctx.Err().Error())
			}
		}

		state, err := r.store.FetchLedger(ctx, ledgerAddress)
		if err != nil {
			lastErr = err
			if utils.IsUnavailable(err) {
				continue
			}
			return 0, "", err
		}

		logAddress, err := chain.DeriveLogAddress(ledgerAddress, state.Count)
		if err != nil {
			return 0, "", err
		}

		txRef, err := r.store.AppendLog(ctx, ledgerAddress, logAddress, fields)
		if err == nil {
			return state.Count, txRef, nil
		}
		lastErr = err

		if utils.IsConflict(err) {
			if r.metricsManager != nil {
				r.metricsManager.GetPrometheusMetrics().RecordAppendConflict(ledgerAddress)
			}
			if conflictRetried {
				return state.Count, "", err
			}
			// Lost the race for this slot. Refetch and take the next one.
			conflictRetried = true
			r.logger.WithFields(logrus.Fields{
				"ledger":   ledgerAddress,
				"sequence": state.Count,
			}).Debug("Sequence slot taken, refetching count")
			continue
		}
		if utils.IsUnavailable(err) {
			continue
		}
		return state.Count, "", err
	}

	return 0, "", lastErr
}

// applyPolicy enforces the response policy for the recorded event: a blocked
// denial-of-service origin is banned from further intake, a probe raises an
// alert through the sink.
func (r *Recorder) applyPolicy(event *models.ThreatEvent) {
	switch event.ThreatType {
	case models.ThreatDOS:
		if r.guard != nil {
			r.guard.Ban(event.OriginIP)
		}
	case models.ThreatProbe:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.config.AlertTimeout)
			defer cancel()

			a := alert.ForEvent(event, "high", "Probe activity detected")
			if err := r.sink.Send(ctx, a); err != nil {
				r.logger.WithFields(logrus.Fields{
					"sink":   r.sink.Name(),
					"origin": event.OriginIP,
					"error":  err,
				}).Error("Alert delivery failed")
			}
			if r.metricsManager != nil {
				r.metricsManager.GetPrometheusMetrics().RecordAlertSent(r.sink.Name())
			}
		}()
	}
}

func (r *Recorder) recordMetrics(event *models.ThreatEvent) {
	if r.metricsManager == nil {
		return
	}
	r.metricsManager.GetPrometheusMetrics().RecordEventRecorded(
		string(event.ThreatType), string(event.ActionTaken), string(event.ChainStatus))
}
