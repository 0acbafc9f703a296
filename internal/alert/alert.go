package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rayguard/sentinel-backbone/internal/models"
)

// Sink receives high-priority alerts for recorded threat events. Delivery is
// best-effort: a failed alert is logged and never blocks or fails the
// recording that raised it.
type Sink interface {
	Send(ctx context.Context, alert *Alert) error
	Name() string
}

// Alert is one outbound notification
type Alert struct {
	Severity   string    `json:"severity"`
	Title      string    `json:"title"`
	OriginIP   string    `json:"origin_ip"`
	ThreatType string    `json:"threat_type"`
	Action     string    `json:"action"`
	Ledger     string    `json:"ledger"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
}

// ForEvent builds the alert raised by a recorded event
func ForEvent(event *models.ThreatEvent, severity, title string) *Alert {
	return &Alert{
		Severity:   severity,
		Title:      title,
		OriginIP:   event.OriginIP,
		ThreatType: string(event.ThreatType),
		Action:     string(event.ActionTaken),
		Ledger:     event.LedgerAddress,
		Sequence:   event.Sequence,
		Timestamp:  event.Timestamp,
		Source:     "sentinel-backbone",
	}
}

// NoopSink discards alerts. Used when alerting is disabled.
type NoopSink struct{}

func (NoopSink) Send(ctx context.Context, alert *Alert) error { return nil }
func (NoopSink) Name() string                                 { return "noop" }

// RecordingSink captures alerts in memory for tests
type RecordingSink struct {
	mu     sync.Mutex
	alerts []*Alert
	Err    error
}

func (r *RecordingSink) Send(ctx context.Context, alert *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *RecordingSink) Name() string { return "recording" }

// Alerts returns a snapshot of captured alerts
func (r *RecordingSink) Alerts() []*Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}
