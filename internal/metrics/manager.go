package metrics

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// Manager is the handle components publish metrics through. It owns the
// registered Prometheus collectors plus the process-level gauges no single
// component is responsible for.
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time

	healthy map[string]bool
}

// NewManager creates a new metrics manager
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     utils.GetLogger().WithField("component", "metrics"),
		startTime:  time.Now(),
		healthy:    make(map[string]bool),
	}
}

// GetPrometheusMetrics returns the registered collectors
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// SetComponentHealth records a component health transition. Flaps are logged
// so a flapping store or database shows up without scraping.
func (m *Manager) SetComponentHealth(name string, healthy bool) {
	m.prometheus.UpdateComponentHealth(name, healthy)
	if prev, seen := m.healthy[name]; seen && prev != healthy {
		if healthy {
			m.logger.WithField("target", name).Info("Component recovered")
		} else {
			m.logger.WithField("target", name).Warn("Component unhealthy")
		}
	}
	m.healthy[name] = healthy
}

// UpdateSystemMetrics refreshes the process-level gauges. The maintenance
// loop calls this periodically alongside the hub and guard gauges.
func (m *Manager) UpdateSystemMetrics() {
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)
}
