package guard

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// Guard tracks origins that have been banned after a blocked denial-of-service
// event. Banned origins are refused at intake until the ban expires or is
// lifted.
type Guard struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	banned map[string]time.Time

	banDuration time.Duration
	totalBans   uint64
}

// GuardStats holds guard counters
type GuardStats struct {
	ActiveBans int    `json:"active_bans"`
	TotalBans  uint64 `json:"total_bans"`
}

// New creates a guard. A zero banDuration means bans never expire.
func New(banDuration time.Duration) *Guard {
	return &Guard{
		logger:      utils.GetLogger(),
		banned:      make(map[string]time.Time),
		banDuration: banDuration,
	}
}

// Ban marks an origin as banned
func (g *Guard) Ban(origin string) {
	if origin == "" {
		return
	}

	var until time.Time
	if g.banDuration > 0 {
		until = time.Now().Add(g.banDuration)
	}

	g.mu.Lock()
	g.banned[origin] = until
	g.totalBans++
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"origin": origin,
		"until":  until,
	}).Warn("Origin banned")
}

// IsBanned reports whether origin is currently banned, dropping the entry
// if its ban has expired.
func (g *Guard) IsBanned(origin string) bool {
	g.mu.RLock()
	until, ok := g.banned[origin]
	g.mu.RUnlock()
	if !ok {
		return false
	}

	if !until.IsZero() && time.Now().After(until) {
		g.mu.Lock()
		delete(g.banned, origin)
		g.mu.Unlock()
		return false
	}
	return true
}

// Lift removes a ban
func (g *Guard) Lift(origin string) {
	g.mu.Lock()
	delete(g.banned, origin)
	g.mu.Unlock()

	g.logger.WithField("origin", origin).Info("Ban lifted")
}

// Banned returns all currently banned origins
func (g *Guard) Banned() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := time.Now()
	out := make([]string, 0, len(g.banned))
	for origin, until := range g.banned {
		if until.IsZero() || now.Before(until) {
			out = append(out, origin)
		}
	}
	return out
}

// GetStats returns guard counters
func (g *Guard) GetStats() GuardStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return GuardStats{
		ActiveBans: len(g.banned),
		TotalBans:  g.totalBans,
	}
}
