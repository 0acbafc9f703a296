package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardBanLift(t *testing.T) {
	g := New(0)

	assert.False(t, g.IsBanned("10.0.0.5"))

	g.Ban("10.0.0.5")
	assert.True(t, g.IsBanned("10.0.0.5"))
	assert.False(t, g.IsBanned("10.0.0.6"))
	assert.Contains(t, g.Banned(), "10.0.0.5")

	g.Lift("10.0.0.5")
	assert.False(t, g.IsBanned("10.0.0.5"))
}

func TestGuardExpiry(t *testing.T) {
	g := New(20 * time.Millisecond)

	g.Ban("192.168.0.7")
	assert.True(t, g.IsBanned("192.168.0.7"))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, g.IsBanned("192.168.0.7"))
	assert.Empty(t, g.Banned())
}

func TestGuardStats(t *testing.T) {
	g := New(0)
	g.Ban("1.1.1.1")
	g.Ban("2.2.2.2")
	g.Ban("1.1.1.1")

	stats := g.GetStats()
	assert.Equal(t, 2, stats.ActiveBans)
	assert.Equal(t, uint64(3), stats.TotalBans)

	g.Ban("")
	assert.Equal(t, 2, g.GetStats().ActiveBans)
}
