package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sharedManager = NewManager()

func TestSetComponentHealthTracksTransitions(t *testing.T) {
	m := sharedManager
	require.NotNil(t, m.GetPrometheusMetrics())

	m.SetComponentHealth("storage", true)
	assert.True(t, m.healthy["storage"])

	m.SetComponentHealth("storage", false)
	assert.False(t, m.healthy["storage"])

	m.SetComponentHealth("storage", true)
	assert.True(t, m.healthy["storage"])
}

func TestUpdateSystemMetrics(t *testing.T) {
	sharedManager.UpdateSystemMetrics()
}
