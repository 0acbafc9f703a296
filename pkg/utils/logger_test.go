package utils

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerStampsService(t *testing.T) {
	require.NoError(t, InitLogger("debug", "json", "stdout", ""))

	var buf bytes.Buffer
	Logger.SetOutput(&buf)
	Logger.Info("intake online")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, serviceName, entry["service"])
	assert.Equal(t, "intake online", entry["msg"])
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	err := InitLogger("shouting", "text", "stdout", "")
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeConfiguration))
}
