package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayguard/sentinel-backbone/internal/models"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

func testEvent() *models.ThreatEvent {
	return &models.ThreatEvent{
		ID:            "evt-1",
		LedgerAddress: "ledger-1",
		Sequence:      3,
		OriginIP:      "10.0.0.5",
		ThreatType:    models.ThreatProbe,
		ActionTaken:   models.ActionAlerted,
		Timestamp:     time.Now().UTC(),
	}
}

func TestWebhookSinkDelivers(t *testing.T) {
	var received Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(&WebhookConfig{URL: server.URL})
	a := ForEvent(testEvent(), "high", "Probe detected")
	require.NoError(t, sink.Send(context.Background(), a))

	assert.Equal(t, "10.0.0.5", received.OriginIP)
	assert.Equal(t, "PROBE", received.ThreatType)
	assert.Equal(t, "high", received.Severity)
	assert.Equal(t, uint64(3), received.Sequence)
}

func TestWebhookSinkRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(&WebhookConfig{
		URL:           server.URL,
		RetryAttempts: 3,
		RetryDelay:    10 * time.Millisecond,
	})
	err := sink.Send(context.Background(), ForEvent(testEvent(), "high", "Probe detected"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookSinkExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewWebhookSink(&WebhookConfig{
		URL:           server.URL,
		RetryAttempts: 2,
		RetryDelay:    5 * time.Millisecond,
	})
	err := sink.Send(context.Background(), ForEvent(testEvent(), "high", "Probe detected"))
	assert.True(t, utils.IsUnavailable(err))
}

func TestWebhookSinkHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := NewWebhookSink(&WebhookConfig{
		URL:           server.URL,
		RetryAttempts: 5,
		RetryDelay:    time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sink.Send(ctx, ForEvent(testEvent(), "high", "Probe detected"))
	assert.Error(t, err)
}

func TestRecordingSink(t *testing.T) {
	sink := &RecordingSink{}
	a := ForEvent(testEvent(), "high", "Probe detected")
	require.NoError(t, sink.Send(context.Background(), a))
	require.Len(t, sink.Alerts(), 1)
	assert.Equal(t, "sentinel-backbone", sink.Alerts()[0].Source)
}
