package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayguard/sentinel-backbone/internal/alert"
	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/internal/guard"
	"github.com/rayguard/sentinel-backbone/internal/hub"
	"github.com/rayguard/sentinel-backbone/internal/models"
	"github.com/rayguard/sentinel-backbone/internal/registry"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

type fixture struct {
	store    *chain.MemoryStore
	registry *registry.Registry
	hub      *hub.Hub
	guard    *guard.Guard
	sink     *alert.RecordingSink
	recorder *Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: chain.NewMemoryStore(),
		hub:   hub.New(16),
		guard: guard.New(0),
		sink:  &alert.RecordingSink{},
	}
	f.registry = registry.New(f.store)
	f.recorder = New(&Config{
		RetryAttempts: 3,
		RetryDelay:    5 * time.Millisecond,
	}, f.registry, f.store, f.hub, f.guard, f.sink, nil, nil)
	return f
}

func TestRecordAssignsSequentialSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.hub.Subscribe()

	// DOS, then BENIGN, then PROBE from the same origin: the benign verdict
	// is acknowledged but never recorded, so the ledger holds slots 0 and 1.
	first, err := f.recorder.Record(ctx, "10.0.0.5", "DOS", "BLOCKED")
	require.NoError(t, err)
	require.True(t, first.Recorded)
	assert.Equal(t, uint64(0), first.Event.Sequence)

	second, err := f.recorder.Record(ctx, "10.0.0.5", "normal", "ALLOWED")
	require.NoError(t, err)
	assert.False(t, second.Recorded)
	assert.Nil(t, second.Event)

	third, err := f.recorder.Record(ctx, "10.0.0.5", "PROBE", "ALERTED")
	require.NoError(t, err)
	require.True(t, third.Recorded)
	assert.Equal(t, uint64(1), third.Event.Sequence)

	assert.Equal(t, first.Event.LedgerAddress, third.Event.LedgerAddress)
	assert.Equal(t, 2, f.store.LogCount())

	// only the two recorded events reach the stream
	for _, wantThreat := range []string{"DOS", "PROBE"} {
		select {
		case msg := <-sub.Events():
			assert.Equal(t, wantThreat, msg.ThreatType)
			assert.Equal(t, "10.0.0.5", msg.IPAddress)
		case <-time.After(time.Second):
			t.Fatalf("missing %s stream message", wantThreat)
		}
	}
	select {
	case msg := <-sub.Events():
		t.Fatalf("benign verdict must not be broadcast, got %v", msg)
	default:
	}
}

func TestRecordConfirmsAppend(t *testing.T) {
	f := newFixture(t)

	result, err := f.recorder.Record(context.Background(), "10.9.9.9", "R2L", "LOGGED")
	require.NoError(t, err)
	require.True(t, result.Recorded)
	assert.Equal(t, models.ChainConfirmed, result.Event.ChainStatus)
	assert.NotEmpty(t, result.Event.TxRef)
	assert.NotEmpty(t, result.Event.ID)
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.recorder.Record(ctx, "", "DOS", "BLOCKED")
	assert.True(t, utils.IsValidation(err))

	_, err = f.recorder.Record(ctx, "10.0.0.1", "MALWARE", "BLOCKED")
	assert.True(t, utils.IsValidation(err))

	_, err = f.recorder.Record(ctx, "10.0.0.1", "DOS", "NUKED")
	assert.True(t, utils.IsValidation(err))

	// empty action defaults to LOGGED
	result, err := f.recorder.Record(ctx, "10.0.0.1", "U2R", "")
	require.NoError(t, err)
	assert.Equal(t, models.ActionLogged, result.Event.ActionTaken)
}

// staleStore hands out an outdated sequence count on the first fetch, the
// same view a recorder races against when another writer takes its slot.
type staleStore struct {
	*chain.MemoryStore
	staleFetches int
}

func (s *staleStore) FetchLedger(ctx context.Context, address string) (*chain.LedgerState, error) {
	state, err := s.MemoryStore.FetchLedger(ctx, address)
	if err != nil || s.staleFetches == 0 {
		return state, err
	}
	s.staleFetches--
	state.Count--
	return state, nil
}

func TestRecordConflictRetriesNextSlot(t *testing.T) {
	mem := chain.NewMemoryStore()
	store := &staleStore{MemoryStore: mem}
	reg := registry.New(store)
	h := hub.New(16)
	rec := New(&Config{RetryAttempts: 3, RetryDelay: time.Millisecond},
		reg, store, h, guard.New(0), &alert.RecordingSink{}, nil, nil)
	ctx := context.Background()

	// a competing writer already holds slots 0 through 4
	ledger, err := reg.GetOrCreate(ctx, "10.0.0.7")
	require.NoError(t, err)
	for seq := uint64(0); seq < 5; seq++ {
		addr, err := chain.DeriveLogAddress(ledger.Address, seq)
		require.NoError(t, err)
		_, err = mem.AppendLog(ctx, ledger.Address, addr, chain.LogFields{
			IPAddress: "10.0.0.7", ThreatType: "DOS", ActionTaken: "BLOCKED",
		})
		require.NoError(t, err)
	}

	// this recorder fetches a stale count of 4, loses the race for slot 4,
	// refetches and lands on slot 5
	store.staleFetches = 1
	result, err := rec.Record(ctx, "10.0.0.7", "R2L", "LOGGED")
	require.NoError(t, err)
	require.True(t, result.Recorded)
	assert.Equal(t, uint64(5), result.Event.Sequence)
	assert.Equal(t, models.ChainConfirmed, result.Event.ChainStatus)
}

func TestRecordUnavailableStoreStillBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// warm the registry so the outage hits the append path only
	_, err := f.registry.GetOrCreate(ctx, "10.3.3.3")
	require.NoError(t, err)

	f.recorder.config.RetryAttempts = 1
	sub := f.hub.Subscribe()

	f.store.FailNext = utils.NewAppError(utils.ErrCodeUnavailable, "node down")
	result, err := f.recorder.Record(ctx, "10.3.3.3", "U2R", "ALERTED")
	require.NoError(t, err)
	require.True(t, result.Recorded)
	assert.Equal(t, models.ChainPending, result.Event.ChainStatus)
	assert.Empty(t, result.Event.TxRef)

	select {
	case msg := <-sub.Events():
		assert.Equal(t, "U2R", msg.ThreatType)
	case <-time.After(time.Second):
		t.Fatal("pending event must still be broadcast")
	}
}

func TestRecordPolicyBansBlockedDOS(t *testing.T) {
	f := newFixture(t)

	_, err := f.recorder.Record(context.Background(), "10.4.4.4", "DOS", "BLOCKED")
	require.NoError(t, err)
	assert.True(t, f.guard.IsBanned("10.4.4.4"))
	assert.False(t, f.guard.IsBanned("10.4.4.5"))
}

func TestRecordPolicyAlertsOnProbe(t *testing.T) {
	f := newFixture(t)

	_, err := f.recorder.Record(context.Background(), "10.5.5.5", "PROBE", "ALERTED")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.sink.Alerts()) == 1
	}, time.Second, 10*time.Millisecond)

	a := f.sink.Alerts()[0]
	assert.Equal(t, "10.5.5.5", a.OriginIP)
	assert.Equal(t, "PROBE", a.ThreatType)
	assert.Equal(t, "high", a.Severity)
}
