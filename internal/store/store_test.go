package store_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trevorr/gmond/internal/selfstat"
	"github.com/trevorr/gmond/internal/store"
	"github.com/trevorr/gmond/internal/wire"
)

// fakeClock lets tests drive "now" deterministically; it satisfies
// store.Clock, the interface benbjohnson/clock.Clock fills in production.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestStore() (*store.Store, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return store.New(store.StaticResolver{}, clk, 0, nil, nil), clk
}

// First datagram from a new peer creates exactly one peer record with
// the metric stored at the right id.
func TestObserveAndSaveFirstContact(t *testing.T) {
	s, clk := newTestStore()
	msg := wire.Message{ID: 5, Value: wire.FloatValue(12.5)}

	rec := s.Observe("10.0.0.7", "10.0.0.7:9001", msg)
	require.NotNil(t, rec)
	s.Save(rec, msg)

	got, ok := s.Get("10.0.0.7")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.7", got.IP)
	assert.Equal(t, clk.now, got.FirstHeardFrom)
	assert.Equal(t, clk.now, got.LastHeardFrom)
	require.Len(t, got.Metrics, 1)
	assert.Equal(t, wire.FloatValue(12.5), got.Metrics[5].Message.Value)
}

// Every peer record is tagged with a non-empty arena id at creation.
func TestObserveAssignsArenaID(t *testing.T) {
	s, _ := newTestStore()
	rec := s.Observe("10.0.0.7", "10.0.0.7:1", wire.Message{ID: wire.IDHeartbeat})
	got, ok := s.Get("10.0.0.7")
	require.True(t, ok)
	assert.NotEmpty(t, got.ArenaID())
	_ = rec
}

// First-contact creation leaves the metrics map empty when the message id
// is reserved or user_defined.
func TestObserveReservedIDsDoNotPopulateMetrics(t *testing.T) {
	for _, id := range []wire.ID{wire.IDHeartbeat, wire.IDLocation, wire.IDGexec, wire.IDUserDefined} {
		s, _ := newTestStore()
		rec := s.Observe("10.0.0.9", "10.0.0.9:1", wire.Message{ID: id})
		assert.Nil(t, rec, "id %d should not be aggregated", id)
		got, ok := s.Get("10.0.0.9")
		require.True(t, ok)
		assert.Empty(t, got.Metrics)
	}
}

// A heartbeat advances last_heard_from but never touches Metrics.
func TestHeartbeatAdvancesTimestampOnly(t *testing.T) {
	s, clk := newTestStore()
	msg := wire.Message{ID: 5, Value: wire.FloatValue(12.5)}
	rec := s.Observe("10.0.0.7", "10.0.0.7:1", msg)
	s.Save(rec, msg)

	clk.now = clk.now.Add(10 * time.Second)
	s.Observe("10.0.0.7", "10.0.0.7:1", wire.Message{ID: wire.IDHeartbeat})

	got, _ := s.Get("10.0.0.7")
	assert.Equal(t, clk.now, got.LastHeardFrom)
	require.Len(t, got.Metrics, 1)
}

// Last-writer-wins: repeated updates for the same id keep size 1 and end
// up holding the final value.
func TestLastWriterWins(t *testing.T) {
	s, clk := newTestStore()
	values := []float32{12.5, 13.0, 14.25}
	var rec *store.PeerRecord
	for _, v := range values {
		msg := wire.Message{ID: 5, Value: wire.FloatValue(v)}
		rec = s.Observe("10.0.0.7", "10.0.0.7:1", msg)
		s.Save(rec, msg)
		clk.now = clk.now.Add(time.Second)
	}
	got, _ := s.Get("10.0.0.7")
	require.Len(t, got.Metrics, 1)
	assert.Equal(t, float32(14.25), got.Metrics[5].Message.Value.Float)
}

// last_heard_from is nondecreasing across any sequence of datagrams.
func TestTimestampMonotonicity(t *testing.T) {
	s, clk := newTestStore()
	var last time.Time
	for i := 0; i < 5; i++ {
		rec := s.Observe("10.0.0.7", "10.0.0.7:1", wire.Message{ID: wire.IDHeartbeat})
		got, _ := s.Get("10.0.0.7")
		assert.True(t, !got.LastHeardFrom.Before(last))
		last = got.LastHeardFrom
		_ = rec
		clk.now = clk.now.Add(time.Second)
	}
}

// String-typed snapshot replacement releases the old value before
// overwriting; the new Save fully replaces the map entry rather than
// mutating in place.
func TestStringSnapshotReplacement(t *testing.T) {
	s, _ := newTestStore()
	first := wire.Message{ID: 17, Value: wire.StringValue("linux-5.10")}
	rec := s.Observe("10.0.0.7", "10.0.0.7:1", first)
	s.Save(rec, first)

	second := wire.Message{ID: 17, Value: wire.StringValue("linux-6.1")}
	s.Save(rec, second)

	got, _ := s.Get("10.0.0.7")
	assert.Equal(t, "linux-6.1", got.Metrics[17].Message.Value.Str)
}

// Peer TTL scavenging: a peer not observed again within the TTL is
// removed.
func TestPeerTTLScavenger(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := store.New(store.StaticResolver{}, clk, 50*time.Millisecond, nil, nil)

	s.Observe("10.0.0.7", "10.0.0.7:1", wire.Message{ID: wire.IDHeartbeat})
	require.Equal(t, 1, s.Len())

	assert.Eventually(t, func() bool {
		return s.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

// Expiry bumps the PeersExpired counter, the scavenger's only observable
// side effect besides the peer count dropping.
func TestPeerTTLScavengerIncrementsPeersExpiredCounter(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	stats := selfstat.New(prometheus.NewRegistry())
	s := store.New(store.StaticResolver{}, clk, 50*time.Millisecond, stats, nil)

	s.Observe("10.0.0.7", "10.0.0.7:1", wire.Message{ID: wire.IDHeartbeat})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(stats.PeersExpired) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPeerTTLDisabledByDefaultNeverExpires(t *testing.T) {
	s, clk := newTestStore()
	s.Observe("10.0.0.7", "10.0.0.7:1", wire.Message{ID: wire.IDHeartbeat})
	clk.now = clk.now.Add(24 * time.Hour)
	s.Observe("10.0.0.8", "10.0.0.8:1", wire.Message{ID: wire.IDHeartbeat})
	assert.Equal(t, 2, s.Len())
}
