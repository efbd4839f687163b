package egress_test

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trevorr/gmond/internal/channelset"
	"github.com/trevorr/gmond/internal/egress"
	"github.com/trevorr/gmond/internal/selfstat"
)

func loopbackEgress(t *testing.T) (*channelset.UDPEgress, *net.UDPConn) {
	t.Helper()
	serverAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	server, err := net.ListenUDP("udp", serverAddr)
	require.NoError(t, err)

	client, err := net.DialUDP("udp", nil, server.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	return &channelset.UDPEgress{Conn: client, Label: "test-egress"}, server
}

func TestFanOutSendsToEverySocket(t *testing.T) {
	eg1, srv1 := loopbackEgress(t)
	defer srv1.Close()
	eg2, srv2 := loopbackEgress(t)
	defer srv2.Close()

	stats := selfstat.New(prometheus.NewRegistry())
	failures, err := egress.FanOut([]*channelset.UDPEgress{eg1, eg2}, []byte("hello"), false, stats)
	require.NoError(t, err)
	assert.Equal(t, 0, failures)
}

// Mute suppresses every send regardless of how many channels exist.
func TestFanOutMuteIsNoOp(t *testing.T) {
	eg1, srv1 := loopbackEgress(t)
	defer srv1.Close()

	stats := selfstat.New(prometheus.NewRegistry())
	failures, err := egress.FanOut([]*channelset.UDPEgress{eg1}, []byte("hello"), true, stats)
	require.NoError(t, err)
	assert.Equal(t, 0, failures)
}

func TestFanOutCountsFailuresWithoutAbortingOthers(t *testing.T) {
	eg1, srv1 := loopbackEgress(t)
	defer srv1.Close()
	// Close the underlying connection to force a write failure on eg2.
	eg2, srv2 := loopbackEgress(t)
	srv2.Close()
	eg2.Conn.Close()

	stats := selfstat.New(prometheus.NewRegistry())
	failures, err := egress.FanOut([]*channelset.UDPEgress{eg2, eg1}, []byte("hello"), false, stats)
	require.Error(t, err)
	assert.Equal(t, 1, failures)
}
