// Package selfstat tracks the daemon's own operational counters —
// datagrams received/dropped, ACL rejects, decode failures, egress sends
// and failures, sampling failures, TCP clients served/abandoned — backed
// by prometheus/client_golang so they can be scraped or asserted on in
// tests.
package selfstat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups every counter the daemon maintains about itself. It is
// safe to register against a caller-provided prometheus.Registerer (tests
// typically use prometheus.NewRegistry() to avoid the global registry).
type Registry struct {
	UDPPacketsRecv   *prometheus.CounterVec
	UDPBytesRecv     *prometheus.CounterVec
	ACLRejects       *prometheus.CounterVec
	DecodeFailures   *prometheus.CounterVec
	EgressSends      *prometheus.CounterVec
	EgressFailures   *prometheus.CounterVec
	SamplingFailures *prometheus.CounterVec
	TCPClientsServed prometheus.Counter
	TCPClientsDenied prometheus.Counter
	TCPClientsFailed prometheus.Counter
	PeersExpired     prometheus.Counter
}

// New constructs and registers a Registry against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		UDPPacketsRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmond_udp_packets_received_total",
			Help: "Datagrams accepted on an ingress channel.",
		}, []string{"channel"}),
		UDPBytesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmond_udp_bytes_received_total",
			Help: "Bytes accepted on an ingress channel.",
		}, []string{"channel"}),
		ACLRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmond_acl_rejects_total",
			Help: "Datagrams dropped because the sender failed a channel's ACL.",
		}, []string{"channel"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmond_decode_failures_total",
			Help: "Datagrams dropped because they failed to decode.",
		}, []string{"channel"}),
		EgressSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmond_egress_sends_total",
			Help: "Datagrams successfully sent on an egress channel.",
		}, []string{"channel"}),
		EgressFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmond_egress_failures_total",
			Help: "Send failures on an egress channel.",
		}, []string{"channel"}),
		SamplingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gmond_sampling_failures_total",
			Help: "Metric callback failures, by metric name.",
		}, []string{"metric"}),
		TCPClientsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gmond_tcp_clients_served_total",
			Help: "Snapshot clients served to completion.",
		}),
		TCPClientsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gmond_tcp_clients_denied_total",
			Help: "Snapshot clients rejected by ACL.",
		}),
		TCPClientsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gmond_tcp_clients_failed_total",
			Help: "Snapshot clients abandoned mid-write.",
		}),
		PeersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gmond_peers_expired_total",
			Help: "Peer records removed by the TTL scavenger.",
		}),
	}
	reg.MustRegister(
		r.UDPPacketsRecv, r.UDPBytesRecv, r.ACLRejects, r.DecodeFailures,
		r.EgressSends, r.EgressFailures, r.SamplingFailures,
		r.TCPClientsServed, r.TCPClientsDenied, r.TCPClientsFailed,
		r.PeersExpired,
	)
	return r
}
