// Package core implements the runtime loop that ties every other package
// together: draining TCP accept channels, draining UDP ingress channels
// into the aggregation store, and driving the sampling scheduler.
//
// Two concurrency shapes are offered, both reachable from the same
// construction. The default, single-goroutine loop follows the
// accept-then-ingress-then-tick pseudocode directly. When
// behavior.concurrent_snapshots is set, Run instead starts one goroutine
// per ingress/accept channel plus a ticker-driven scheduler goroutine —
// the store's own internal mutex (internal/store) is what makes this
// safe, so no additional locking is introduced here. This mirrors the
// teacher's own statsd input, which always runs one goroutine per
// listening socket feeding a mutex-guarded accumulator.
package core

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/trevorr/gmond/internal/channelset"
	"github.com/trevorr/gmond/internal/config"
	"github.com/trevorr/gmond/internal/egress"
	"github.com/trevorr/gmond/internal/sampling"
	"github.com/trevorr/gmond/internal/selfstat"
	"github.com/trevorr/gmond/internal/serialize"
	"github.com/trevorr/gmond/internal/store"
	"github.com/trevorr/gmond/internal/wire"
)

// pollSlice bounds how long a single non-blocking poll of one socket is
// allowed to wait for data before the cooperative loop moves on to the
// next socket in the round.
const pollSlice = 5 * time.Millisecond

// Loop owns every channel, the store, and the scheduler, and drives them
// to completion of the configured runtime model.
type Loop struct {
	cfg       *config.Config
	channels  *channelset.Set
	store     *store.Store
	scheduler *sampling.Scheduler
	clock     clock.Clock
	stats     *selfstat.Registry
	log       *logrus.Entry
	mute      bool
}

// New constructs a Loop from its already-opened collaborators.
func New(cfg *config.Config, channels *channelset.Set, st *store.Store, scheduler *sampling.Scheduler, clk clock.Clock, stats *selfstat.Registry, log *logrus.Entry) *Loop {
	return &Loop{
		cfg:       cfg,
		channels:  channels,
		store:     st,
		scheduler: scheduler,
		clock:     clk,
		stats:     stats,
		log:       log,
		mute:      cfg.Behavior.Mute,
	}
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Behavior.ConcurrentSnapshots {
		return l.runConcurrent(ctx)
	}
	return l.runCooperative(ctx)
}

// runCooperative is the direct single-goroutine rendering of the
// accept-drain / ingress-drain / scheduler-tick cycle.
func (l *Loop) runCooperative(ctx context.Context) error {
	nextInterval := 1
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		deadline := l.clock.Now().Add(time.Duration(nextInterval) * time.Second)
		l.drainAcceptsNonBlocking(ctx)
		l.drainIngressUntil(ctx, deadline)
		nextInterval = l.scheduler.Tick()
	}
}

// drainAcceptsNonBlocking services every pending TCP accept connection on
// every accept channel, waiting at most pollSlice on a channel once none
// is pending.
func (l *Loop) drainAcceptsNonBlocking(ctx context.Context) {
	for _, ac := range l.channels.Accept {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := ac.Listener.SetDeadline(time.Now().Add(pollSlice)); err != nil {
				break
			}
			conn, err := ac.Listener.Accept()
			if err != nil {
				break // no pending connection this round
			}
			l.serveClient(ac, conn)
		}
	}
}

// drainIngressUntil round-robins a short, non-blocking poll across every
// ingress channel until deadline, approximating a single poll() call
// multiplexed over several file descriptors with only net.Conn deadlines
// available.
func (l *Loop) drainIngressUntil(ctx context.Context, deadline time.Time) {
	if len(l.channels.Ingress) == 0 {
		time.Sleep(time.Until(deadline))
		return
	}
	buf := make([]byte, wire.MaxDatagramLen)
	for l.clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		progressed := false
		for _, in := range l.channels.Ingress {
			slice := pollSlice
			if remaining := time.Until(deadline); remaining < slice {
				slice = remaining
			}
			if slice <= 0 {
				continue
			}
			if err := in.Conn.SetReadDeadline(time.Now().Add(slice)); err != nil {
				continue
			}
			n, addr, err := in.Conn.ReadFromUDP(buf)
			if err != nil {
				continue // timeout or transient read error; move to next socket
			}
			progressed = true
			l.handleDatagram(in, addr, buf[:n])
		}
		if !progressed {
			// Every socket timed out this round; yield briefly rather than
			// spinning a hot loop until the deadline.
			time.Sleep(time.Millisecond)
		}
	}
}

// handleDatagram implements the per-packet ingest steps: ACL check,
// decode, store update.
func (l *Loop) handleDatagram(in *channelset.UDPIngress, from *net.UDPAddr, data []byte) {
	senderIP := from.IP.String()

	if l.stats != nil {
		l.stats.UDPPacketsRecv.WithLabelValues(in.Label).Inc()
		l.stats.UDPBytesRecv.WithLabelValues(in.Label).Add(float64(len(data)))
	}

	if in.ACL != nil && !in.ACL.Allows(senderIP) {
		if l.stats != nil {
			l.stats.ACLRejects.WithLabelValues(in.Label).Inc()
		}
		if l.log != nil {
			l.log.WithField("peer", senderIP).WithField("channel", in.Label).Debug("ingress: rejected by ACL")
		}
		return
	}

	if in.Protocol != channelset.ProtocolXDR {
		return // reserved for future protocol labels; never fatal
	}

	msg, err := wire.Decode(data)
	if err != nil {
		if l.stats != nil {
			l.stats.DecodeFailures.WithLabelValues(in.Label).Inc()
		}
		if l.log != nil {
			l.log.WithError(err).WithField("peer", senderIP).Debug("ingress: dropping malformed datagram")
		}
		return
	}

	rec := l.store.Observe(senderIP, from.String(), msg)
	if rec != nil {
		l.store.Save(rec, msg)
	}
}

// serveClient handles one accepted TCP connection: ACL check, write the
// whole-cluster snapshot document, close.
func (l *Loop) serveClient(ac *channelset.TCPAccept, conn net.Conn) {
	defer conn.Close()

	remoteHost, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteHost = conn.RemoteAddr().String()
	}
	if ac.ACL != nil && !ac.ACL.Allows(remoteHost) {
		if l.stats != nil {
			l.stats.TCPClientsDenied.Inc()
		}
		return
	}

	n, err := serialize.WriteSnapshot(conn, l.cfg, l.store, l.clock.Now())
	if err != nil {
		if l.stats != nil {
			l.stats.TCPClientsFailed.Inc()
		}
		if l.log != nil {
			l.log.WithError(err).WithField("peer", remoteHost).Debug("snapshot: client abandoned mid-write")
		}
		return
	}
	if l.stats != nil {
		l.stats.TCPClientsServed.Inc()
	}
	if l.log != nil {
		l.log.WithField("peer", remoteHost).
			WithField("bytes", serialize.HumanizeBytes(uint64(n))).
			WithField("peers", l.store.Len()).
			Debug("snapshot: served cluster snapshot")
	}
}

// runConcurrent starts one goroutine per channel and a ticker-driven
// scheduler goroutine, all communicating through the store's own locking.
func (l *Loop) runConcurrent(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, in := range l.channels.Ingress {
		wg.Add(1)
		go func(in *channelset.UDPIngress) {
			defer wg.Done()
			l.runIngressLoop(ctx, in)
		}(in)
	}

	for _, ac := range l.channels.Accept {
		wg.Add(1)
		go func(ac *channelset.TCPAccept) {
			defer wg.Done()
			l.runAcceptLoop(ctx, ac)
		}(ac)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		l.runSchedulerLoop(ctx)
	}()

	<-ctx.Done()
	for _, in := range l.channels.Ingress {
		in.Conn.Close()
	}
	for _, ac := range l.channels.Accept {
		ac.Listener.Close()
	}
	wg.Wait()
	return nil
}

func (l *Loop) runIngressLoop(ctx context.Context, in *channelset.UDPIngress) {
	buf := make([]byte, wire.MaxDatagramLen)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, addr, err := in.Conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed by shutdown
		}
		l.handleDatagram(in, addr, buf[:n])
	}
}

func (l *Loop) runAcceptLoop(ctx context.Context, ac *channelset.TCPAccept) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := ac.Listener.Accept()
		if err != nil {
			return
		}
		go l.serveClient(ac, conn)
	}
}

func (l *Loop) runSchedulerLoop(ctx context.Context) {
	nextInterval := l.scheduler.Tick()
	ticker := l.clock.Timer(time.Duration(nextInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nextInterval = l.scheduler.Tick()
			ticker.Reset(time.Duration(nextInterval) * time.Second)
		}
	}
}

// NewPublisher adapts a channel set's configured egress sockets into a
// sampling.Publisher, so a scheduler can be built before the runtime Loop
// itself and still hand encoded bytes straight to the fan-out.
func NewPublisher(channels *channelset.Set, mute bool, stats *selfstat.Registry, log *logrus.Entry) sampling.Publisher {
	return func(encoded []byte) {
		failures, err := egress.FanOut(channels.Egress, encoded, mute, stats)
		if err != nil && log != nil {
			log.WithError(err).WithField("failures", failures).Debug("egress: one or more sends failed")
		}
	}
}
