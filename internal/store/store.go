// Package store implements the in-memory aggregation store: peer-ip ->
// peer record -> metric-id -> snapshot, with per-peer isolated allocation
// lifetimes and an optional TTL scavenger for peer expiration.
//
// Each peer's records are scoped to a dedicated *Arena: all of a peer's
// owned strings and snapshots are allocated through it, and destroying the
// peer record (on scavenge) simply drops the arena, taking every owned
// allocation with it in one step — the Go analogue of a per-host
// allocation pool.
package store

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/google/uuid"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/trevorr/gmond/internal/selfstat"
	"github.com/trevorr/gmond/internal/wire"
)

// Arena is the allocation scope owned by one peer record. It currently
// does nothing beyond tagging ownership (Go's GC reclaims memory once the
// PeerRecord is unreachable) but gives destruction a single point: dropping
// a PeerRecord from the Store drops its Arena and, transitively, every
// snapshot and owned string reachable only from it. Ownership is a strict
// tree — store owns peers, peers own metrics, metrics own payloads — so
// there is no cycle to worry about on teardown.
type Arena struct {
	id string
}

func newArena() *Arena {
	return &Arena{id: uuid.NewString()}
}

// Snapshot is the most recent decoded metric message for one peer+id pair,
// plus the timestamp of that specific update.
type Snapshot struct {
	Message       wire.Message
	LastHeardFrom time.Time
}

// PeerRecord is the per-host aggregation record.
type PeerRecord struct {
	Hostname        string
	IP              string
	FirstHeardFrom  time.Time
	LastHeardFrom   time.Time
	Metrics         map[wire.ID]*Snapshot
	arena           *Arena
}

// Resolver resolves a textual peer IP to a hostname via reverse DNS,
// falling back to the IP itself on any failure. Production code uses
// dnsResolver (miekg/dns); tests can inject a stub.
type Resolver interface {
	Resolve(ip string) string
}

// dnsResolver issues a PTR query against the system resolver using
// miekg/dns rather than the stdlib's net.LookupAddr, giving the daemon an
// explicit, boundable query timeout instead of relying on the cgo/netgo
// resolver path.
type dnsResolver struct {
	client      *dns.Client
	servers     []string
	timeout     time.Duration
}

// NewDNSResolver builds a Resolver from /etc/resolv.conf, read once at
// startup. If resolv.conf cannot be read, Resolve always falls back to the
// bare IP (never an error — DNS failure is never fatal).
func NewDNSResolver(timeout time.Duration) Resolver {
	r := &dnsResolver{
		client:  &dns.Client{Timeout: timeout},
		timeout: timeout,
	}
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, s := range cfg.Servers {
			r.servers = append(r.servers, net.JoinHostPort(s, cfg.Port))
		}
	}
	return r
}

func (r *dnsResolver) Resolve(ip string) string {
	if len(r.servers) == 0 {
		return ip
	}
	rev, err := dns.ReverseAddr(ip)
	if err != nil {
		return ip
	}
	m := new(dns.Msg)
	m.SetQuestion(rev, dns.TypePTR)
	for _, server := range r.servers {
		resp, _, err := r.client.Exchange(m, server)
		if err != nil || resp == nil || len(resp.Answer) == 0 {
			continue
		}
		if ptr, ok := resp.Answer[0].(*dns.PTR); ok {
			name := ptr.Ptr
			for len(name) > 0 && name[len(name)-1] == '.' {
				name = name[:len(name)-1]
			}
			if name != "" {
				return name
			}
		}
	}
	return ip
}

// StaticResolver always resolves to the ip itself; useful where reverse
// DNS is undesired or unavailable (and in tests).
type StaticResolver struct{}

func (StaticResolver) Resolve(ip string) string { return ip }

// Store is the aggregation store. The zero value is not usable; construct
// with New.
type Store struct {
	mu       sync.Mutex
	peers    map[string]*PeerRecord
	resolver Resolver
	clock    Clock
	scavenge *lru.LRU[string, struct{}]
	stats    *selfstat.Registry
	log      *logrus.Entry
}

// Clock abstracts "now" so tests can control timestamps deterministically.
// Production code passes a benbjohnson/clock.Clock; see internal/core.
type Clock interface {
	Now() time.Time
}

// New constructs an empty Store. peerTTL of 0 disables the scavenger, so
// peers are never destroyed unless a positive TTL is configured. stats and
// log may be nil; when present, they record arena lifecycle events
// (creation, expiry) for diagnostics.
func New(resolver Resolver, clk Clock, peerTTL time.Duration, stats *selfstat.Registry, log *logrus.Entry) *Store {
	s := &Store{
		peers:    make(map[string]*PeerRecord),
		resolver: resolver,
		clock:    clk,
		stats:    stats,
		log:      log,
	}
	if peerTTL > 0 {
		s.scavenge = lru.NewLRU[string, struct{}](0, s.onExpire, peerTTL)
	}
	return s
}

// onExpire is invoked by the expirable LRU's own background sweep once ip
// has gone peerTTL without a fresh Observe (an Add call refreshes the
// entry's TTL — see Observe below). Removing the peer record here drops
// its Arena, taking every snapshot and owned string reachable only from it
// with it; nothing in s.peers can out-survive the peer record whose
// Metrics map it lives in.
func (s *Store) onExpire(ip string, _ struct{}) {
	s.mu.Lock()
	rec, ok := s.peers[ip]
	delete(s.peers, ip)
	s.mu.Unlock()

	if !ok {
		return
	}
	if s.stats != nil {
		s.stats.PeersExpired.Inc()
	}
	if s.log != nil {
		s.log.WithField("peer", ip).WithField("arena", rec.ArenaID()).Debug("store: peer expired by TTL scavenger")
	}
}

// Observe creates a peer record on first contact, advances
// last_heard_from, and returns the record the caller should Save a
// snapshot into — or nil, for reserved control ids and user_defined,
// which are never stored as snapshots.
func (s *Store) Observe(peerIP, senderAddr string, msg wire.Message) *PeerRecord {
	now := s.clock.Now()

	s.mu.Lock()
	rec, existed := s.peers[peerIP]
	if !existed {
		rec = &PeerRecord{
			Hostname:       s.resolver.Resolve(peerIP),
			IP:             peerIP,
			FirstHeardFrom: now,
			LastHeardFrom:  now,
			Metrics:        make(map[wire.ID]*Snapshot),
			arena:          newArena(),
		}
		if rec.Hostname == "" {
			rec.Hostname = peerIP
		}
		s.peers[peerIP] = rec
		if s.log != nil {
			s.log.WithField("peer", peerIP).WithField("arena", rec.ArenaID()).Debug("store: new peer arena created")
		}
	} else {
		rec.LastHeardFrom = now
	}
	s.mu.Unlock()

	if s.scavenge != nil {
		s.scavenge.Add(peerIP, struct{}{})
	}

	if msg.ID.IsReserved() || msg.ID == wire.IDUserDefined {
		return nil
	}
	return rec
}

// Save stores (or overwrites) the snapshot for msg.ID in rec's metric map.
// Overwriting a string-typed snapshot releases the prior owned bytes
// before copying the new value — in Go this is simply letting the old
// *Snapshot become unreachable, since strings are immutable and the
// snapshot's Arena owns nothing the GC wouldn't already reclaim.
func (s *Store) Save(rec *PeerRecord, msg wire.Message) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Metrics[msg.ID] = &Snapshot{
		Message:       msg.Clone(),
		LastHeardFrom: now,
	}
}

// Peers returns a snapshot slice of every current peer record, in the
// store's natural (map) iteration order — consumed only by the
// serializer, which is the sole reader that cares about ordering at all,
// and does not require a sorted one.
func (s *Store) Peers() []*PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PeerRecord, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Get returns the peer record for ip, if any.
func (s *Store) Get(ip string) (*PeerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[ip]
	return p, ok
}

// Len reports how many peer records the store currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// ArenaID exposes the diagnostic id of rec's arena, for logging.
func (rec *PeerRecord) ArenaID() string {
	if rec.arena == nil {
		return ""
	}
	return rec.arena.id
}
