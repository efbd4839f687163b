// Package config parses and validates the daemon's TOML configuration
// tree, and supplies the built-in default used by `gmond --default-config`.
// The struct shape follows a TOML-tagged-field convention, one nested
// section per concern (cluster identity, behavior flags, channel lists,
// collection groups).
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Cluster holds the cluster-identity strings the snapshot document's
// opening tag reports. All fields are optional; the
// serializer substitutes the literal "unspecified" for any left blank.
type Cluster struct {
	Name    string `toml:"name"`
	Owner   string `toml:"owner"`
	LatLong string `toml:"latlong"`
	URL     string `toml:"url"`
}

// Behavior holds the daemon's operating-mode flags, plus two additive
// fields: PeerTTLSeconds (peer expiration; default 0 = never expire) and
// ConcurrentSnapshots (selects the two-goroutine runtime shape over the
// default single cooperative loop).
type Behavior struct {
	Daemonize           bool   `toml:"daemonize"`
	Setuid              bool   `toml:"setuid"`
	User                string `toml:"user"`
	DebugLevel          int    `toml:"debug_level"`
	Deaf                bool   `toml:"deaf"`
	Mute                bool   `toml:"mute"`
	PeerTTLSeconds      int    `toml:"peer_ttl_seconds"`
	ConcurrentSnapshots bool   `toml:"concurrent_snapshots"`
}

// UDPRecvChannel configures one ingress UDP socket.
type UDPRecvChannel struct {
	Port      int    `toml:"port"`
	Bind      string `toml:"bind"`
	McastJoin string `toml:"mcast_join"`
	McastIf   string `toml:"mcast_if"`
	Protocol  string `toml:"protocol"`
	AllowIP   string `toml:"allow_ip"`
	AllowMask string `toml:"allow_mask"`
}

// UDPSendChannel configures one egress UDP socket.
type UDPSendChannel struct {
	IP        string `toml:"ip"`
	McastJoin string `toml:"mcast_join"`
	McastIf   string `toml:"mcast_if"`
	Port      int    `toml:"port"`
	Protocol  string `toml:"protocol"`
}

// TCPAcceptChannel configures one TCP accept socket.
type TCPAcceptChannel struct {
	Port      int    `toml:"port"`
	Bind      string `toml:"bind"`
	Interface string `toml:"interface"`
	Protocol  string `toml:"protocol"`
	AllowIP   string `toml:"allow_ip"`
	AllowMask string `toml:"allow_mask"`
}

// CollectionGroup bundles a sampling cadence with the metric names fired
// as a unit.
type CollectionGroup struct {
	Name            string   `toml:"name"`
	IntervalSeconds int      `toml:"interval_seconds"`
	Metric          []string `toml:"metric"`
}

// Config is the fully parsed, not-yet-validated configuration tree.
type Config struct {
	Cluster           Cluster            `toml:"cluster"`
	Behavior          Behavior           `toml:"behavior"`
	UDPRecvChannel    []UDPRecvChannel   `toml:"udp_recv_channel"`
	UDPSendChannel    []UDPSendChannel   `toml:"udp_send_channel"`
	TCPAcceptChannel  []TCPAcceptChannel `toml:"tcp_accept_channel"`
	CollectionGroup   []CollectionGroup  `toml:"collection_group"`
}

// Default returns the built-in default configuration: ingest on the
// standard gmond UDP multicast port, serve snapshots on the standard TCP
// port, one collection group covering basic host metrics at a 20s
// cadence. This is what `gmond --default-config` prints.
func Default() *Config {
	return &Config{
		Cluster: Cluster{
			Name: "unspecified",
		},
		Behavior: Behavior{
			DebugLevel: 0,
			Deaf:       false,
			Mute:       false,
		},
		UDPRecvChannel: []UDPRecvChannel{
			{Port: 8649, McastJoin: "239.2.11.71", Protocol: "xdr"},
		},
		UDPSendChannel: []UDPSendChannel{
			{IP: "239.2.11.71", Port: 8649, Protocol: "xdr"},
		},
		TCPAcceptChannel: []TCPAcceptChannel{
			{Port: 8649, Protocol: "xml"},
		},
		CollectionGroup: []CollectionGroup{
			{Name: "basic", IntervalSeconds: 20, Metric: []string{"cpu_user", "cpu_system", "load_one", "mem_free"}},
		},
	}
}

// Load reads and parses the TOML document at path.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &c, nil
}

// WriteTOML renders c as TOML to w, used by --default-config.
func WriteTOML(w *os.File, c *Config) error {
	enc := toml.NewEncoder(w)
	return enc.Encode(c)
}

// Validate enforces the startup-fatal configuration rules: running both
// deaf and mute is an error (the daemon would do nothing), and every
// allow-subnet must be
// syntactically well-formed (full compilation happens in internal/netacl
// when channels are opened, but a dotted-mask that cannot be sized at all
// is rejected here so the error surfaces before any socket work begins).
func (c *Config) Validate() error {
	if c.Behavior.Deaf && c.Behavior.Mute {
		return fmt.Errorf("config: deaf and mute both set — daemon would do nothing")
	}
	for _, ch := range c.UDPRecvChannel {
		if ch.AllowMask != "" {
			if _, err := maskBits(ch.AllowMask); err != nil {
				return fmt.Errorf("config: udp_recv_channel port %d: %w", ch.Port, err)
			}
		}
	}
	for _, ch := range c.TCPAcceptChannel {
		if ch.AllowMask != "" {
			if _, err := maskBits(ch.AllowMask); err != nil {
				return fmt.Errorf("config: tcp_accept_channel port %d: %w", ch.Port, err)
			}
		}
	}
	return nil
}

// AllowSubnet combines allowIP/allowMask into a single CIDR string
// suitable for netacl.Compile, or returns "" if no ACL is configured.
func AllowSubnet(allowIP, allowMask string) (string, error) {
	if allowIP == "" {
		return "", nil
	}
	if strings.Contains(allowIP, "/") {
		return allowIP, nil
	}
	if allowMask == "" {
		return allowIP, nil // bare host address, matched exactly
	}
	bits, err := maskBits(allowMask)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%d", allowIP, bits), nil
}

func maskBits(dotted string) (int, error) {
	ip := net.ParseIP(dotted)
	if ip == nil {
		return 0, fmt.Errorf("invalid allow_mask %q", dotted)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("allow_mask %q is not a dotted IPv4 mask", dotted)
	}
	ones, bits := net.IPMask(v4).Size()
	if bits == 0 {
		return 0, fmt.Errorf("allow_mask %q is not contiguous", dotted)
	}
	return ones, nil
}
