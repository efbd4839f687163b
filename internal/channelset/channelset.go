// Package channelset opens and tags the configured ingress (UDP recv,
// TCP accept) and egress (UDP send) sockets. One socket is opened per
// configured channel, each tagged with its protocol label and optional ACL.
package channelset

import (
	"fmt"
	"net"

	"github.com/trevorr/gmond/internal/config"
	"github.com/trevorr/gmond/internal/netacl"
)

// Protocol labels a channel's wire format. "xdr" is the binary metric
// codec (internal/wire); any other label is accepted but currently
// unhandled by the ingest loop; unknown labels never crash the daemon.
type Protocol string

const (
	ProtocolXDR Protocol = "xdr"
	ProtocolXML Protocol = "xml"
)

// UDPIngress is one bound ingress UDP socket, tagged with its protocol
// label and optional ACL.
type UDPIngress struct {
	Conn     *net.UDPConn
	Label    string
	Protocol Protocol
	ACL      *netacl.ACL
}

// UDPEgress is one configured egress UDP destination.
type UDPEgress struct {
	Conn     *net.UDPConn
	Addr     *net.UDPAddr
	Label    string
	Protocol Protocol
}

// TCPAccept is one bound TCP accept socket.
type TCPAccept struct {
	Listener *net.TCPListener
	Label    string
	Protocol Protocol
	ACL      *netacl.ACL
}

// Set holds every channel the daemon has opened.
type Set struct {
	Ingress []*UDPIngress
	Egress  []*UDPEgress
	Accept  []*TCPAccept
}

// Close releases every socket in the set and returns the first error seen;
// an error never stops the rest from being closed (mirrors the egress
// fan-out's per-socket tolerance).
func (s *Set) Close() error {
	var firstErr error
	for _, in := range s.Ingress {
		if err := in.Conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, eg := range s.Egress {
		if err := eg.Conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, ac := range s.Accept {
		if err := ac.Listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Open instantiates every channel named in cfg. Running with both Deaf
// and Mute is a startup-fatal configuration error — callers should
// validate that with cfg.Validate() before calling Open.
func Open(cfg *config.Config, deaf, mute bool) (*Set, error) {
	set := &Set{}

	if !deaf {
		for _, rc := range cfg.UDPRecvChannel {
			in, err := openUDPIngress(rc)
			if err != nil {
				return nil, fmt.Errorf("channelset: udp_recv_channel port %d: %w", rc.Port, err)
			}
			set.Ingress = append(set.Ingress, in)
		}
		for _, ac := range cfg.TCPAcceptChannel {
			a, err := openTCPAccept(ac)
			if err != nil {
				return nil, fmt.Errorf("channelset: tcp_accept_channel port %d: %w", ac.Port, err)
			}
			set.Accept = append(set.Accept, a)
		}
	}

	if !mute {
		for _, sc := range cfg.UDPSendChannel {
			eg, err := openUDPEgress(sc)
			if err != nil {
				return nil, fmt.Errorf("channelset: udp_send_channel port %d: %w", sc.Port, err)
			}
			set.Egress = append(set.Egress, eg)
		}
	}

	return set, nil
}

func compileACL(allowIP, allowMask string) (*netacl.ACL, error) {
	subnet, err := config.AllowSubnet(allowIP, allowMask)
	if err != nil {
		return nil, err
	}
	if subnet == "" {
		return netacl.AllowAll(), nil
	}
	return netacl.Compile(subnet)
}

func openUDPIngress(rc config.UDPRecvChannel) (*UDPIngress, error) {
	acl, err := compileACL(rc.AllowIP, rc.AllowMask)
	if err != nil {
		return nil, err
	}

	bind := rc.Bind
	if bind == "" {
		bind = "0.0.0.0"
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", bind, rc.Port))
	if err != nil {
		return nil, err
	}

	var conn *net.UDPConn
	if rc.McastJoin != "" {
		group, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", rc.McastJoin, rc.Port))
		if err != nil {
			return nil, err
		}
		var iface *net.Interface
		if rc.McastIf != "" {
			iface, err = net.InterfaceByName(rc.McastIf)
			if err != nil {
				return nil, err
			}
		}
		conn, err = net.ListenMulticastUDP("udp", iface, group)
		if err != nil {
			return nil, err
		}
	} else {
		conn, err = net.ListenUDP("udp", addr)
		if err != nil {
			return nil, err
		}
	}

	proto := Protocol(rc.Protocol)
	if proto == "" {
		proto = ProtocolXDR
	}

	return &UDPIngress{
		Conn:     conn,
		Label:    fmt.Sprintf("udp_recv:%d", rc.Port),
		Protocol: proto,
		ACL:      acl,
	}, nil
}

func openUDPEgress(sc config.UDPSendChannel) (*UDPEgress, error) {
	dest := sc.IP
	if sc.McastJoin != "" {
		dest = sc.McastJoin
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", dest, sc.Port))
	if err != nil {
		return nil, err
	}

	var laddr *net.UDPAddr
	if sc.McastIf != "" {
		iface, err := net.InterfaceByName(sc.McastIf)
		if err != nil {
			return nil, err
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			return nil, fmt.Errorf("no address bound to interface %q", sc.McastIf)
		}
		if ipNet, ok := addrs[0].(*net.IPNet); ok {
			laddr = &net.UDPAddr{IP: ipNet.IP}
		}
	}

	conn, err := net.DialUDP("udp", laddr, addr)
	if err != nil {
		return nil, err
	}

	proto := Protocol(sc.Protocol)
	if proto == "" {
		proto = ProtocolXDR
	}

	return &UDPEgress{
		Conn:     conn,
		Addr:     addr,
		Label:    fmt.Sprintf("udp_send:%s:%d", dest, sc.Port),
		Protocol: proto,
	}, nil
}

func openTCPAccept(ac config.TCPAcceptChannel) (*TCPAccept, error) {
	acl, err := compileACL(ac.AllowIP, ac.AllowMask)
	if err != nil {
		return nil, err
	}

	bind := ac.Bind
	if bind == "" {
		bind = "0.0.0.0"
	}
	addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", bind, ac.Port))
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}

	proto := Protocol(ac.Protocol)
	if proto == "" {
		proto = ProtocolXML
	}

	return &TCPAccept{
		Listener: listener,
		Label:    fmt.Sprintf("tcp_accept:%d", ac.Port),
		Protocol: proto,
		ACL:      acl,
	}, nil
}
