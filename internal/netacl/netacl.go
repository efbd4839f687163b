// Package netacl compiles and evaluates the IP-subnet allow-list ACLs
// attached to ingress/accept channels. A channel with no ACL allows every
// sender; a channel whose configured subnet fails to compile is
// startup-fatal.
package netacl

import (
	"fmt"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

// ACL is a compiled IP-subnet allow-list predicate.
type ACL struct {
	subnet *ipaddr.IPAddress
}

// Compile parses cidr (e.g. "10.0.0.0/24", or a bare host address) into an
// ACL. A malformed subnet is reported so the caller can treat it as a
// startup-fatal configuration error.
func Compile(cidr string) (*ACL, error) {
	addrStr := ipaddr.NewIPAddressString(cidr)
	addr, err := addrStr.ToAddress()
	if err != nil {
		return nil, fmt.Errorf("netacl: invalid allow-subnet %q: %w", cidr, err)
	}
	return &ACL{subnet: addr}, nil
}

// AllowAll returns an ACL equivalent to "no ACL configured": it allows
// every sender. Present so callers can always hold a non-nil *ACL rather
// than special-casing a nil receiver.
func AllowAll() *ACL {
	return &ACL{subnet: nil}
}

// Allows reports whether the textual sender address ip is within the
// compiled subnet. A nil ACL, or one built via AllowAll, allows everything.
func (a *ACL) Allows(ip string) bool {
	if a == nil || a.subnet == nil {
		return true
	}
	candidate := ipaddr.NewIPAddressString(ip)
	addr, err := candidate.ToAddress()
	if err != nil {
		// an unparseable sender address can never be "within" any subnet
		return false
	}
	return a.subnet.Contains(addr)
}

// String renders the compiled subnet for diagnostics/logging.
func (a *ACL) String() string {
	if a == nil || a.subnet == nil {
		return "allow-all"
	}
	return a.subnet.String()
}
