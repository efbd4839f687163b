// Package egress implements the egress fan-out: send one encoded datagram
// on every configured egress socket, counting and reporting per-socket
// failures without letting one failing channel abort any other.
package egress

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/trevorr/gmond/internal/channelset"
	"github.com/trevorr/gmond/internal/selfstat"
)

// FanOut sends buf on every channel in egress. It returns the number of
// sockets a send failed on and a combined error (nil if every send
// succeeded) built with hashicorp/go-multierror so callers can still
// inspect each individual failure. When mute is true, FanOut is a no-op
// regardless of how many egress channels are configured.
func FanOut(egress []*channelset.UDPEgress, buf []byte, mute bool, stats *selfstat.Registry) (failures int, err error) {
	if mute {
		return 0, nil
	}

	var merr *multierror.Error
	for _, eg := range egress {
		if _, sendErr := eg.Conn.Write(buf); sendErr != nil {
			failures++
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", eg.Label, sendErr))
			if stats != nil {
				stats.EgressFailures.WithLabelValues(eg.Label).Inc()
			}
			continue
		}
		if stats != nil {
			stats.EgressSends.WithLabelValues(eg.Label).Inc()
		}
	}
	if merr != nil {
		return failures, merr.ErrorOrNil()
	}
	return failures, nil
}
