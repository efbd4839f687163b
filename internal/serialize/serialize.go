// Package serialize writes the whole-cluster textual snapshot document a
// TCP accept connection receives: a DTD preamble, a cluster opener/closer,
// and one HOST/METRIC block per peer in the aggregation store.
//
// The document's DTD line is not itself well-formed XML, so it cannot be
// produced with encoding/xml.Marshal; this writes the tags directly with
// bufio/fmt rather than routing through a generic marshaler.
package serialize

import (
	"bufio"
	"fmt"
	"io"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/trevorr/gmond/internal/catalog"
	"github.com/trevorr/gmond/internal/config"
	"github.com/trevorr/gmond/internal/store"
)

const dtd = `<?xml version="1.0" encoding="ISO-8859-1" standalone="yes"?>
<!DOCTYPE GANGLIA_XML [
  <!ELEMENT GANGLIA_XML (CLUSTER)>
  <!ATTLIST GANGLIA_XML VERSION CDATA #REQUIRED>
  <!ATTLIST GANGLIA_XML SOURCE CDATA #REQUIRED>
  <!ELEMENT CLUSTER (HOST)*>
  <!ATTLIST CLUSTER NAME CDATA #REQUIRED>
  <!ATTLIST CLUSTER OWNER CDATA #IMPLIED>
  <!ATTLIST CLUSTER LATLONG CDATA #IMPLIED>
  <!ATTLIST CLUSTER URL CDATA #IMPLIED>
  <!ELEMENT HOST (METRIC)*>
  <!ATTLIST HOST NAME CDATA #REQUIRED>
  <!ATTLIST HOST IP CDATA #REQUIRED>
  <!ATTLIST HOST REPORTED CDATA #REQUIRED>
  <!ELEMENT METRIC EMPTY>
  <!ATTLIST METRIC NAME CDATA #REQUIRED>
  <!ATTLIST METRIC VAL CDATA #REQUIRED>
]>
`

// protocolVersion is reported in the GANGLIA_XML opening tag.
const protocolVersion = "3.1.0"

func orUnspecified(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}

// countingWriter tracks the total byte count handed to the underlying
// writer, so WriteSnapshot can report document size without buffering the
// whole document in memory first.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteSnapshot renders st's current contents as the full document onto w,
// framed by cluster identity drawn from cfg. It flushes its internal
// buffer into w before returning
// so a partial write (the client closed its end mid-stream) is visible to
// the caller as an error rather than silently buffered. On success it
// returns the number of bytes written, for the caller's own log line.
func WriteSnapshot(w io.Writer, cfg *config.Config, st *store.Store, now time.Time) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	if _, err := bw.WriteString(dtd); err != nil {
		return 0, err
	}
	if _, err := fmt.Fprintf(bw, "<GANGLIA_XML VERSION=%q SOURCE=\"gmond\">\n", protocolVersion); err != nil {
		return 0, err
	}
	if _, err := fmt.Fprintf(bw, "<CLUSTER NAME=%q LOCALTIME=\"%d\" OWNER=%q LATLONG=%q URL=%q>\n",
		orUnspecified(cfg.Cluster.Name),
		now.Unix(),
		orUnspecified(cfg.Cluster.Owner),
		orUnspecified(cfg.Cluster.LatLong),
		orUnspecified(cfg.Cluster.URL),
	); err != nil {
		return 0, err
	}

	for _, peer := range st.Peers() {
		if err := writeHost(bw, peer, now); err != nil {
			return 0, err
		}
	}

	if _, err := bw.WriteString("</CLUSTER>\n</GANGLIA_XML>\n"); err != nil {
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return cw.n, nil
}

func writeHost(bw *bufio.Writer, peer *store.PeerRecord, now time.Time) error {
	tn := int(now.Sub(peer.LastHeardFrom).Seconds())
	if _, err := fmt.Fprintf(bw, "<HOST NAME=%q IP=%q REPORTED=\"%d\" TN=\"%d\" TMAX=\"20\" DMAX=\"0\" LOCATION=\"unspecified\" GMOND_STARTED=\"0\">\n",
		peer.Hostname, peer.IP, peer.LastHeardFrom.Unix(), tn,
	); err != nil {
		return err
	}

	for id, snap := range peer.Metrics {
		entry := catalog.MustLookup(id)
		tn := int(now.Sub(snap.LastHeardFrom).Seconds())
		val := catalog.FormatValue(entry, snap.Message.Value)
		if _, err := fmt.Fprintf(bw, "<METRIC NAME=%q VAL=%q TYPE=%q UNITS=%q TN=\"%d\" TMAX=\"%d\" DMAX=\"0\" SLOPE=%q SOURCE=\"gmond\"/>\n",
			entry.Name, val, entry.Type.String(), entry.Units, tn, entry.Step, entry.Slope,
		); err != nil {
			return err
		}
	}

	_, err := bw.WriteString("</HOST>\n")
	return err
}

// HumanizeBytes renders a byte count for log lines only — never for the
// wire document itself, which must stay exactly machine-parseable.
func HumanizeBytes(n uint64) string {
	return humanize.Bytes(n)
}
