// Package catalog holds the process-wide, read-only registry mapping a
// metric id to its display metadata: name, wire type, format hint, units,
// reporting step, and slope. It is compile-time data, read by the snapshot
// serializer for display and by the sampling scheduler to resolve metric
// names to ids (IDByName).
package catalog

import (
	"fmt"

	"github.com/trevorr/gmond/internal/wire"
)

// Slope classifies how a metric's value tends to move over time.
type Slope string

const (
	SlopeZero     Slope = "zero"
	SlopePositive Slope = "positive"
	SlopeNegative Slope = "negative"
	SlopeBoth     Slope = "both"
)

// Entry is one catalog row: display metadata for a single metric id.
type Entry struct {
	ID     wire.ID
	Name   string
	Type   wire.Type
	Format string // fmt-style verb used to render the value as text
	Units  string
	Step   int // reporting cadence hint, seconds
	Slope  Slope
}

// builtin is the static table populated once at process startup.
var builtin = map[wire.ID]Entry{
	5:  {ID: 5, Name: "cpu_user", Type: wire.TypeFloat, Format: "%.2f", Units: "%", Step: 20, Slope: SlopeBoth},
	6:  {ID: 6, Name: "cpu_system", Type: wire.TypeFloat, Format: "%.2f", Units: "%", Step: 20, Slope: SlopeBoth},
	7:  {ID: 7, Name: "cpu_idle", Type: wire.TypeFloat, Format: "%.2f", Units: "%", Step: 20, Slope: SlopeBoth},
	8:  {ID: 8, Name: "load_one", Type: wire.TypeFloat, Format: "%.2f", Units: "", Step: 20, Slope: SlopeBoth},
	9:  {ID: 9, Name: "load_five", Type: wire.TypeFloat, Format: "%.2f", Units: "", Step: 20, Slope: SlopeBoth},
	10: {ID: 10, Name: "load_fifteen", Type: wire.TypeFloat, Format: "%.2f", Units: "", Step: 20, Slope: SlopeBoth},
	11: {ID: 11, Name: "mem_free", Type: wire.TypeDouble, Format: "%.0f", Units: "KB", Step: 40, Slope: SlopeBoth},
	12: {ID: 12, Name: "mem_total", Type: wire.TypeDouble, Format: "%.0f", Units: "KB", Step: 1200, Slope: SlopeZero},
	13: {ID: 13, Name: "disk_free", Type: wire.TypeDouble, Format: "%.2f", Units: "GB", Step: 40, Slope: SlopeBoth},
	14: {ID: 14, Name: "disk_total", Type: wire.TypeDouble, Format: "%.2f", Units: "GB", Step: 1200, Slope: SlopeZero},
	15: {ID: 15, Name: "bytes_in", Type: wire.TypeDouble, Format: "%.0f", Units: "bytes/sec", Step: 20, Slope: SlopePositive},
	16: {ID: 16, Name: "bytes_out", Type: wire.TypeDouble, Format: "%.0f", Units: "bytes/sec", Step: 20, Slope: SlopePositive},
	17: {ID: 17, Name: "os_name", Type: wire.TypeString, Format: "%s", Units: "", Step: 1200, Slope: SlopeZero},
	18: {ID: 18, Name: "os_release", Type: wire.TypeString, Format: "%s", Units: "", Step: 1200, Slope: SlopeZero},
}

// Lookup returns the catalog entry for id and reports whether one exists.
func Lookup(id wire.ID) (Entry, bool) {
	e, ok := builtin[id]
	return e, ok
}

// MustLookup is a convenience used by code paths that already guard against
// unknown ids (e.g. the ingest loop only stores ids the decoder accepted).
// It returns a synthesized "unknown_<id>" entry rather than panicking, since
// the id space is allowed to grow across fleet versions.
func MustLookup(id wire.ID) Entry {
	if e, ok := builtin[id]; ok {
		return e
	}
	return Entry{
		ID:     id,
		Name:   fmt.Sprintf("unknown_%d", id),
		Type:   wire.TypeUnknown,
		Format: "%v",
		Units:  "",
		Step:   20,
		Slope:  SlopeBoth,
	}
}

// FormatValue renders v as text through e's format hint.
func FormatValue(e Entry, v wire.Value) string {
	switch v.Type {
	case wire.TypeString:
		return fmt.Sprintf(e.Format, v.Str)
	case wire.TypeUint16:
		return fmt.Sprintf(e.Format, v.U16)
	case wire.TypeInt16:
		return fmt.Sprintf(e.Format, v.I16)
	case wire.TypeUint32:
		return fmt.Sprintf(e.Format, v.U32)
	case wire.TypeInt32:
		return fmt.Sprintf(e.Format, v.I32)
	case wire.TypeFloat:
		return fmt.Sprintf(e.Format, v.Float)
	case wire.TypeDouble:
		return fmt.Sprintf(e.Format, v.Double)
	default:
		return ""
	}
}

// IDByName resolves a libmetrics-style metric name to its catalog id, for
// use by collection-group configuration. Linear scan is fine:
// the catalog is small, static, and consulted only at scheduler-setup time.
func IDByName(name string) (wire.ID, bool) {
	for id, e := range builtin {
		if e.Name == name {
			return id, true
		}
	}
	return 0, false
}
