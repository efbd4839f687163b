// Package sampling implements the libmetrics callback registry and the
// sampling scheduler: a static name -> callback table, driven by
// per-group cadences modeled with robfig/cron's ConstantDelaySchedule
// rather than hand-rolled modulo arithmetic.
package sampling

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/trevorr/gmond/internal/catalog"
	"github.com/trevorr/gmond/internal/config"
	"github.com/trevorr/gmond/internal/selfstat"
	"github.com/trevorr/gmond/internal/wire"
)

// Clock abstracts "now", matching internal/store.Clock and internal/core's
// benbjohnson/clock.Clock so a single fake clock can drive every
// time-dependent package in a test.
type Clock interface {
	Now() time.Time
}

// Callback is one libmetrics entry: a zero-argument sampler returning a
// typed value for a single registered metric.
type Callback func() (wire.Value, error)

// defaultInterval is returned by Tick when no collection groups are
// configured.
const defaultInterval = time.Hour

// Publisher hands an encoded metric message to the egress fan-out.
type Publisher func(encoded []byte)

// groupMetric pairs a configured metric name with the catalog id it
// resolved to at setup time, so the two can never drift apart the way a
// pair of parallel slices indexed by position could.
type groupMetric struct {
	name string
	id   wire.ID
}

// group is one configured collection group with its resolved metrics and
// cron-style cadence.
type group struct {
	name     string
	metrics  []groupMetric
	schedule cron.ConstantDelaySchedule
	lastFire time.Time
}

// Scheduler drives the sampling scheduler tick.
type Scheduler struct {
	groups    []*group
	registry  map[string]Callback
	clock     Clock
	publish   Publisher
	stats     *selfstat.Registry
	log       *logrus.Entry
}

// NewScheduler builds a Scheduler from configured collection groups,
// resolving each metric name against the catalog and the given callback
// registry. An unknown metric name is logged and skipped rather than
// treated as fatal — callback failures at run time are already non-fatal,
// and the same tolerance is extended to a misconfigured name at setup
// time so one typo doesn't refuse the whole daemon.
func NewScheduler(groups []config.CollectionGroup, registry map[string]Callback, clock Clock, publish Publisher, stats *selfstat.Registry, log *logrus.Entry) *Scheduler {
	s := &Scheduler{
		registry: registry,
		clock:    clock,
		publish:  publish,
		stats:    stats,
		log:      log,
	}
	now := clock.Now()
	for _, cg := range groups {
		if cg.IntervalSeconds <= 0 {
			continue
		}
		g := &group{
			name:     cg.Name,
			schedule: cron.ConstantDelaySchedule{Delay: time.Duration(cg.IntervalSeconds) * time.Second},
			// lastFire set one interval in the past so the group fires on
			// the very first tick, matching a freshly started daemon
			// wanting an immediate first sample rather than waiting a
			// full cadence.
			lastFire: now.Add(-time.Duration(cg.IntervalSeconds) * time.Second),
		}
		for _, name := range cg.Metric {
			id, ok := catalog.IDByName(name)
			if !ok {
				if log != nil {
					log.WithField("metric", name).Warn("sampling: unknown metric name in collection_group, skipping")
				}
				continue
			}
			g.metrics = append(g.metrics, groupMetric{name: name, id: id})
		}
		s.groups = append(s.groups, g)
	}
	return s
}

// Tick fires every group whose cadence has elapsed and returns the number
// of whole seconds until the earliest next-due group. If no groups are
// configured, Tick returns a long interval so the runtime core degenerates
// to pure ingest.
func (s *Scheduler) Tick() int {
	now := s.clock.Now()
	if len(s.groups) == 0 {
		return int(defaultInterval.Seconds())
	}

	earliest := time.Duration(-1)
	for _, g := range s.groups {
		due := g.schedule.Next(g.lastFire)
		if !now.Before(due) {
			s.fireGroup(g, now)
			g.lastFire = now
		}
		next := g.schedule.Next(g.lastFire).Sub(now)
		if earliest < 0 || next < earliest {
			earliest = next
		}
	}

	seconds := int(earliest.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (s *Scheduler) fireGroup(g *group, now time.Time) {
	for _, m := range g.metrics {
		cb, ok := s.registry[m.name]
		if !ok {
			continue
		}
		val, err := cb()
		if err != nil {
			if s.log != nil {
				s.log.WithError(err).WithField("metric", m.name).Debug("sampling: metric callback failed, skipping for this tick")
			}
			if s.stats != nil {
				s.stats.SamplingFailures.WithLabelValues(m.name).Inc()
			}
			continue
		}
		msg := wire.Message{ID: m.id, Value: val}
		encoded, err := wire.Encode(msg)
		if err != nil {
			if s.log != nil {
				s.log.WithError(err).WithField("metric", m.name).Debug("sampling: failed to encode sampled metric")
			}
			continue
		}
		if s.publish != nil {
			s.publish(encoded)
		}
	}
}

// errUnsupportedMetric is returned by BuiltinRegistry's callbacks when the
// platform gopsutil is running on cannot supply a value at all.
var errUnsupportedMetric = fmt.Errorf("sampling: metric unsupported on this platform")
