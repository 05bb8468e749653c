// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatch implements the end-of-request evaluator: it matches a
// finished Recorder against the active rule set, fans its event log out to
// every matching sink, and runs the independent long-request threshold path.
//
// Grounded on the teacher's Worker.commitLoop/runCommitCycle: a periodic,
// single-critical-section pass that snapshots state, computes a diff, and
// resets an aggregate on rollover — generalized here from a 100ms ticker to
// a per-wall-clock-second boundary test driven by each completed request
// rather than a background goroutine.
package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"dbtrace/internal/extiface"
	"dbtrace/internal/recorder"
	"dbtrace/internal/rules"
	"dbtrace/internal/sinks"
	"dbtrace/internal/telemetry"
)

const wrapWidth = 70

// Dispatcher owns the state needed at request-end: the rule set, the sink
// registry, the long-request thresholds, and the per-wall-clock-second
// running aggregate for the long-request digest.
type Dispatcher struct {
	Rules     *rules.Set
	Sinks     *sinks.Registry
	Logger    extiface.HostLogger
	Clock     extiface.Clock
	Telemetry extiface.StoreTelemetry

	mu                 sync.Mutex
	longRequestMS      int64
	sqlTimeThresholdMS int64
	longReqSink        *sinks.Sink
	longReqFilename    string

	aggSecond   int64
	aggCount    int64
	aggShortest int64
	aggLongest  int64
	normalCount int64
}

// New returns a Dispatcher whose designated long-request sink starts out as
// the registry's default sink.
func New(rs *rules.Set, sr *sinks.Registry, logger extiface.HostLogger, clock extiface.Clock, telemetry extiface.StoreTelemetry) *Dispatcher {
	return &Dispatcher{
		Rules:       rs,
		Sinks:       sr,
		Logger:      logger,
		Clock:       clock,
		Telemetry:   telemetry,
		longReqSink: sr.Default(),
	}
}

// SetLongRequestMS implements the `longrequest N` admin verb.
func (d *Dispatcher) SetLongRequestMS(ms int64) {
	d.mu.Lock()
	d.longRequestMS = ms
	d.mu.Unlock()
}

// SetSQLTimeThresholdMS implements the `longsqlrequest N` admin verb.
func (d *Dispatcher) SetSQLTimeThresholdMS(ms int64) {
	d.mu.Lock()
	d.sqlTimeThresholdMS = ms
	d.mu.Unlock()
}

// Thresholds returns the current long-request thresholds, for `stat`.
func (d *Dispatcher) Thresholds() (longRequestMS, sqlTimeThresholdMS int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.longRequestMS, d.sqlTimeThresholdMS
}

// SetLongRequestFile implements `longreqfile F`: rebinds the designated
// long-request sink via the sink registry, dereferencing the old one.
func (d *Dispatcher) SetLongRequestFile(filename string) {
	next := d.Sinks.Get(filename)
	d.mu.Lock()
	old := d.longReqSink
	d.longReqSink = next
	d.longReqFilename = filename
	d.mu.Unlock()
	d.Sinks.Deref(old)
}

type pendingUse struct {
	sink *sinks.Sink
	mask uint32
}

// EndRequest implements §4.G.2: rule evaluation, fan-out, sticky-warning
// write, and the long-request threshold path. Must be called exactly once
// per Begin*'d Recorder, after the caller has set its final rc via
// r.RC = ... and any trailing set_* calls.
func (d *Dispatcher) EndRequest(r *recorder.Recorder) {
	r.DurationMS = r.CurrentMS() + r.QueueTimeMS
	d.appendTrailingSummaryLines(r)

	var pending []*pendingUse
	d.Rules.WithLock(func(each func(func(*rules.Rule) bool), remove func(string) *sinks.Sink) {
		var toRemove []string
		each(func(rule *rules.Rule) bool {
			if !rule.Active || !d.matches(rule, r) {
				return true
			}
			sink := rule.Sink
			if sink == nil {
				// A rule with no sink bound writes to the default sink; Hold
				// below takes the reference the fan-out keeps.
				sink = d.Sinks.Default()
				d.Sinks.Deref(sink)
			}
			found := false
			for _, p := range pending {
				if p.sink == sink {
					p.mask |= rule.EventMask
					found = true
					break
				}
			}
			if !found {
				d.Sinks.Hold(sink)
				pending = append(pending, &pendingUse{sink: sink, mask: rule.EventMask})
			}
			if rule.CountRemaining > 0 {
				rule.CountRemaining--
				if rule.CountRemaining == 0 {
					toRemove = append(toRemove, rule.Name)
				}
			}
			return true
		})
		for _, name := range toRemove {
			if s := remove(name); s != nil {
				d.Sinks.Deref(s)
			}
		}
	})

	for _, p := range pending {
		d.writeHeaderAndReplay(r, p.sink, p.mask, "")
		d.Sinks.Deref(p.sink)
		telemetry.DispatchMatch()
	}

	if r.HasFlag(recorder.FlagBadCstr) {
		def := d.Sinks.Default()
		d.writeHeader(r, def, "")
		d.Sinks.Deref(def)
	}

	d.longRequestPath(r)
}

func (d *Dispatcher) appendTrailingSummaryLines(r *recorder.Recorder) {
	if r.FingerprintSet {
		r.Logf(rules.ClassINFO, "fingerprint %02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x%02x",
			r.Fingerprint[0], r.Fingerprint[1], r.Fingerprint[2], r.Fingerprint[3],
			r.Fingerprint[4], r.Fingerprint[5], r.Fingerprint[6], r.Fingerprint[7],
			r.Fingerprint[8], r.Fingerprint[9], r.Fingerprint[10], r.Fingerprint[11],
			r.Fingerprint[12], r.Fingerprint[13], r.Fingerprint[14], r.Fingerprint[15])
	}
	if r.SQLCost != 0 {
		r.Logf(rules.ClassINFO, "cost %.2f", r.SQLCost)
	}
	if r.SQLRows != 0 {
		r.Logf(rules.ClassINFO, "rows %d", r.SQLRows)
	}
	if r.VReplays != 0 {
		r.Logf(rules.ClassINFO, "vreplays %d", r.VReplays)
	}
}

func (d *Dispatcher) matches(rule *rules.Rule, r *recorder.Recorder) bool {
	if rule.SQLOnly && r.RequestType != recorder.RequestSQL {
		return false
	}
	if r.RequestType != recorder.RequestSQL {
		var retries int64
		if r.IQ != nil {
			retries = int64(r.IQ.Retries())
		}
		if !rule.Retries.Contains(retries) {
			return false
		}
	}
	if !rule.Duration.Contains(r.DurationMS) {
		return false
	}
	if !rule.VReplays.Contains(r.VReplays) {
		return false
	}
	if !rule.SQLCost.Contains(int64(r.SQLCost)) {
		return false
	}
	if !rule.SQLRows.Contains(int64(r.SQLRows)) {
		return false
	}
	if !rule.OpcodeList.Contains(r.Opcode) {
		return false
	}
	if !rule.RCList.Contains(r.RC) {
		return false
	}
	if rule.StmtSubstr != "" && !strings.Contains(r.Stmt, rule.StmtSubstr) {
		return false
	}
	if rule.TableName != "" {
		found := false
		r.EachTable(func(name string, _ int32) bool {
			if strings.EqualFold(name, rule.TableName) {
				found = true
				return false
			}
			return true
		})
		if !found {
			return false
		}
	}
	return true
}

func (d *Dispatcher) nowSec() int64 {
	if d.Clock == nil {
		return 0
	}
	return d.Clock.NowSec()
}

func (d *Dispatcher) longRequestPath(r *recorder.Recorder) {
	d.mu.Lock()
	threshold := d.longRequestMS
	if r.RequestType == recorder.RequestSQL {
		threshold = d.sqlTimeThresholdMS
	}
	d.mu.Unlock()

	if threshold > 0 && r.DurationMS >= threshold {
		d.mu.Lock()
		sink := d.longReqSink
		d.mu.Unlock()
		d.Sinks.Hold(sink)
		d.writeHeaderAndReplay(r, sink, rules.ClassINFO, "LONG REQUEST")
		d.Sinks.Deref(sink)
		telemetry.LongRequest()
		d.rollLongRequestAggregate(r.DurationMS)
		return
	}

	d.mu.Lock()
	d.normalCount++
	d.mu.Unlock()
}

func (d *Dispatcher) rollLongRequestAggregate(durationMS int64) {
	now := d.nowSec()
	d.mu.Lock()
	if d.aggCount == 0 {
		d.aggSecond = now
		d.aggShortest = durationMS
		d.aggLongest = durationMS
		d.aggCount = 1
		d.mu.Unlock()
		return
	}
	if now != d.aggSecond {
		count, shortest, longest, sec := d.aggCount, d.aggShortest, d.aggLongest, d.aggSecond
		d.aggSecond = now
		d.aggCount = 1
		d.aggShortest = durationMS
		d.aggLongest = durationMS
		d.mu.Unlock()
		d.flushDigest(sec, count, shortest, longest)
		return
	}
	d.aggCount++
	if durationMS < d.aggShortest {
		d.aggShortest = durationMS
	}
	if durationMS > d.aggLongest {
		d.aggLongest = durationMS
	}
	d.mu.Unlock()
}

func (d *Dispatcher) flushDigest(second, count, shortest, longest int64) {
	def := d.Sinks.Default()
	def.Write(second, "", fmt.Sprintf("long requests: %d (shortest %dms, longest %dms)", count, shortest, longest), 0)
	d.Sinks.Deref(def)
}

// NormalRequestCount returns the running count of below-threshold requests,
// for the `stat` admin verb.
func (d *Dispatcher) NormalRequestCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.normalCount
}
