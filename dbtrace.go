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

// Package dbtrace is the embeddable facade over the per-request structured
// logging and statistics engine: one Engine wires the rule set, sink
// registry, dispatcher, per-host counter table, and admin control surface
// together, and hands out Recorders for worker threads to drive.
//
// This is the direct generalization of the teacher's root VSA type: where
// VSA is one allocate-once-reuse-forever counter object a host process
// wires directly into its request path, Engine is the same "one object, one
// constructor, a handful of narrow methods" shape scaled up to the whole
// capture/dispatch/report pipeline described in internal/recorder,
// internal/dispatch, internal/hoststats and internal/admin.
package dbtrace

import (
	"dbtrace/internal/admin"
	"dbtrace/internal/admin/remote"
	"dbtrace/internal/dispatch"
	"dbtrace/internal/extiface"
	"dbtrace/internal/hoststats"
	"dbtrace/internal/recorder"
	"dbtrace/internal/rules"
	"dbtrace/internal/sinks"
)

// Options configures a new Engine. Every field is optional; the zero value
// of Options yields a usable Engine backed by stdlib defaults.
type Options struct {
	// Logger receives the default sink's output and admin diagnostics.
	// Defaults to extiface.NewStdLogger().
	Logger extiface.HostLogger
	// Clock abstracts time for Recorders and the dispatcher's per-second
	// long-request digest. Defaults to extiface.SystemClock{}.
	Clock extiface.Clock
	// Taxonomy classifies opcodes for the admin rule language's `opcode`
	// attribute and the per-host report's family breakdown. A nil Taxonomy
	// restricts `opcode` to numeric tokens, files every opcode observation
	// under the "other" family, and counts no block-op observations.
	Taxonomy extiface.OpcodeTaxonomy
	// RemoteAddr, if non-empty, attaches a best-effort Redis mirror of rule
	// snapshots (internal/admin/remote) published on every `stat` verb.
	RemoteAddr string
	// RemoteKey names the Redis key the mirror publishes to. Defaults to
	// "dbtrace:rules" when RemoteAddr is set.
	RemoteKey string
}

// Engine is the process-wide, embeddable instance of this capture pipeline.
// Safe for concurrent use by many worker goroutines, each driving its own
// Recorder obtained from NewRecorder.
type Engine struct {
	Rules    *rules.Set
	Sinks    *sinks.Registry
	Dispatch *dispatch.Dispatcher
	Hosts    *hoststats.Table
	Admin    *admin.Admin

	clock    extiface.Clock
	taxonomy extiface.OpcodeTaxonomy
}

// NewEngine wires a fresh Engine per opts. The returned rule set starts
// empty: callers add rules via Apply, the same tokenized verb language a
// deployed process's admin console would send.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = extiface.NewStdLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = extiface.SystemClock{}
	}

	rs := rules.New()
	sr := sinks.NewRegistry(logger)
	d := dispatch.New(rs, sr, logger, clock, nil)
	a := admin.New(rs, d, sr, logger, opts.Taxonomy)

	if opts.RemoteAddr != "" {
		key := opts.RemoteKey
		if key == "" {
			key = "dbtrace:rules"
		}
		a.WithRemote(remote.New(opts.RemoteAddr, key, logger))
	}

	return &Engine{
		Rules:    rs,
		Sinks:    sr,
		Dispatch: d,
		Hosts:    hoststats.NewTable(),
		Admin:    a,
		clock:    clock,
		taxonomy: opts.Taxonomy,
	}
}

// NewRecorder returns a fresh Recorder bound to this Engine's clock and
// error logger, ready for a worker thread to reuse across many requests via
// Begin*/EndRequest.
func (e *Engine) NewRecorder() *recorder.Recorder {
	return recorder.New(e.clock, func(line string) {
		if e.Admin.Logger != nil {
			e.Admin.Logger.Printf("%s", line)
		}
	})
}

// Mask returns the currently published master mask, for callers that need
// to decide capture eligibility themselves before calling a Recorder's
// Begin* method (e.g. to skip constructing an expensive RequestHandle).
func (e *Engine) Mask() rules.MasterMask { return e.Rules.Mask() }

// Apply runs one pre-tokenized admin command against the engine's rule set
// and thresholds (§4.I's tokenized verb language).
func (e *Engine) Apply(tokens []string) error { return e.Admin.Apply(tokens) }

// EndRequest evaluates r against the active rule set, fans its event log
// out to matching sinks, and runs the long-request threshold path. Must be
// called exactly once per Begin*'d Recorder.
func (e *Engine) EndRequest(r *recorder.Recorder) { e.Dispatch.EndRequest(r) }

// HostCounters returns the hot-path counter block for host, installing a
// new entry on first observation.
func (e *Engine) HostCounters(host string) *hoststats.RawCounters {
	return e.Hosts.GetOrCreate(host)
}

// RecordHostOpcode classifies opcode via the Engine's taxonomy and bumps
// host's matching family counter.
func (e *Engine) RecordHostOpcode(host string, opcode int32) {
	hoststats.RecordOpcode(e.HostCounters(host), e.taxonomy, opcode)
}

// RecordHostBlockOp classifies blockOp via the Engine's taxonomy and bumps
// host's matching family counter(s).
func (e *Engine) RecordHostBlockOp(host string, blockOp int32) {
	hoststats.RecordBlockOp(e.HostCounters(host), e.taxonomy, blockOp)
}

// RotateHosts runs one periodic bucket-rotation pass over every tracked
// host, recording elapsedMS as the span the just-closed bucket covers.
func (e *Engine) RotateHosts(elapsedMS int64) { e.Hosts.Rotate(elapsedMS) }

// HostReport returns the grouped per-host report (§4.H), sorted by host.
func (e *Engine) HostReport() []hoststats.HostReport { return e.Hosts.Report() }

// Truncate reports the current `truncate` admin flag.
func (e *Engine) Truncate() bool { return e.Admin.Truncate() }

// Verbose reports the current `vbon`/`vbof` admin flag.
func (e *Engine) Verbose() bool { return e.Admin.Verbose() }

// DiffstatPeriodSec reports the current `diffstat` period in seconds (0
// disables the periodic stat-dump path).
func (e *Engine) DiffstatPeriodSec() int64 { return e.Admin.DiffstatPeriodSec() }

// RunDiffstat captures and dispatches one stat-dump pseudo-request using
// rec, per §4.E's begin_diffstat/§4.G's diffstat path. Callers drive this on
// their own ticker at DiffstatPeriodSec's cadence.
func (e *Engine) RunDiffstat(rec *recorder.Recorder) {
	rec.BeginDiffstat(e.Mask())
	e.EndRequest(rec)
}
