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

// Package admin implements the tokenized-verb control surface (component I):
// thresholds, the truncation and verbose flags, and rule creation/mutation,
// as handed to it pre-tokenized by an external command parser (§6).
//
// Grounded on persistence.BuildPersister's switch-on-verb dispatch table
// (internal/ratelimiter/persistence/factory.go), generalized here from
// "select a persister by adapter name" to "mutate rule/threshold state by
// verb".
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"dbtrace/internal/admin/remote"
	"dbtrace/internal/dispatch"
	"dbtrace/internal/extiface"
	"dbtrace/internal/rules"
	"dbtrace/internal/sinks"
)

// ErrUnknownVerb and ErrBadRange let a CLI wrapper distinguish "I don't
// recognize this command" from "I recognized it but the value was bad",
// without parsing Apply's error text. Grounded on
// persistence.BuildPersister's distinct fmt.Errorf("unknown persistence
// adapter: %s", adapter) case (internal/ratelimiter/persistence/factory.go,
// since removed): wrap these with %w at the call site rather than returning
// them bare, so the original token/value still reaches the operator's log.
var (
	ErrUnknownVerb = errors.New("admin: unknown verb")
	ErrBadRange    = errors.New("admin: bad range")
)

// Admin owns the process-wide flags the dispatcher and recorders consult
// that aren't part of the rule set itself.
type Admin struct {
	Rules    *rules.Set
	Dispatch *dispatch.Dispatcher
	Sinks    *sinks.Registry
	Logger   extiface.HostLogger
	Taxonomy extiface.OpcodeTaxonomy // optional; nil means opcode names must be numeric

	// Remote is an optional Redis rule-snapshot mirror (internal/admin/remote).
	// Never consulted for correctness — nil disables the mirror entirely.
	Remote *remote.Mirror

	truncate          bool
	verbose           bool
	diffstatPeriodSec int64
}

// New returns an Admin wired to the given engine components.
func New(rs *rules.Set, d *dispatch.Dispatcher, sr *sinks.Registry, logger extiface.HostLogger, taxonomy extiface.OpcodeTaxonomy) *Admin {
	return &Admin{Rules: rs, Dispatch: d, Sinks: sr, Logger: logger, Taxonomy: taxonomy}
}

// WithRemote attaches a Redis mirror; stat dumps additionally publish to it.
func (a *Admin) WithRemote(m *remote.Mirror) *Admin {
	a.Remote = m
	return a
}

// Truncate reports the current `truncate` flag, consulted by Recorder
// callers before PushPrefix[f] to decide the oversize-text disposition.
func (a *Admin) Truncate() bool { return a.truncate }

// Verbose reports the current `vbon`/`vbof` flag.
func (a *Admin) Verbose() bool { return a.verbose }

// DiffstatPeriodSec reports the current `diffstat` period in seconds (0
// means disabled). The engine only stores this threshold; driving a
// periodic stat-dump pseudo-request at this cadence is the embedding host
// process's responsibility (see Recorder.BeginDiffstat).
func (a *Admin) DiffstatPeriodSec() int64 { return a.diffstatPeriodSec }

// Apply applies one pre-tokenized admin command (§4.I). Errors are also
// logged through a.Logger; the returned error is for callers that want to
// surface it too. A failing value leaves its own setting unchanged; in a
// rule command, the attributes before the failing one stay applied.
func (a *Admin) Apply(tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("admin: empty command")
	}
	var err error
	switch tokens[0] {
	case "longrequest":
		err = a.applyIntVerb(tokens, a.Dispatch.SetLongRequestMS)
	case "longsqlrequest":
		err = a.applyIntVerb(tokens, a.Dispatch.SetSQLTimeThresholdMS)
	case "longreqfile":
		if len(tokens) < 2 {
			err = fmt.Errorf("longreqfile requires a filename")
		} else {
			a.Dispatch.SetLongRequestFile(tokens[1])
		}
	case "diffstat":
		err = a.applyIntVerb(tokens, func(n int64) { a.diffstatPeriodSec = n })
	case "truncate":
		err = a.applyIntVerb(tokens, func(n int64) { a.truncate = n != 0 })
	case "stat":
		a.dumpStat()
	case "help":
		a.dumpHelp()
	case "vbon":
		a.verbose = true
	case "vbof":
		a.verbose = false
	default:
		err = a.applyRuleCommand(tokens)
	}
	if err != nil {
		a.logf("admin: %v", err)
	}
	return err
}

func (a *Admin) applyIntVerb(tokens []string, set func(int64)) error {
	if len(tokens) < 2 {
		return fmt.Errorf("%s requires a value", tokens[0])
	}
	n, err := strconv.ParseInt(tokens[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%s: bad value %q: %w", tokens[0], tokens[1], err)
	}
	set(n)
	return nil
}

func (a *Admin) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}

func (a *Admin) dumpHelp() {
	a.logf("verbs: longrequest N, longsqlrequest N, longreqfile F, diffstat N, truncate N, stat, help, vbon, vbof, [rulename] <attrs...>")
}

func (a *Admin) dumpStat() {
	longMS, sqlMS := a.Dispatch.Thresholds()
	a.logf("long_request_ms=%d sql_time_threshold_ms=%d diffstat=%d truncate=%v verbose=%v normal_requests=%d",
		longMS, sqlMS, a.diffstatPeriodSec, a.truncate, a.verbose, a.Dispatch.NormalRequestCount())
	snapshot := a.Rules.Snapshot()
	for _, r := range snapshot {
		sink := r.Sink
		if sink == "" {
			sink = "(default)"
		}
		a.logf("rule %s active=%v cnt=%d mask=%#x sink=%s", r.Name, r.Active, r.CountRemaining, r.EventMask, sink)
	}
	if a.Remote != nil {
		a.Remote.Publish(context.Background(), snapshot)
	}
}
