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

package admin

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"dbtrace/internal/dispatch"
	"dbtrace/internal/extiface"
	"dbtrace/internal/rules"
	"dbtrace/internal/sinks"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMS() int64  { return c.ms }
func (c *fakeClock) NowSec() int64 { return c.ms / 1000 }

type captureLogger struct{ lines []string }

func (c *captureLogger) Printf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

type fakeTaxonomy struct{ byName map[string]int32 }

func (t *fakeTaxonomy) Name(int32) string { return "" }
func (t *fakeTaxonomy) Opcode(name string) (int32, bool) {
	v, ok := t.byName[name]
	return v, ok
}
func (t *fakeTaxonomy) OpcodeFamily(int32) extiface.OpcodeFamily       { return extiface.OpcodeFamilyOther }
func (t *fakeTaxonomy) BlockOpFamily(int32) extiface.BlockOpFamily     { return extiface.BlockOpFamilyAdd }

func newTestAdmin() (*Admin, *captureLogger) {
	logger := &captureLogger{}
	rs := rules.New()
	sr := sinks.NewRegistry(logger)
	clock := &fakeClock{}
	d := dispatch.New(rs, sr, logger, clock, nil)
	return New(rs, d, sr, logger, nil), logger
}

func Test_LongRequestThresholdVerbsUpdateDispatcher(t *testing.T) {
	a, _ := newTestAdmin()
	if err := a.Apply([]string{"longrequest", "500"}); err != nil {
		t.Fatalf("longrequest: %v", err)
	}
	if err := a.Apply([]string{"longsqlrequest", "250"}); err != nil {
		t.Fatalf("longsqlrequest: %v", err)
	}
	longMS, sqlMS := a.Dispatch.Thresholds()
	if longMS != 500 || sqlMS != 250 {
		t.Fatalf("expected thresholds 500/250, got %d/%d", longMS, sqlMS)
	}
}

func Test_DiffstatVerbSetsPeriod(t *testing.T) {
	a, _ := newTestAdmin()
	if a.DiffstatPeriodSec() != 0 {
		t.Fatalf("expected diffstat period 0 initially")
	}
	if err := a.Apply([]string{"diffstat", "60"}); err != nil {
		t.Fatalf("diffstat: %v", err)
	}
	if a.DiffstatPeriodSec() != 60 {
		t.Fatalf("expected diffstat period 60, got %d", a.DiffstatPeriodSec())
	}
}

func Test_TruncateAndVerboseFlags(t *testing.T) {
	a, _ := newTestAdmin()
	if a.Truncate() || a.Verbose() {
		t.Fatalf("expected both flags false initially")
	}
	if err := a.Apply([]string{"truncate", "1"}); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if !a.Truncate() {
		t.Fatalf("expected truncate true")
	}
	if err := a.Apply([]string{"vbon"}); err != nil {
		t.Fatalf("vbon: %v", err)
	}
	if !a.Verbose() {
		t.Fatalf("expected verbose true")
	}
	if err := a.Apply([]string{"vbof"}); err != nil {
		t.Fatalf("vbof: %v", err)
	}
	if a.Verbose() {
		t.Fatalf("expected verbose false after vbof")
	}
}

func Test_RuleLifecycleGoStopDelete(t *testing.T) {
	a, _ := newTestAdmin()
	if err := a.Apply([]string{"R1", "go", "ms", "100+"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	r := a.Rules.CreateOrLookup("R1")
	if !r.Active {
		t.Fatalf("expected rule active")
	}
	if r.Duration.From != 100 || r.Duration.To != -1 {
		t.Fatalf("expected range {100,-1}, got %+v", r.Duration)
	}

	if err := a.Apply([]string{"R1", "stop"}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.Rules.CreateOrLookup("R1").Active {
		t.Fatalf("expected rule inactive after stop")
	}

	if err := a.Apply([]string{"R1", "delete"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	found := false
	for _, snap := range a.Rules.Snapshot() {
		if snap.Name == "R1" {
			found = true
		}
	}
	if found {
		t.Fatalf("expected rule R1 removed after delete")
	}
}

func Test_RuleFileAttributeOpensSinkAndRebindReleasesOld(t *testing.T) {
	a, _ := newTestAdmin()
	dir := t.TempDir()
	path1 := filepath.Join(dir, "a.log")
	path2 := filepath.Join(dir, "b.log")

	if err := a.Apply([]string{"R2", "file", path1}); err != nil {
		t.Fatalf("file: %v", err)
	}
	r := a.Rules.CreateOrLookup("R2")
	if r.Sink == nil || r.Sink.Filename() != path1 {
		t.Fatalf("expected sink bound to %s, got %v", path1, r.Sink)
	}

	if err := a.Apply([]string{"R2", "file", path2}); err != nil {
		t.Fatalf("rebind file: %v", err)
	}
	r = a.Rules.CreateOrLookup("R2")
	if r.Sink.Filename() != path2 {
		t.Fatalf("expected sink rebound to %s, got %s", path2, r.Sink.Filename())
	}
}

func Test_RuleStmtAttributeUnquotesWithDoubledEscape(t *testing.T) {
	a, _ := newTestAdmin()
	if err := a.Apply([]string{"R3", "stmt", `'it''s a test'`}); err != nil {
		t.Fatalf("stmt: %v", err)
	}
	r := a.Rules.CreateOrLookup("R3")
	if r.StmtSubstr != "it's a test" {
		t.Fatalf("expected unescaped statement, got %q", r.StmtSubstr)
	}
}

func Test_RuleOpcodeAttributeResolvesViaTaxonomyWithPolarity(t *testing.T) {
	logger := &captureLogger{}
	rs := rules.New()
	sr := sinks.NewRegistry(logger)
	clock := &fakeClock{}
	d := dispatch.New(rs, sr, logger, clock, nil)
	tax := &fakeTaxonomy{byName: map[string]int32{"FIND": 7}}
	a := New(rs, d, sr, logger, tax)

	if err := a.Apply([]string{"R4", "opcode", "!FIND"}); err != nil {
		t.Fatalf("opcode: %v", err)
	}
	r := a.Rules.CreateOrLookup("R4")
	if r.OpcodeList.InSet {
		t.Fatalf("expected InSet=false for negated opcode")
	}
	if !r.OpcodeList.Contains(8) || r.OpcodeList.Contains(7) {
		t.Fatalf("expected opcode 7 excluded, others allowed: %+v", r.OpcodeList)
	}
}

func Test_ParseRangeVariants(t *testing.T) {
	cases := []struct {
		in       string
		from, to int64
	}{
		{"5", 5, 5},
		{"5+", 5, -1},
		{"5-", -1, 5},
		{"5..10", 5, 10},
	}
	for _, c := range cases {
		rng, err := parseRange(c.in)
		if err != nil {
			t.Fatalf("parseRange(%q): %v", c.in, err)
		}
		if rng.From != c.from || rng.To != c.to {
			t.Fatalf("parseRange(%q) = %+v, want {%d,%d}", c.in, rng, c.from, c.to)
		}
	}
	if _, err := parseRange("abc"); err == nil {
		t.Fatalf("expected error for non-numeric range")
	} else if !errors.Is(err, ErrBadRange) {
		t.Fatalf("expected ErrBadRange, got %v", err)
	}
}

func Test_UnquoteStmtVariants(t *testing.T) {
	got, err := unquoteStmt(`"a ""quoted"" word"`)
	if err != nil {
		t.Fatalf("unquoteStmt: %v", err)
	}
	if got != `a "quoted" word` {
		t.Fatalf("got %q", got)
	}
	if _, err := unquoteStmt("unquoted"); err == nil {
		t.Fatalf("expected error for unquoted token")
	}
	if _, err := unquoteStmt("'unterminated"); err == nil {
		t.Fatalf("expected error for unterminated quote")
	}
}

func Test_StatAndHelpVerbsLogWithoutError(t *testing.T) {
	a, logger := newTestAdmin()
	if err := a.Apply([]string{"R5", "go", "cnt", "3"}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if err := a.Apply([]string{"stat"}); err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := a.Apply([]string{"help"}); err != nil {
		t.Fatalf("help: %v", err)
	}
	if len(logger.lines) == 0 {
		t.Fatalf("expected stat/help to produce log output")
	}
}

func Test_UnknownRuleAttributeReturnsError(t *testing.T) {
	a, _ := newTestAdmin()
	err := a.Apply([]string{"R6", "bogus"})
	if err == nil {
		t.Fatalf("expected error for unknown attribute")
	}
	if !errors.Is(err, ErrUnknownVerb) {
		t.Fatalf("expected ErrUnknownVerb, got %v", err)
	}
}
