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

package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dbtrace/internal/recorder"
	"dbtrace/internal/rules"
	"dbtrace/internal/sinks"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMS() int64  { return c.ms }
func (c *fakeClock) NowSec() int64 { return c.ms / 1000 }

type fakeHandle struct {
	debug   bool
	opcode  int32
	retries int32
}

func (h *fakeHandle) Debug() bool        { return h.debug }
func (h *fakeHandle) Opcode() int32      { return h.opcode }
func (h *fakeHandle) Retries() int32     { return h.retries }
func (h *fakeHandle) ReplyTimeMS() int64 { return 0 }
func (h *fakeHandle) TxnSize() int64     { return 0 }
func (h *fakeHandle) ReplyLength() int64 { return 0 }
func (h *fakeHandle) Origin() string     { return "" }
func (h *fakeHandle) TxnSummary() string { return "" }

type captureLogger struct{ lines []string }

func (c *captureLogger) Printf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func Test_S1_NoRulesBelowThresholdNoFileWrites(t *testing.T) {
	rs := rules.New()
	logger := &captureLogger{}
	sr := sinks.NewRegistry(logger)
	clock := &fakeClock{ms: 1000}
	d := New(rs, sr, logger, clock, nil)
	d.SetLongRequestMS(2000)

	r := recorder.New(clock, nil)
	r.SetOrigin("host1")
	r.BeginRegular(&fakeHandle{}, rs.Mask())
	clock.ms = 2500 // 1500ms elapsed
	r.RC = 0
	d.EndRequest(r)

	if len(logger.lines) != 0 {
		t.Fatalf("expected no default-sink writes, got %v", logger.lines)
	}
	if d.NormalRequestCount() != 1 {
		t.Fatalf("expected normal request counter incremented, got %d", d.NormalRequestCount())
	}
}

func Test_S2_MatchingRuleWritesHeaderAndEventToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.log")

	rs := rules.New()
	logger := &captureLogger{}
	sr := sinks.NewRegistry(logger)
	clock := &fakeClock{ms: 1000}
	d := New(rs, sr, logger, clock, nil)

	fileSink := sr.Get(path)
	rs.Mutate(func(s *rules.Set) {
		rule := s.CreateOrLookup("R1")
		rule.Active = true
		rule.Duration = rules.Range{From: 1000, To: -1}
		rule.EventMask = rules.ClassTRACE | rules.ClassINFO
		rule.Sink = fileSink
	})

	r := recorder.New(clock, nil)
	r.SetOrigin("client-1")
	r.BeginRegular(&fakeHandle{}, rs.Mask())
	r.PushPrefix("A ", false)
	r.LogLiteral(rules.ClassTRACE, "hello")
	r.PopPrefix()
	clock.ms = 2500 // 1500ms elapsed
	r.RC = 0
	d.EndRequest(r)
	sr.Deref(fileSink)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	content := string(b)
	if !strings.Contains(content, "A hello") {
		t.Fatalf("expected replayed line %q in %q", "A hello", content)
	}
	if !strings.Contains(content, "regular request 1500 msec from client-1 rc 0") {
		t.Fatalf("expected header summary line in %q", content)
	}
	if !strings.Contains(content, "----------") {
		t.Fatalf("expected footer line in %q", content)
	}
}

func Test_S3_OpcodeAndStmtSubstringMatch(t *testing.T) {
	rs := rules.New()
	logger := &captureLogger{}
	sr := sinks.NewRegistry(logger)
	clock := &fakeClock{}
	d := New(rs, sr, logger, clock, nil)

	rule := &rules.Rule{
		Active:     true,
		Duration:   rules.Range{-1, -1},
		Retries:    rules.Range{-1, -1},
		VReplays:   rules.Range{-1, -1},
		SQLCost:    rules.Range{-1, -1},
		SQLRows:    rules.Range{-1, -1},
		OpcodeList: rules.IntList{Values: []int32{99}, InSet: true},
		StmtSubstr: "SELECT foo",
	}

	r := recorder.New(clock, nil)
	r.BeginSQL("SELECT foo FROM t", 99, rules.MasterMask{AllRequests: true}, false)
	if !d.matches(rule, r) {
		t.Fatalf("expected match on opcode+substring")
	}

	r2 := recorder.New(clock, nil)
	r2.BeginSQL("SELECT bar FROM t", 99, rules.MasterMask{AllRequests: true}, false)
	if d.matches(rule, r2) {
		t.Fatalf("expected no match when statement substring absent")
	}
}

func Test_S4_CountRemainingAutoDeletesRuleAfterLimit(t *testing.T) {
	rs := rules.New()
	logger := &captureLogger{}
	sr := sinks.NewRegistry(logger)
	clock := &fakeClock{}
	d := New(rs, sr, logger, clock, nil)

	def := sr.Default()
	rs.Mutate(func(s *rules.Set) {
		rule := s.CreateOrLookup("R3")
		rule.Active = true
		rule.CountRemaining = 2
		rule.EventMask = rules.ClassINFO
		rule.Sink = def
	})

	matches := 0
	for i := 0; i < 3; i++ {
		logger.lines = nil
		r := recorder.New(clock, nil)
		r.BeginRegular(&fakeHandle{}, rs.Mask())
		d.EndRequest(r)
		for _, line := range logger.lines {
			if strings.Contains(line, "----------") {
				matches++
			}
		}
	}
	if matches != 2 {
		t.Fatalf("expected exactly 2 matches before auto-delete, got %d", matches)
	}
}

func Test_S6_FingerprintSummaryLineEmitted(t *testing.T) {
	rs := rules.New()
	logger := &captureLogger{}
	sr := sinks.NewRegistry(logger)
	clock := &fakeClock{}
	d := New(rs, sr, logger, clock, nil)

	def := sr.Default()
	rs.Mutate(func(s *rules.Set) {
		rule := s.CreateOrLookup("all")
		rule.Active = true
		rule.Duration = rules.Range{-1, -1}
		rule.Retries = rules.Range{-1, -1}
		rule.VReplays = rules.Range{-1, -1}
		rule.SQLCost = rules.Range{-1, -1}
		rule.SQLRows = rules.Range{-1, -1}
		rule.EventMask = rules.ClassINFO
		rule.Sink = def
	})

	r := recorder.New(clock, nil)
	r.BeginRegular(&fakeHandle{}, rs.Mask())
	r.SetFingerprint([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f})
	d.EndRequest(r)

	found := false
	for _, line := range logger.lines {
		if strings.Contains(line, "fingerprint 000102030405060708090a0b0c0d0e0f") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected fingerprint summary line, got %v", logger.lines)
	}
}

func Test_LongRequestDigestFlushesOnSecondRollover(t *testing.T) {
	rs := rules.New()
	logger := &captureLogger{}
	sr := sinks.NewRegistry(logger)
	clock := &fakeClock{ms: 0}
	d := New(rs, sr, logger, clock, nil)
	d.SetLongRequestMS(100)

	run := func(startMS, elapsed int64) {
		clock.ms = startMS
		r := recorder.New(clock, nil)
		r.BeginRegular(&fakeHandle{}, rs.Mask())
		clock.ms = startMS + elapsed
		d.EndRequest(r)
	}

	run(0, 150)    // second 0
	run(100, 200)  // still second 0 (100ms + 200ms = 300ms -> NowSec at end = 0)
	run(1200, 300) // crosses into second 1 at end (1500ms -> sec 1), should flush sec-0 digest

	foundDigest := false
	for _, line := range logger.lines {
		if strings.Contains(line, "long requests: 2") {
			foundDigest = true
		}
	}
	if !foundDigest {
		t.Fatalf("expected a flushed digest summarizing 2 long requests in second 0, got %v", logger.lines)
	}
}
