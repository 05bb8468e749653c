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
	"strings"

	"dbtrace/internal/eventlog"
	"dbtrace/internal/prefix"
	"dbtrace/internal/recorder"
	"dbtrace/internal/sinks"
)

func requestTypeName(rt recorder.RequestType) string {
	switch rt {
	case recorder.RequestRegular:
		return "regular request"
	case recorder.RequestSocket:
		return "socket request"
	case recorder.RequestSQL:
		return "sql request"
	case recorder.RequestStatDump:
		return "stat dump"
	default:
		return "request"
	}
}

// writeHeader composes and writes §4.G.3's header to sink: the summary line
// ("<tag> <durationms> msec from <origin> rc <rc>", matching the spec's S2
// example verbatim) followed by word-wrapped secondary fields.
func (d *Dispatcher) writeHeader(r *recorder.Recorder, sink *sinks.Sink, tag string) {
	if tag == "" {
		tag = requestTypeName(r.RequestType)
	}
	summary := fmt.Sprintf("%s %d msec from %s rc %d", tag, r.DurationMS, r.Origin, r.RC)
	sink.Write(d.nowSec(), "", summary, r.DurationMS)

	var entries []string
	if r.IQ != nil {
		bytes := r.IQ.TxnSize()
		reptime := r.IQ.ReplyTimeMS()
		if bytes != 0 {
			entries = append(entries, fmt.Sprintf("bytes %d", bytes))
		}
		if reptime > 0 {
			entries = append(entries, fmt.Sprintf("reptime %dms", reptime))
			entries = append(entries, fmt.Sprintf("rate %d/s", (bytes*1000)/reptime))
		}
		if retries := r.IQ.Retries(); retries != 0 {
			entries = append(entries, fmt.Sprintf("retries %d", retries))
		}
		if replyLen := r.IQ.ReplyLength(); replyLen != 0 {
			entries = append(entries, fmt.Sprintf("reply %d", replyLen))
		}
		if summary := r.IQ.TxnSummary(); summary != "" {
			entries = append(entries, summary)
		}
	}
	if d.Telemetry != nil {
		entries = append(entries, d.Telemetry()...)
	}
	for _, line := range wrapEntries(entries, wrapWidth) {
		sink.Write(d.nowSec(), "", line, r.DurationMS)
	}
}

// wrapEntries packs entries into lines no wider than width visible columns,
// prepending "  " before the first entry on a line and ", " between
// subsequent entries on the same line (§4.G.4).
func wrapEntries(entries []string, width int) []string {
	var lines []string
	var cur strings.Builder
	curLen := 0
	for _, e := range entries {
		sep := ", "
		if curLen == 0 {
			sep = "  "
		}
		if curLen > 0 && curLen+len(sep)+len(e) > width {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
			sep = "  "
		}
		cur.WriteString(sep)
		cur.WriteString(e)
		curLen += len(sep) + len(e)
	}
	if curLen > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// writeHeaderAndReplay writes the header, then replays r's event log to
// sink filtered by mask, per §4.G.2's "write header and replay" fan-out
// step.
func (d *Dispatcher) writeHeaderAndReplay(r *recorder.Recorder, sink *sinks.Sink, mask uint32, tag string) {
	d.writeHeader(r, sink, tag)
	replay(r, sink, mask, d.nowSec())
	sink.Write(d.nowSec(), "", "----------", r.DurationMS)
}

// replay walks r's event log in insertion order, replaying push/pop/pop-all
// against a local prefix stack (independent of the recorder's own, already
// unwound, stack) and writing Print events whose class bit intersects mask.
func replay(r *recorder.Recorder, sink *sinks.Sink, mask uint32, nowSec int64) {
	var stack prefix.Stack
	r.Events.Each(func(n *eventlog.Node) bool {
		switch n.Kind {
		case eventlog.KindPushPrefix:
			stack.Push(n.Text)
		case eventlog.KindPopPrefix:
			stack.Pop()
		case eventlog.KindPopPrefixAll:
			stack.PopAll()
		case eventlog.KindPrint:
			if n.Class&mask != 0 {
				sink.Write(nowSec, stack.Current(), n.Text, r.DurationMS)
			}
		}
		return true
	})
}
