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

package arena

import "testing"

func Test_AllocReturnsRequestedSize(t *testing.T) {
	a := New()
	b := a.Alloc(100, 0)
	if len(b) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(b))
	}
}

func Test_AllocDoesNotOverlap(t *testing.T) {
	a := New()
	b1 := a.Alloc(16, 0)
	b2 := a.Alloc(16, 0)
	for i := range b1 {
		b1[i] = 0xAA
	}
	for i := range b2 {
		b2[i] = 0xBB
	}
	for i := range b1 {
		if b1[i] != 0xAA {
			t.Fatalf("b1 corrupted by b2 write at %d", i)
		}
	}
}

func Test_AllocGrowsBeyondChunkSize(t *testing.T) {
	a := New()
	big := a.Alloc(ChunkSize+1, 0)
	if len(big) != ChunkSize+1 {
		t.Fatalf("expected %d bytes, got %d", ChunkSize+1, len(big))
	}
	if len(a.chunks) < 2 {
		t.Fatalf("expected oversize alloc to grow chunk list, got %d chunks", len(a.chunks))
	}
}

func Test_FreeAllResetsOffsets(t *testing.T) {
	a := New()
	a.Alloc(1000, 0)
	a.FreeAll()
	for i := range a.chunks {
		if a.chunks[i].off != 0 {
			t.Fatalf("chunk %d offset not reset: %d", i, a.chunks[i].off)
		}
	}
	if a.cur != 0 {
		t.Fatalf("cur not reset: %d", a.cur)
	}
}

func Test_StrdupPreservesContent(t *testing.T) {
	a := New()
	s := a.Strdup("hello world")
	if s != "hello world" {
		t.Fatalf("got %q", s)
	}
}

func Test_AllocReuseAfterFreeAll(t *testing.T) {
	a := New()
	first := a.Alloc(32, 0)
	firstPtr := &first[0]
	a.FreeAll()
	second := a.Alloc(32, 0)
	if &second[0] != firstPtr {
		t.Fatalf("expected chunk reuse (same backing array) after FreeAll")
	}
}
