// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import "testing"

func TestPipeBundleEnqueueWrite(t *testing.T) {
	b := newPipeBundle(1, 16)
	if b.hasPendingWrites() {
		t.Fatalf("fresh bundle should have no pending writes")
	}
	b.enqueueWrite([]byte("hello"))
	if !b.hasPendingWrites() {
		t.Fatalf("bundle should report pending writes after enqueue")
	}
	if b.pending.Len() != 1 {
		t.Fatalf("got %d pending sources, want 1", b.pending.Len())
	}
}

func TestPipeBundleEnqueueWriteAfterClose(t *testing.T) {
	b := newPipeBundle(1, 16)
	b.markClosed()
	b.enqueueWrite([]byte("dropped"))
	if b.hasPendingWrites() {
		t.Fatalf("closed bundle must not accept new writes")
	}
}

func TestPipeBundleDefaultCapacity(t *testing.T) {
	b := newPipeBundle(1, 0)
	if len(b.buf.data) != defaultBufferCapacity {
		t.Fatalf("got capacity %d, want %d", len(b.buf.data), defaultBufferCapacity)
	}
}

func TestBufferAdvanceAndCompact(t *testing.T) {
	var buf Buffer
	buf.data = make([]byte, 8)
	copy(buf.data, "abcdefgh")
	buf.reset(8)
	buf.Advance(3)
	if got := string(buf.Unread()); got != "defgh" {
		t.Fatalf("got %q, want %q", got, "defgh")
	}
	remaining := buf.compact()
	if remaining != 5 {
		t.Fatalf("got %d unconsumed, want 5", remaining)
	}
	if got := string(buf.Data()[:buf.Limit()]); got != "defgh" {
		t.Fatalf("compact did not shift data to front: %q", got)
	}
}

func TestBufferFillAndAdvancePanics(t *testing.T) {
	var buf Buffer
	buf.data = make([]byte, 4)
	buf.Fill([]byte("ab"))
	if buf.Pos() != 0 || buf.Limit() != 2 {
		t.Fatalf("got pos=%d lim=%d, want 0,2", buf.Pos(), buf.Limit())
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("Advance past limit should panic")
		}
	}()
	buf.Advance(3)
}
