// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"container/list"

	"v.io/x/process/nproc/internal/sysdep"
)

// defaultBufferCapacity is the default size of a pipeBundle's direct
// buffer, per SPEC_FULL.md §3.
const defaultBufferCapacity = 64 * 1024

// writeSource is one caller-enqueued buffer pending a write to a stdin
// endpoint; pos tracks how much of it has already been copied into the
// bundle's direct buffer.
type writeSource struct {
	data []byte
	pos  int
}

// pipeBundle is the passive per-stream state container specified in
// SPEC_FULL.md §3/§4.2 (component C2): an endpoint identifier, a
// fixed-capacity direct buffer, a FIFO of pending writes, and the flags the
// owning Processor consults to decide whether to keep driving this stream.
//
// pipeBundle performs no I/O itself; it is read and mutated exclusively by
// the Processor that owns the endpoint it describes. Other goroutines reach
// it only through that Processor's inbound request queue.
type pipeBundle struct {
	endpoint sysdep.Handle // platform endpoint identifier
	buf      Buffer

	// Write pipeline state (stdin bundles only); see Processor.driveWrite.
	pending        list.List // of *writeSource, FIFO order
	remainingWrite int
	writeOffset    int

	closed     bool
	registered bool

	// completion holds the platform-specific per-endpoint context needed by
	// completion-based multiplexers (e.g. an OVERLAPPED structure on
	// Windows); it is opaque to this package.
	completion interface{}
}

// newPipeBundle constructs a pipeBundle of the given capacity around an
// already-open endpoint. capacity<=0 means defaultBufferCapacity.
func newPipeBundle(endpoint sysdep.Handle, capacity int) *pipeBundle {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	b := &pipeBundle{endpoint: endpoint}
	b.buf.data = make([]byte, capacity)
	b.pending.Init()
	return b
}

// enqueueWrite appends a caller-owned source buffer to the pending-write
// FIFO. It is a no-op once the bundle is closed. It is not synchronized:
// its only caller is the owning Processor's inbound-request handler, which
// serializes enqueues from concurrent WriteStdin callers (see
// Process.WriteStdin).
func (b *pipeBundle) enqueueWrite(data []byte) {
	if b.closed || len(data) == 0 {
		return
	}
	b.pending.PushBack(&writeSource{data: data})
}

// hasPendingWrites reports whether any enqueued write, or in-flight bytes
// already staged in the direct buffer, remain to be written.
func (b *pipeBundle) hasPendingWrites() bool {
	return b.remainingWrite > 0 || b.pending.Len() > 0
}

// markClosed marks the bundle closed; idempotent.
func (b *pipeBundle) markClosed() {
	b.closed = true
}
