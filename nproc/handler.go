// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

// Handler is the set of callbacks a caller supplies to Spawn. All methods
// are invoked on the goroutine of the Processor the Process is assigned to;
// none of them may block, since a blocked handler stalls every other
// process sharing that processor. Panics raised by a handler are recovered,
// logged, and otherwise ignored by the processor loop (the handler-threw
// error kind in SPEC_FULL.md §7).
//
// For a given Process: OnStart precedes every other callback; OnExit
// follows every other callback and is delivered exactly once. Two callbacks
// for the same Process never run concurrently.
type Handler interface {
	// OnPreStart is invoked before any pipes are created. A panic here is
	// recovered and logged; the process still proceeds to start.
	OnPreStart(p *Process)
	// OnStart is invoked once the child's pipes are wired and, on POSIX, the
	// child has been exec'd. On completion-based platforms it runs while the
	// child is still suspended; the child is resumed after OnStart returns.
	OnStart(p *Process)
	// OnStdout delivers bytes read from the child's stdout. buf.Unread()
	// is unconsumed; the handler must advance buf past whatever it consumes by
	// calling buf.Advance. closed is true exactly once per process, on the
	// final call, and may carry trailing bytes alongside it.
	OnStdout(p *Process, buf *Buffer, closed bool)
	// OnStderr is OnStdout's counterpart for the child's stderr stream.
	OnStderr(p *Process, buf *Buffer, closed bool)
	// OnStdinReady is invoked when stdin is writable and the processor has no
	// queued writes left to drain. The handler must fill buf from position 0
	// (via buf.Fill) and return true to be invoked again the next time stdin
	// is writable, or false to stop being invoked until WantWrite is called
	// again. Calling p.WantWrite from within OnStdinReady is equivalent to
	// returning true.
	OnStdinReady(p *Process, buf *Buffer) bool
	// OnExit is invoked exactly once, after every other callback for this
	// process has returned, once the process has reached its terminal state.
	OnExit(p *Process, code int, cause ExitCause)
}

// NopHandler implements Handler with no-op methods; embed it to avoid
// implementing callbacks a caller doesn't care about.
type NopHandler struct{}

func (NopHandler) OnPreStart(*Process)                {}
func (NopHandler) OnStart(*Process)                   {}
func (NopHandler) OnStdout(*Process, *Buffer, bool)   {}
func (NopHandler) OnStderr(*Process, *Buffer, bool)   {}
func (NopHandler) OnStdinReady(*Process, *Buffer) bool { return false }
func (NopHandler) OnExit(*Process, int, ExitCause)    {}

// Buffer wraps the pipe bundle's fixed-capacity direct buffer handed to
// handlers. It is only valid for the duration of the callback it was passed
// to; the underlying storage is reused (and its contents invalidated) on
// the next call.
type Buffer struct {
	data []byte
	pos  int
	lim  int
}

// Data returns the full backing slice; valid bytes are in [Pos, Limit).
func (b *Buffer) Data() []byte { return b.data }

// Pos returns the current read/write position.
func (b *Buffer) Pos() int { return b.pos }

// Limit returns the index one past the last valid byte.
func (b *Buffer) Limit() int { return b.lim }

// Unread returns the unconsumed slice [Pos, Limit).
func (b *Buffer) Unread() []byte { return b.data[b.pos:b.lim] }

// Advance moves Pos forward by n bytes, marking them consumed. It panics if
// n would move Pos past Limit.
func (b *Buffer) Advance(n int) {
	if b.pos+n > b.lim {
		panic("nproc: Buffer.Advance past limit")
	}
	b.pos += n
}

// Fill copies p into the buffer starting at position 0 and sets Limit to
// len(p); used by OnStdinReady. It panics if p is longer than the buffer's
// capacity.
func (b *Buffer) Fill(p []byte) {
	if len(p) > len(b.data) {
		panic("nproc: Buffer.Fill exceeds capacity")
	}
	n := copy(b.data, p)
	b.pos = 0
	b.lim = n
}

func (b *Buffer) reset(lim int) {
	b.pos = 0
	b.lim = lim
}

// compact removes consumed bytes, shifting [Pos, Limit) to the front so a
// subsequent read can append after the unconsumed remainder. It returns the
// number of bytes still unconsumed.
func (b *Buffer) compact() int {
	n := b.lim - b.pos
	if b.pos > 0 && n > 0 {
		copy(b.data, b.data[b.pos:b.lim])
	}
	b.pos = 0
	b.lim = n
	return n
}
