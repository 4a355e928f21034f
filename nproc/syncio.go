// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import "io"

// SyncHandler adapts the callback-based Handler interface to blocking
// io.Reader semantics, for callers that would rather read a child's stdout
// and stderr synchronously than implement OnStdout/OnStderr directly. It
// embeds NopHandler for the callbacks it doesn't customize; OnStdinReady is
// still the caller's to implement if it wants to drive stdin.
type SyncHandler struct {
	NopHandler
	stdout io.ReadWriteCloser
	stderr io.ReadWriteCloser
}

// NewSyncHandler returns a Handler whose Stdout and Stderr readers deliver
// the child's output synchronously, backed by unbounded in-memory pipes:
// writes performed from OnStdout/OnStderr never block the owning
// processor, and reads from Stdout/Stderr block until data, or the
// stream's EOF, is available.
func NewSyncHandler() *SyncHandler {
	return &SyncHandler{
		stdout: NewBufferedPipe(),
		stderr: NewBufferedPipe(),
	}
}

// Stdout returns a reader yielding the child's stdout bytes in order,
// returning io.EOF once the stream closes.
func (s *SyncHandler) Stdout() io.Reader { return s.stdout }

// Stderr is Stdout's counterpart for the child's stderr stream.
func (s *SyncHandler) Stderr() io.Reader { return s.stderr }

func (s *SyncHandler) OnStdout(p *Process, buf *Buffer, closed bool) {
	s.stdout.Write(buf.Unread())
	buf.Advance(len(buf.Unread()))
	if closed {
		s.stdout.Close()
	}
}

func (s *SyncHandler) OnStderr(p *Process, buf *Buffer, closed bool) {
	s.stderr.Write(buf.Unread())
	buf.Advance(len(buf.Unread()))
	if closed {
		s.stderr.Close()
	}
}

func (s *SyncHandler) OnExit(p *Process, code int, cause ExitCause) {
	s.stdout.Close()
	s.stderr.Close()
}
