// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sysdep is the platform primitives binding (component C1 in
// SPEC_FULL.md): thin, typed access to the OS calls the process and
// processor layers build on — pipe creation, process creation with
// redirected stdio, a kernel readiness/completion multiplexer, signal/wait,
// and handle close. It returns OS errors unchanged to its callers; all
// platform-specific behavior is confined to sysdep_linux.go and
// sysdep_windows.go so that everything above this package can be written
// once against the event shape described in SPEC_FULL.md §4.4/§9.
package sysdep

import "time"

// Handle is an opaque parent-side endpoint identifier: a file descriptor on
// POSIX, a HANDLE on Windows. Both happen to be uintptr-sized, which is all
// callers above this package rely on.
type Handle uintptr

// InvalidHandle is returned by constructors on failure.
const InvalidHandle Handle = ^Handle(0)

// EventKind classifies one readiness/completion event, per the unified
// event shape from SPEC_FULL.md §9:
//
//	{endpoint, kind ∈ {readable, writable, completed-read(n),
//	 completed-write(n), closed}, bytes}
type EventKind int

const (
	// EventReadable means the endpoint is ready for a non-blocking read
	// (POSIX only); the caller must still issue the read itself.
	EventReadable EventKind = iota
	// EventWritable means the endpoint is ready for a non-blocking write
	// (POSIX only); the caller must still issue the write itself.
	EventWritable
	// EventReadComplete means an overlapped read of N bytes has completed
	// (completion-based platforms only); N==0 with no error means EOF.
	EventReadComplete
	// EventWriteComplete means an overlapped write of N bytes has completed
	// (completion-based platforms only).
	EventWriteComplete
	// EventClosed means the endpoint was torn down (error or hang-up) and no
	// further events will be delivered for it.
	EventClosed
	// EventWakeup is a user-posted wakeup with no associated endpoint; used
	// to unblock Multiplexer.Wait from another goroutine (e.g. to deliver a
	// freshly-registered endpoint without waiting out the poll timeout).
	EventWakeup
)

// Event is one readiness or completion notification from Multiplexer.Wait.
type Event struct {
	Handle Handle
	Kind   EventKind
	N      int
	Err    error
}

// Signal identifies a termination request; Destroy(force) in SPEC_FULL.md
// §4.3 maps force=false to SignalTerminate and force=true to SignalKill. On
// completion-based platforms the distinction collapses: both map to the
// same forced termination.
type Signal int

const (
	SignalTerminate Signal = iota
	SignalKill
)

// ProcAttr describes a child process to start, with its three standard
// streams already opened as the child-side ends of pipe bundles.
type ProcAttr struct {
	Path     string
	Argv     []string
	EnvBlock []byte // canonical form from nproc.Canonicalize; platforms decode as needed
	Stdin    Handle
	Stdout   Handle
	Stderr   Handle
}

// Process is the platform's view of a started child: enough to signal,
// reap, and (on completion-based platforms) resume it.
type Process struct {
	Pid    int
	handle Handle // completion-based platforms only; zero/unused on POSIX
}

// Multiplexer is the kernel readiness/completion facility a Processor
// drives: epoll on POSIX, an I/O completion port on Windows.
type Multiplexer interface {
	// Register attaches an endpoint for readiness or completion
	// notification. readInterest/writeInterest are advisory on completion
	// platforms (every handle is associated once, overlapped calls declare
	// direction) and load-bearing on readiness platforms (they set the
	// epoll interest mask).
	Register(h Handle, readInterest, writeInterest bool) error
	// Deregister detaches an endpoint; it is not closed.
	Deregister(h Handle) error
	// Wait blocks for at most timeout for one or more events, or returns an
	// empty slice on timeout. A timeout of zero must not block.
	Wait(timeout time.Duration) ([]Event, error)
	// PostWakeup causes one pending or future Wait call to return an
	// EventWakeup event promptly; safe to call from any goroutine.
	PostWakeup() error
	// Close releases the multiplexer's own kernel resources.
	Close() error
}

// Platform is the full primitive set component C1 exposes.
type Platform interface {
	// OpenPipe creates a unidirectional pipe with both ends inheritable.
	// readEnd is returned for read interest and should be given to the
	// parent's Multiplexer; writeEnd is handed to the child (for stdin,
	// reversed: writeEnd is the parent's).
	OpenPipe() (readEnd, writeEnd Handle, err error)
	// SetNonblocking marks a parent-side endpoint for non-blocking I/O
	// (POSIX); a no-op on completion-based platforms, where non-blocking
	// behavior instead comes from overlapped I/O at the point of the call.
	SetNonblocking(h Handle) error
	// StartProcess launches a child with its stdio redirected per attr; it
	// does not register any endpoint with mux. On fork-based platforms the
	// child execs immediately; on completion-based platforms it is created
	// suspended and must be resumed with Resume.
	StartProcess(attr ProcAttr, mux Multiplexer) (*Process, error)
	// Resume releases a completion-based platform's suspended child; a
	// no-op on fork-based platforms, where the child is already running.
	Resume(p *Process) error
	// Read issues a non-blocking read on h into buf (POSIX readiness
	// model); completion-based platforms instead deliver EventReadComplete
	// via Multiplexer.Wait and never call this.
	Read(h Handle, buf []byte) (n int, eof bool, err error)
	// Write issues a non-blocking write on h from buf (POSIX readiness
	// model); completion-based platforms instead issue the write with
	// PostWrite and receive EventWriteComplete.
	Write(h Handle, buf []byte) (n int, err error)
	// PostRead arms a proactor-style read of h into buf, completing later as
	// an EventReadComplete from Multiplexer.Wait; a no-op returning nil on
	// readiness-based platforms, where reads are instead issued reactively
	// from EventReadable via Read.
	PostRead(h Handle, buf []byte) error
	// PostWrite arms a proactor-style write of h from buf, completing later
	// as an EventWriteComplete; a no-op returning nil on readiness-based
	// platforms.
	PostWrite(h Handle, buf []byte) error
	// Signal sends sig to the process (its whole process group on POSIX).
	Signal(p *Process, sig Signal) error
	// Reap collects the child's exit status. If block is false, it returns
	// exited=false immediately if the child is still running.
	Reap(p *Process, block bool) (code int, exited bool, signaled bool, err error)
	// Close releases a parent-side endpoint.
	Close(h Handle) error
	// NewMultiplexer creates a new kernel multiplexer instance.
	NewMultiplexer() (Multiplexer, error)
}
