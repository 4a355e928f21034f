// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"v.io/x/process/nproc/internal/sysdep"
	"v.io/x/process/nsync"
)

// state is a Process's position in the NEW -> STARTING -> RUNNING -> EXITED
// lifecycle described by this package's process model.
type state int32

const (
	stateNew state = iota
	stateStarting
	stateRunning
	stateExited
)

// streamKind identifies which of a Process's three pipe bundles an
// endpoint or event belongs to.
type streamKind int

const (
	streamStdin streamKind = iota
	streamStdout
	streamStderr
)

// Process is one spawned child: its pipe bundles, its handler, and the
// state machine described by this package's data model. All mutation of a
// Process's I/O state happens on the goroutine of its assigned processor;
// the methods below that are safe to call from any goroutine communicate
// with that goroutine through its inbound request queue instead of
// touching shared state directly.
type Process struct {
	platform sysdep.Platform

	path string
	argv []string
	env  []byte // canonical form from Canonicalize; nil means inherit the parent's environment

	mu        sync.Mutex
	state     state
	handler   Handler
	sysProc   *sysdep.Process
	exitCode  int
	exitCause ExitCause

	stdin  *pipeBundle
	stdout *pipeBundle
	stderr *pipeBundle

	// stderrTail mirrors the last stderrTailCapacity bytes of the child's
	// stderr independently of whatever the handler does with it, so an
	// abnormal exit can be logged with useful context even when the
	// handler discards or never sees the output (e.g. a spawn that starts
	// but whose handler panics before ever reading stderr).
	stderrTail *ringBuffer

	userWantsWrite   int32 // atomic bool
	destroyRequested int32 // atomic bool; set by processor.destroy

	exitGate nsync.Gate

	proc *processor // assigned processor; immutable after start
}

// newProcess constructs a Process in state NEW. handler may be nil, in
// which case NopHandler is used.
func newProcess(platform sysdep.Platform, path string, argv []string, env []byte, handler Handler) *Process {
	if handler == nil {
		handler = NopHandler{}
	}
	return &Process{
		platform: platform,
		path:     path,
		argv:     argv,
		env:      env,
		handler:  handler,
	}
}

// Pid returns the OS process identifier. It is valid once the child has
// been started (state RUNNING); before that, and after a failed spawn, it
// returns 0.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sysProc == nil {
		return 0
	}
	return p.sysProc.Pid
}

// IsRunning reports whether the process is in state RUNNING.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateRunning
}

// SetProcessHandler replaces the handler invoked for future callbacks.
// Safe to call from any goroutine; it takes effect no later than the next
// callback dispatch.
func (p *Process) SetProcessHandler(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Process) currentHandler() Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

// HasPendingWrites reports whether stdin has enqueued source buffers or
// in-flight bytes still to be written.
func (p *Process) HasPendingWrites() bool {
	p.mu.Lock()
	b := p.stdin
	p.mu.Unlock()
	if b == nil {
		return false
	}
	return p.proc.syncPendingWrites(b)
}

// WantWrite asserts that the caller wants onStdinReady invoked the next
// time stdin is writable. It has no effect if stdin is closed, and
// coalesces with any outstanding want-write request.
func (p *Process) WantWrite() {
	if atomic.SwapInt32(&p.userWantsWrite, 1) == 1 {
		return
	}
	p.proc.submit(procRequest{kind: reqWantWrite, proc: p})
}

// WriteStdin enqueues data for writing to the child's stdin. Enqueues from
// concurrent callers are serialized in FIFO order. It returns
// ErrStdinClosed if stdin has already been closed.
func (p *Process) WriteStdin(data []byte) error {
	p.mu.Lock()
	closed := p.stdin == nil
	p.mu.Unlock()
	if closed {
		return ErrStdinClosed
	}
	if len(data) == 0 {
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	p.proc.submit(procRequest{kind: reqEnqueueWrite, proc: p, data: cp})
	return nil
}

// CloseStdin marks stdin closed and asks the owning processor to close the
// endpoint. Idempotent.
func (p *Process) CloseStdin() error {
	p.proc.submit(procRequest{kind: reqCloseStdin, proc: p})
	return nil
}

// Destroy asynchronously requests termination of the child. force=true
// issues an unconditional kill; force=false issues a polite terminate
// request. It returns immediately; observe the result via WaitFor or the
// handler's OnExit callback.
func (p *Process) Destroy(force bool) {
	p.proc.submit(procRequest{kind: reqDestroy, proc: p, force: force})
}

// WaitFor blocks until the process reaches its terminal state or timeout
// elapses, whichever comes first. timeout<=0 waits forever. If the
// timeout elapses first, it returns (TimeoutCode, ExitCauseNormal) without
// the process having exited.
func (p *Process) WaitFor(timeout time.Duration) (code int, cause ExitCause) {
	if !p.exitGate.Wait(timeout) {
		return TimeoutCode, ExitCauseNormal
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exitCause
}

// start runs the startup algorithm: open three pipes, launch the child,
// assign it to a processor, and invoke onPreStart/onStart. Any failure
// transitions the process directly to EXITED with ExitCauseSpawnFailed.
func (p *Process) start(pr *processor) {
	p.proc = pr
	h := p.currentHandler()
	p.safeCall(func() { h.OnPreStart(p) })

	p.mu.Lock()
	p.state = stateStarting
	p.mu.Unlock()

	stdinR, stdinW, err := p.platform.OpenPipe()
	if err != nil {
		p.failSpawn(fmt.Errorf("nproc: open stdin pipe: %w", err))
		return
	}
	stdoutR, stdoutW, err := p.platform.OpenPipe()
	if err != nil {
		p.platform.Close(stdinR)
		p.platform.Close(stdinW)
		p.failSpawn(fmt.Errorf("nproc: open stdout pipe: %w", err))
		return
	}
	stderrR, stderrW, err := p.platform.OpenPipe()
	if err != nil {
		p.platform.Close(stdinR)
		p.platform.Close(stdinW)
		p.platform.Close(stdoutR)
		p.platform.Close(stdoutW)
		p.failSpawn(fmt.Errorf("nproc: open stderr pipe: %w", err))
		return
	}

	p.platform.SetNonblocking(stdinW)
	p.platform.SetNonblocking(stdoutR)
	p.platform.SetNonblocking(stderrR)

	attr := sysdep.ProcAttr{
		Path:     p.path,
		Argv:     p.argv,
		EnvBlock: p.env,
		Stdin:    stdinR,
		Stdout:   stdoutW,
		Stderr:   stderrW,
	}
	sysProc, err := p.platform.StartProcess(attr, pr.mux)
	// The child-side ends are always closed in the parent once the child
	// has (or hasn't) inherited them.
	p.platform.Close(stdinR)
	p.platform.Close(stdoutW)
	p.platform.Close(stderrW)
	if err != nil {
		p.platform.Close(stdinW)
		p.platform.Close(stdoutR)
		p.platform.Close(stderrR)
		p.failSpawn(fmt.Errorf("nproc: start %s: %w", p.path, err))
		return
	}

	p.mu.Lock()
	p.sysProc = sysProc
	p.stdin = newPipeBundle(stdinW, defaultBufferCapacity)
	p.stdout = newPipeBundle(stdoutR, defaultBufferCapacity)
	p.stderr = newPipeBundle(stderrR, defaultBufferCapacity)
	p.stderrTail = newRingBuffer(stderrTailCapacity)
	p.state = stateRunning
	p.mu.Unlock()

	pr.attach(p)
	p.safeCall(func() { h.OnStart(p) })

	if err := p.platform.Resume(sysProc); err != nil {
		log.Errorf("nproc: resume %s (pid %d): %v", p.path, sysProc.Pid, err)
	}
}

func (p *Process) failSpawn(err error) {
	log.Errorf("%v", err)
	p.mu.Lock()
	p.state = stateExited
	p.exitCode = SpawnFailedCode
	p.exitCause = ExitCauseSpawnFailed
	h := p.handler
	p.mu.Unlock()
	p.exitGate.Open()
	p.safeCall(func() { h.OnExit(p, SpawnFailedCode, ExitCauseSpawnFailed) })
}

// stderrTailCapacity bounds how much trailing stderr finishExit logs for an
// abnormal exit.
const stderrTailCapacity = 4096

// finishExit performs the terminal transition: it is always called on the
// owning processor's goroutine.
func (p *Process) finishExit(code int, cause ExitCause) {
	p.mu.Lock()
	if p.state == stateExited {
		p.mu.Unlock()
		return
	}
	p.state = stateExited
	p.exitCode = code
	p.exitCause = cause
	h := p.handler
	tail := p.stderrTail
	pid := 0
	if p.sysProc != nil {
		pid = p.sysProc.Pid
	}
	p.mu.Unlock()
	if cause != ExitCauseNormal && tail != nil {
		if s := tail.String(); s != "" {
			log.Errorf("nproc: pid %d exited abnormally (cause=%v code=%d), last stderr: %q", pid, cause, code, s)
		}
	}
	p.exitGate.Open()
	p.safeCall(func() { h.OnExit(p, code, cause) })
}

// safeCall invokes a handler callback, recovering and logging any panic so
// a misbehaving handler never takes down the processor loop.
func (p *Process) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("nproc: handler panic for pid %d: %v", p.Pid(), r)
		}
	}()
	fn()
}
