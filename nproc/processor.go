// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"sync"
	"sync/atomic"
	"time"

	"v.io/x/process/nproc/internal/sysdep"
)

// defaultPollTimeout bounds how long one loop iteration's multiplexer wait
// may block; it is the upper limit on how stale the inbound request queue
// and exit-polling checks can be.
const defaultPollTimeout = 100 * time.Millisecond

// softExitPollTimeout is used instead of defaultPollTimeout once at least
// one assigned process has both output streams closed but has not yet been
// confirmed exited by the platform's wait call, tightening the race the
// soft-exit heuristic exists to shorten.
const softExitPollTimeout = 2 * time.Millisecond

type requestKind int

const (
	reqWantWrite requestKind = iota
	reqEnqueueWrite
	reqCloseStdin
	reqDestroy
	reqRegister
)

// procRequest is one inbound request submitted to a processor from any
// goroutine; the processor's own goroutine is the only one that ever acts
// on the table, bundles, or multiplexer these describe.
type procRequest struct {
	kind  requestKind
	proc  *Process
	data  []byte
	force bool
}

// endpointEntry identifies which process and stream an endpoint handle
// belongs to, so an event can be routed back to its owner in O(1).
type endpointEntry struct {
	proc   *Process
	stream streamKind
}

// processor is one single-threaded event loop (component C4): it owns one
// kernel multiplexer and a subset of the pool's processes, and is the only
// goroutine that ever touches their pipe bundles once assigned.
type processor struct {
	platform sysdep.Platform
	mux      sysdep.Multiplexer
	cfg      Config

	inbound chan procRequest

	mu      sync.Mutex
	procs   map[*Process]struct{}
	running bool

	endpoints map[sysdep.Handle]endpointEntry

	started chan struct{}
}

func newProcessor(platform sysdep.Platform, cfg Config) (*processor, error) {
	mux, err := platform.NewMultiplexer()
	if err != nil {
		return nil, err
	}
	return &processor{
		platform:  platform,
		mux:       mux,
		cfg:       cfg,
		inbound:   make(chan procRequest, 256),
		procs:     make(map[*Process]struct{}),
		endpoints: make(map[sysdep.Handle]endpointEntry),
		started:   make(chan struct{}),
	}, nil
}

// submit enqueues a request, then starts the processor's goroutine if it
// is not already running. Enqueuing first means a loop deciding to go idle
// either still sees the request or has already cleared running, in which
// case ensureStarted starts a fresh loop that drains it.
func (pr *processor) submit(req procRequest) {
	pr.inbound <- req
	pr.ensureStarted()
}

// ensureStarted lazily starts the loop goroutine at most once per idle
// period, synchronizing with the caller through a one-shot barrier so
// OnStart always observes a running loop, per this package's pool model.
func (pr *processor) ensureStarted() {
	pr.mu.Lock()
	if pr.running {
		pr.mu.Unlock()
		return
	}
	pr.running = true
	pr.started = make(chan struct{})
	started := pr.started
	pr.mu.Unlock()
	go pr.run(started)
	<-started
}

// attach registers a freshly-started process's endpoints with this
// processor. Called from the goroutine that called start, before OnStart.
func (pr *processor) attach(p *Process) {
	pr.submit(procRequest{kind: reqRegister, proc: p})
}

func (pr *processor) run(started chan struct{}) {
	close(started)
	timeout := defaultPollTimeout
	for {
		pr.drainInbound()

		events, err := pr.mux.Wait(timeout)
		if err != nil {
			log.Errorf("nproc: multiplexer wait: %v", err)
		}
		for _, ev := range events {
			pr.dispatch(ev)
		}

		softCandidate := pr.pollExits()

		pr.mu.Lock()
		empty := len(pr.procs) == 0 && len(pr.inbound) == 0
		if empty {
			pr.running = false
		}
		pr.mu.Unlock()
		if empty {
			return
		}
		if softCandidate && pr.cfg.SoftExitDetection {
			timeout = softExitPollTimeout
		} else {
			timeout = defaultPollTimeout
		}
	}
}

func (pr *processor) drainInbound() {
	for {
		select {
		case req := <-pr.inbound:
			pr.handleRequest(req)
		default:
			return
		}
	}
}

func (pr *processor) handleRequest(req procRequest) {
	switch req.kind {
	case reqRegister:
		pr.register(req.proc)
	case reqWantWrite:
		pr.armStdin(req.proc)
	case reqEnqueueWrite:
		p := req.proc
		p.mu.Lock()
		b := p.stdin
		p.mu.Unlock()
		if b == nil {
			return
		}
		b.enqueueWrite(req.data)
		pr.armStdin(p)
	case reqCloseStdin:
		pr.closeStdin(req.proc)
	case reqDestroy:
		pr.destroy(req.proc, req.force)
	}
}

func (pr *processor) register(p *Process) {
	p.mu.Lock()
	pr.mu.Lock()
	pr.procs[p] = struct{}{}
	pr.endpoints[p.stdout.endpoint] = endpointEntry{p, streamStdout}
	pr.endpoints[p.stderr.endpoint] = endpointEntry{p, streamStderr}
	pr.mu.Unlock()
	p.mu.Unlock()

	pr.mux.Register(p.stdout.endpoint, true, false)
	pr.mux.Register(p.stderr.endpoint, true, false)
	pr.platform.PostRead(p.stdout.endpoint, p.stdout.buf.data)
	pr.platform.PostRead(p.stderr.endpoint, p.stderr.buf.data)
}

func (pr *processor) armStdin(p *Process) {
	p.mu.Lock()
	b := p.stdin
	p.mu.Unlock()
	if b == nil {
		return
	}
	if b.registered {
		return
	}
	wants := atomic.LoadInt32(&p.userWantsWrite) == 1
	if !wants && !b.hasPendingWrites() {
		return
	}
	b.registered = true
	pr.mu.Lock()
	pr.endpoints[b.endpoint] = endpointEntry{p, streamStdin}
	pr.mu.Unlock()
	pr.mux.Register(b.endpoint, false, true)

	// On a readiness platform the pipe is already writable most of the
	// time, so this primes the pipeline: if there is nothing queued it's
	// a no-op, and otherwise the actual write happens on the next
	// EventWritable. On a completion platform nothing will ever fire
	// unless a write is posted here, since Register alone only
	// associates the handle with the port.
	pr.driveWrite(p, sysdep.Event{Kind: sysdep.EventWritable, Handle: b.endpoint})
}

func (pr *processor) disarmStdin(p *Process, b *pipeBundle) {
	if !b.registered {
		return
	}
	b.registered = false
	pr.mux.Deregister(b.endpoint)
	pr.mu.Lock()
	delete(pr.endpoints, b.endpoint)
	pr.mu.Unlock()
}

func (pr *processor) closeStdin(p *Process) {
	p.mu.Lock()
	b := p.stdin
	p.stdin = nil
	p.mu.Unlock()
	if b == nil {
		return
	}
	pr.disarmStdin(p, b)
	b.markClosed()
	pr.platform.Close(b.endpoint)
}

func (pr *processor) destroy(p *Process, force bool) {
	p.mu.Lock()
	sysProc := p.sysProc
	p.mu.Unlock()
	if sysProc == nil {
		return
	}
	atomic.StoreInt32(&p.destroyRequested, 1)
	sig := sysdep.SignalTerminate
	if force {
		sig = sysdep.SignalKill
	}
	if err := pr.platform.Signal(sysProc, sig); err != nil {
		log.Errorf("nproc: signal pid %d: %v", sysProc.Pid, err)
	}
}

func (pr *processor) dispatch(ev sysdep.Event) {
	if ev.Kind == sysdep.EventWakeup {
		return
	}
	pr.mu.Lock()
	entry, ok := pr.endpoints[ev.Handle]
	pr.mu.Unlock()
	if !ok {
		return
	}
	switch entry.stream {
	case streamStdout:
		pr.driveRead(entry.proc, entry.proc.stdout, false, ev)
	case streamStderr:
		pr.driveRead(entry.proc, entry.proc.stderr, true, ev)
	case streamStdin:
		pr.driveWrite(entry.proc, ev)
	}
}

// driveRead implements §4.4's readable-stdout/stderr dispatch step for
// both platform dialects: on readiness platforms it performs the
// non-blocking read itself; on completion platforms the bytes (and EOF
// indication) have already been delivered by the event.
func (pr *processor) driveRead(p *Process, b *pipeBundle, isStderr bool, ev sysdep.Event) {
	if b == nil || b.closed {
		return
	}
	var n int
	var eof bool
	var err error
	switch ev.Kind {
	case sysdep.EventReadable:
		n, eof, err = pr.platform.Read(b.endpoint, b.buf.data[b.buf.lim:])
		if err != nil {
			pr.teardownReadEndpoint(p, b, isStderr, true)
			return
		}
	case sysdep.EventReadComplete:
		n = ev.N
		eof = ev.N == 0 && ev.Err == nil
	case sysdep.EventClosed:
		pr.teardownReadEndpoint(p, b, isStderr, true)
		return
	default:
		return
	}
	if n == 0 && !eof {
		if ev.Kind == sysdep.EventReadComplete {
			pr.platform.PostRead(b.endpoint, b.buf.data)
		}
		return
	}
	b.buf.lim += n

	if isStderr && n > 0 {
		p.mu.Lock()
		tail := p.stderrTail
		p.mu.Unlock()
		if tail != nil {
			tail.Append(b.buf.data[b.buf.lim-n : b.buf.lim])
		}
	}

	h := p.currentHandler()
	if isStderr {
		p.safeCall(func() { h.OnStderr(p, &b.buf, eof) })
	} else {
		p.safeCall(func() { h.OnStdout(p, &b.buf, eof) })
	}
	remaining := b.buf.compact()
	if remaining == len(b.buf.data) {
		log.Errorf("nproc: pid %d handler did not consume %s buffer", p.Pid(), streamName(isStderr))
		pr.killForHandlerFault(p)
		return
	}
	if eof {
		pr.teardownReadEndpoint(p, b, isStderr, false)
		return
	}
	if ev.Kind == sysdep.EventReadComplete {
		pr.platform.PostRead(b.endpoint, b.buf.data[b.buf.lim:])
	}
}

func streamName(isStderr bool) string {
	if isStderr {
		return "stderr"
	}
	return "stdout"
}

func (pr *processor) teardownReadEndpoint(p *Process, b *pipeBundle, isStderr, kernelError bool) {
	if b.closed {
		return
	}
	b.markClosed()
	pr.mux.Deregister(b.endpoint)
	pr.mu.Lock()
	delete(pr.endpoints, b.endpoint)
	pr.mu.Unlock()
	pr.platform.Close(b.endpoint)

	h := p.currentHandler()
	if kernelError {
		empty := b.buf.data[:0]
		buf := Buffer{data: empty}
		if isStderr {
			p.safeCall(func() { h.OnStderr(p, &buf, true) })
		} else {
			p.safeCall(func() { h.OnStdout(p, &buf, true) })
		}
	}
}

func (pr *processor) killForHandlerFault(p *Process) {
	p.mu.Lock()
	sysProc := p.sysProc
	p.mu.Unlock()
	if sysProc != nil {
		pr.platform.Signal(sysProc, sysdep.SignalKill)
	}
	pr.finalizeExit(p, HandlerFaultCode, ExitCauseForced)
}

// driveWrite implements the write pipeline from §4.4, dispatching on
// ev.Kind exactly as driveRead does: a readiness platform reports
// EventWritable and the write itself is performed here via Write; a
// completion platform reports EventWriteComplete once the bytes already
// posted via PostWrite have actually left the kernel, and the next
// chunk (if any) is posted rather than written.
func (pr *processor) driveWrite(p *Process, ev sysdep.Event) {
	p.mu.Lock()
	b := p.stdin
	p.mu.Unlock()
	if b == nil {
		return
	}

	switch ev.Kind {
	case sysdep.EventWriteComplete:
		b.writeOffset += ev.N
		b.remainingWrite -= ev.N
	case sysdep.EventClosed:
		pr.disarmStdin(p, b)
		return
	case sysdep.EventWritable:
		// handled below, either by writing directly (readiness) or by
		// posting the next chunk (completion, including the initial arm).
	default:
		return
	}

	if b.remainingWrite > 0 {
		if ev.Kind == sysdep.EventWriteComplete {
			// A completion platform reported a short write; re-post the
			// remainder rather than trying a synchronous Write.
			if err := pr.platform.PostWrite(b.endpoint, b.buf.data[b.writeOffset:b.writeOffset+b.remainingWrite]); err != nil {
				pr.disarmStdin(p, b)
			}
			return
		}
		n, err := pr.writeOnce(b)
		if err != nil {
			pr.disarmStdin(p, b)
			return
		}
		b.writeOffset += n
		b.remainingWrite -= n
		return
	}

	if front := b.pending.Front(); front != nil {
		src := front.Value.(*writeSource)
		n := copy(b.buf.data, src.data[src.pos:])
		src.pos += n
		b.writeOffset = 0
		b.remainingWrite = n
		if src.pos >= len(src.data) {
			b.pending.Remove(front)
		}
		pr.postNextWrite(p, b)
		return
	}

	if atomic.LoadInt32(&p.userWantsWrite) == 1 {
		atomic.StoreInt32(&p.userWantsWrite, 0)
		b.buf.reset(0)
		h := p.currentHandler()
		var again bool
		p.safeCall(func() { again = h.OnStdinReady(p, &b.buf) })
		if again {
			atomic.StoreInt32(&p.userWantsWrite, 1)
		}
		b.writeOffset = 0
		b.remainingWrite = b.buf.lim
		pr.postNextWrite(p, b)
		return
	}

	pr.disarmStdin(p, b)
}

// postNextWrite kicks off the chunk just staged in b.buf. On a readiness
// platform PostWrite is a no-op and the actual write happens the next
// time the endpoint reports EventWritable (which it will immediately,
// since the pipe was already registered for write interest). On a
// completion platform this is what actually starts the I/O.
func (pr *processor) postNextWrite(p *Process, b *pipeBundle) {
	if b.remainingWrite == 0 {
		return
	}
	if err := pr.platform.PostWrite(b.endpoint, b.buf.data[b.writeOffset:b.writeOffset+b.remainingWrite]); err != nil {
		pr.disarmStdin(p, b)
	}
}

func (pr *processor) writeOnce(b *pipeBundle) (int, error) {
	data := b.buf.data[b.writeOffset : b.writeOffset+b.remainingWrite]
	return pr.platform.Write(b.endpoint, data)
}

// syncPendingWrites reports whether a stdin bundle has anything left to
// write; called from WaitFor-adjacent callers on the Process's own
// goroutine, so it is safe to read without going through the inbound
// queue (a plain data race would only ever understate pending writes by
// one loop iteration, acceptable for this advisory query).
func (pr *processor) syncPendingWrites(b *pipeBundle) bool {
	return b.hasPendingWrites()
}

// pollExits reaps terminated children and reports whether any remaining
// process is a soft-exit candidate (both output streams closed, OS exit
// not yet confirmed).
func (pr *processor) pollExits() (softCandidate bool) {
	pr.mu.Lock()
	procs := make([]*Process, 0, len(pr.procs))
	for p := range pr.procs {
		procs = append(procs, p)
	}
	pr.mu.Unlock()

	for _, p := range procs {
		p.mu.Lock()
		sysProc := p.sysProc
		stdoutClosed := p.stdout == nil || p.stdout.closed
		stderrClosed := p.stderr == nil || p.stderr.closed
		p.mu.Unlock()
		if sysProc == nil {
			continue
		}
		// The child is reaped only once both output streams have delivered
		// end-of-stream, or Destroy was requested, so that OnExit never
		// precedes the final OnStdout/OnStderr call.
		if !(stdoutClosed && stderrClosed) && atomic.LoadInt32(&p.destroyRequested) == 0 {
			continue
		}
		code, exited, signaled, err := pr.platform.Reap(sysProc, false)
		if err != nil {
			log.Errorf("nproc: reap pid %d: %v", sysProc.Pid, err)
			continue
		}
		if exited {
			cause := ExitCauseNormal
			switch {
			case atomic.LoadInt32(&p.destroyRequested) == 1:
				cause = ExitCauseForced
			case signaled:
				cause = ExitCauseSignaled
			}
			pr.finalizeExit(p, code, cause)
			continue
		}
		if stdoutClosed && stderrClosed {
			softCandidate = true
		}
	}
	return softCandidate
}

// finalizeExit tears down a process's remaining endpoints and removes it
// from this processor before delivering OnExit.
func (pr *processor) finalizeExit(p *Process, code int, cause ExitCause) {
	p.mu.Lock()
	stdin, stdout, stderr := p.stdin, p.stdout, p.stderr
	p.stdin, p.stdout, p.stderr = nil, nil, nil
	p.mu.Unlock()

	pr.mu.Lock()
	delete(pr.procs, p)
	for _, b := range []*pipeBundle{stdin, stdout, stderr} {
		if b != nil {
			delete(pr.endpoints, b.endpoint)
		}
	}
	pr.mu.Unlock()

	for _, b := range []*pipeBundle{stdin, stdout, stderr} {
		if b == nil || b.closed {
			continue
		}
		if b.registered {
			pr.mux.Deregister(b.endpoint)
		}
		b.markClosed()
		pr.platform.Close(b.endpoint)
	}

	p.finishExit(code, cause)
}
