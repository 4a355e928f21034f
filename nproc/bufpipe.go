// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"bytes"
	"io"
	"sync"
)

type bufferedPipe struct {
	cond *sync.Cond
	buf  bytes.Buffer
	err  error
}

// NewBufferedPipe returns a new pipe backed by an unbounded in-memory
// buffer. Writes on the pipe never block; reads on the pipe block until
// data is available. It is the blocking-adapter counterpart to this
// package's callback-based Handler interface; see SyncHandler.
func NewBufferedPipe() io.ReadWriteCloser {
	return newBufferedPipe()
}

func newBufferedPipe() *bufferedPipe {
	return &bufferedPipe{cond: sync.NewCond(&sync.Mutex{})}
}

// Read reads from the pipe, blocking until data is available or the pipe
// is closed.
func (p *bufferedPipe) Read(d []byte) (n int, err error) {
	p.cond.L.Lock()
	defer p.cond.L.Unlock()
	for {
		if p.buf.Len() > 0 {
			return p.buf.Read(d)
		}
		if p.err != nil {
			return 0, p.err
		}
		p.cond.Wait()
	}
}

// Write writes to the pipe; it never blocks.
func (p *bufferedPipe) Write(d []byte) (n int, err error) {
	p.cond.L.Lock()
	defer p.cond.L.Unlock()
	if p.err != nil {
		return 0, io.ErrClosedPipe
	}
	defer p.cond.Signal()
	return p.buf.Write(d)
}

// ReadFrom implements io.ReaderFrom, writing everything r offers into the
// pipe. The read from r happens outside the pipe's lock, so concurrent
// Read/Write calls are never blocked by a slow or blocking r.
func (p *bufferedPipe) ReadFrom(r io.Reader) (n int64, err error) {
	var tmp bytes.Buffer
	n, err = tmp.ReadFrom(r)
	p.cond.L.Lock()
	defer p.cond.L.Unlock()
	if p.err != nil {
		return n, io.ErrClosedPipe
	}
	p.buf.Write(tmp.Bytes())
	p.cond.Signal()
	return n, err
}

// WriteTo implements io.WriterTo, draining the pipe into w until it is
// closed and empty. The write to w happens outside the pipe's lock, so a
// slow or blocking w never stalls a concurrent Write onto the pipe.
func (p *bufferedPipe) WriteTo(w io.Writer) (n int64, err error) {
	for {
		p.cond.L.Lock()
		for p.buf.Len() == 0 && p.err == nil {
			p.cond.Wait()
		}
		if p.buf.Len() == 0 {
			perr := p.err
			p.cond.L.Unlock()
			if perr == io.EOF {
				return n, nil
			}
			return n, perr
		}
		chunk := make([]byte, p.buf.Len())
		copy(chunk, p.buf.Bytes())
		p.buf.Reset()
		p.cond.L.Unlock()

		wn, werr := w.Write(chunk)
		n += int64(wn)
		if werr != nil {
			return n, werr
		}
	}
}

// Close closes the pipe; subsequent reads drain any buffered data then
// return io.EOF, and writes return io.ErrClosedPipe.
func (p *bufferedPipe) Close() error {
	p.cond.L.Lock()
	defer p.cond.L.Unlock()
	if p.err == nil {
		defer p.cond.Signal()
		p.err = io.EOF
	}
	return nil
}
