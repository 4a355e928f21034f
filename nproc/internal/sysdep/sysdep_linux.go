// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package sysdep

import (
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// linuxPlatform implements Platform with anonymous pipes, non-blocking
// reads/writes, and fork+exec, grounded on the reference pack's own
// Setpgid/Pdeathsig usage for child process-group isolation.
type linuxPlatform struct{}

// New returns the POSIX Platform implementation.
func New() Platform { return linuxPlatform{} }

func (linuxPlatform) OpenPipe() (readEnd, writeEnd Handle, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	return Handle(fds[0]), Handle(fds[1]), nil
}

func (linuxPlatform) SetNonblocking(h Handle) error {
	return unix.SetNonblock(int(h), true)
}

func (linuxPlatform) Read(h Handle, buf []byte) (n int, eof bool, err error) {
	for {
		n, err = unix.Read(int(h), buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		return n, n == 0, nil
	}
}

func (linuxPlatform) Write(h Handle, buf []byte) (n int, err error) {
	for {
		n, err = unix.Write(int(h), buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, nil
		}
		return n, err
	}
}

func (linuxPlatform) StartProcess(attr ProcAttr, mux Multiplexer) (*Process, error) {
	// A nil EnvBlock means the child inherits this process's environment.
	envp := syscall.Environ()
	if attr.EnvBlock != nil {
		envp = decodeEnvBlock(attr.EnvBlock)
	}
	sys := &syscall.SysProcAttr{
		Setpgid:   true,
		Pgid:      0,
		Pdeathsig: syscall.SIGKILL,
	}
	pid, err := syscall.ForkExec(attr.Path, attr.Argv, &syscall.ProcAttr{
		Env:   envp,
		Files: []uintptr{uintptr(attr.Stdin), uintptr(attr.Stdout), uintptr(attr.Stderr)},
		Sys:   sys,
	})
	if err != nil {
		return nil, fmt.Errorf("sysdep: fork/exec %s: %w", attr.Path, err)
	}
	return &Process{Pid: pid}, nil
}

func (linuxPlatform) Resume(*Process) error { return nil }

func (linuxPlatform) Signal(p *Process, sig Signal) error {
	var sysSig syscall.Signal
	switch sig {
	case SignalKill:
		sysSig = syscall.SIGKILL
	default:
		sysSig = syscall.SIGTERM
	}
	// Negative pid targets the whole process group; Setpgid above makes the
	// child its own group leader, so this reaches any of its own children too.
	if err := syscall.Kill(-p.Pid, sysSig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

func (linuxPlatform) Reap(p *Process, block bool) (code int, exited bool, signaled bool, err error) {
	var ws syscall.WaitStatus
	flag := syscall.WNOHANG
	if block {
		flag = 0
	}
	wpid, err := syscall.Wait4(p.Pid, &ws, flag, nil)
	if err != nil {
		if err == syscall.ECHILD {
			// Already reaped by someone else; treat as a clean, unknown exit.
			return 0, true, false, nil
		}
		return 0, false, false, err
	}
	if wpid == 0 {
		return 0, false, false, nil // WNOHANG: still running
	}
	switch {
	case ws.Exited():
		return ws.ExitStatus(), true, false, nil
	case ws.Signaled():
		return -int(ws.Signal()), true, true, nil
	default:
		return 0, false, false, nil
	}
}

func (linuxPlatform) PostRead(Handle, []byte) error  { return nil }
func (linuxPlatform) PostWrite(Handle, []byte) error { return nil }

func (linuxPlatform) Close(h Handle) error {
	return unix.Close(int(h))
}

func decodeEnvBlock(block []byte) []string {
	var out []string
	start := 0
	for i, b := range block {
		if b == 0 {
			if i == start { // the final, empty-string terminator
				break
			}
			out = append(out, string(block[start:i]))
			start = i + 1
		}
	}
	return out
}

// --- epoll multiplexer ---

type epollMux struct {
	epfd int

	// wake is a pipe whose read end is registered with epoll and whose write
	// end is written to by PostWakeup, matching the classic self-pipe trick
	// for waking a readiness-based event loop from another goroutine.
	wakeR, wakeW int
}

func (linuxPlatform) NewMultiplexer() (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	m := &epollMux{epfd: epfd, wakeR: fds[0], wakeW: fds[1]}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, m.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(m.wakeR),
	}); err != nil {
		unix.Close(m.wakeR)
		unix.Close(m.wakeW)
		unix.Close(epfd)
		return nil, err
	}
	return m, nil
}

func epollEvents(readInterest, writeInterest bool) uint32 {
	var ev uint32
	if readInterest {
		ev |= unix.EPOLLIN
	}
	if writeInterest {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (m *epollMux) Register(h Handle, readInterest, writeInterest bool) error {
	return unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, int(h), &unix.EpollEvent{
		Events: epollEvents(readInterest, writeInterest),
		Fd:     int32(h),
	})
}

func (m *epollMux) Deregister(h Handle) error {
	err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, int(h), nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (m *epollMux) Wait(timeout time.Duration) ([]Event, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	var raw [256]unix.EpollEvent
	n, err := unix.EpollWait(m.epfd, raw[:], ms)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == m.wakeR {
			drainWakePipe(m.wakeR)
			events = append(events, Event{Kind: EventWakeup})
			continue
		}
		e := Event{Handle: Handle(fd)}
		// EPOLLIN is checked before EPOLLHUP: a pipe whose writer has exited
		// reports both while unread bytes remain, and those bytes are read
		// (and end-of-stream then observed) through EventReadable.
		switch {
		case raw[i].Events&unix.EPOLLIN != 0:
			e.Kind = EventReadable
		case raw[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0:
			e.Kind = EventClosed
		case raw[i].Events&unix.EPOLLOUT != 0:
			e.Kind = EventWritable
		default:
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func drainWakePipe(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (m *epollMux) PostWakeup() error {
	_, err := unix.Write(m.wakeW, []byte{1})
	if err == unix.EAGAIN {
		return nil // a wakeup is already pending in the pipe buffer
	}
	return err
}

func (m *epollMux) Close() error {
	unix.Close(m.wakeR)
	unix.Close(m.wakeW)
	return unix.Close(m.epfd)
}
