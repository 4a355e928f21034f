// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import "errors"

// Error kinds returned or logged by this package; see SPEC_FULL.md §7.
var (
	// ErrStdinClosed is returned by WriteStdin once stdin has been closed via
	// CloseStdin or because the process exited. WantWrite returns no error.
	ErrStdinClosed = errors.New("nproc: stdin closed")
	// ErrNotRunning names the "process not running" condition. No function
	// in this package returns it.
	ErrNotRunning = errors.New("nproc: process not running")
	// ErrAlreadyStarted names the "process already started" condition. No
	// function in this package returns it; a Process is started exactly once,
	// by Pool.Spawn.
	ErrAlreadyStarted = errors.New("nproc: process already started")
	// ErrPoolClosed names the "processor pool closed" condition. No function
	// in this package returns it; a Pool has no shutdown operation.
	ErrPoolClosed = errors.New("nproc: processor pool closed")
	// errHandlerDidNotConsume names the handler-did-not-consume error kind.
	// It is not referenced by the processor, which logs its own message and
	// reports the exit as HandlerFaultCode with ExitCauseForced.
	errHandlerDidNotConsume = errors.New("nproc: handler did not consume buffer")
)
