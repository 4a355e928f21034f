// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nproc spawns child processes and multiplexes their stdin, stdout
// and stderr over a small, fixed pool of I/O threads.
//
// Unlike os/exec, which dedicates goroutines (and, under the hood, kernel
// threads blocked in read/write) to every spawned process, nproc registers
// each child's pipes with a per-processor kernel readiness or completion
// multiplexer (epoll on POSIX, I/O completion ports on Windows) and drains
// them from a fixed-size pool of event-loop threads. This keeps per-process
// overhead low when callers spawn hundreds or thousands of concurrent
// children.
//
// Callers interact with a spawned process entirely through a Handler: there
// is no blocking Read that returns bytes. See Handler and Spawn.
package nproc
