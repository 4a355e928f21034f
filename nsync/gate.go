// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nsync

import "time"

// Gate is a one-shot broadcast signal: Open transitions it permanently from
// closed to open, and any number of goroutines may Wait on it, with or
// without a deadline. It is built directly from Mu and CV rather than a
// channel so that a wait can carry a deadline; the Mu and CV are private
// to the Gate.
type Gate struct {
	mu   Mu
	cv   CV
	open bool
}

// Open marks the gate open and wakes every current and future Wait call.
// Idempotent.
func (g *Gate) Open() {
	g.mu.Lock()
	already := g.open
	g.open = true
	g.mu.Unlock()
	if !already {
		g.cv.Broadcast()
	}
}

// IsOpen reports whether Open has been called.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Wait blocks until the gate is open or, if timeout is positive, until
// timeout elapses. It reports whether the gate was open when Wait
// returned. A non-positive timeout waits indefinitely.
func (g *Gate) Wait(timeout time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if timeout <= 0 {
		for !g.open {
			g.cv.Wait(&g.mu)
		}
		return true
	}
	deadline := time.Now().Add(timeout)
	for !g.open {
		if g.cv.WaitWithDeadline(&g.mu, deadline, nil) != OK {
			return g.open
		}
	}
	return true
}
