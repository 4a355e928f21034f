// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"v.io/x/process/nproc/internal/sysdep"
)

// Pool is a fixed-size set of processors (component C5): Spawn assigns
// each new Process to one of them in strict round-robin order. A Pool is
// safe for concurrent use.
type Pool struct {
	platform sysdep.Platform
	cfg      Config

	mu   sync.Mutex
	next int
	procs []*processor
}

// NewPool creates a Pool sized per cfg.Threads (0 meaning the package
// default of max(1, cores/2)). It does not start any processor goroutines;
// those start lazily on first assignment.
func NewPool(cfg Config) (*Pool, error) {
	platform := sysdep.New()
	n := resolveThreads(cfg.Threads)
	procs := make([]*processor, n)
	for i := range procs {
		pr, err := newProcessor(platform, cfg)
		if err != nil {
			return nil, err
		}
		procs[i] = pr
	}
	p := &Pool{platform: platform, cfg: cfg, procs: procs}
	if cfg.EnableShutdownHook {
		notifyShutdownOnce.Do(func() { installShutdownHook() })
		registerPoolForShutdown(p)
	}
	return p, nil
}

// Spawn starts path with argv (argv[0] is conventionally path's basename)
// and env (nil to inherit the calling process's environment), assigning it
// to the next processor in round-robin order.
func (p *Pool) Spawn(path string, argv []string, env []byte, handler Handler) *Process {
	proc := newProcess(p.platform, path, argv, env, handler)
	proc.start(p.assign())
	return proc
}

func (p *Pool) assign() *processor {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr := p.procs[p.next]
	p.next = (p.next + 1) % len(p.procs)
	return pr
}

// defaultPool is the package-level Pool used by Spawn; it is created
// lazily on first use so that importing this package never starts
// goroutines or installs signal handlers by itself.
var (
	defaultPoolOnce sync.Once
	defaultPool     *Pool
	defaultPoolErr  error
)

func getDefaultPool() (*Pool, error) {
	defaultPoolOnce.Do(func() {
		defaultPool, defaultPoolErr = NewPool(ConfigFromEnv())
	})
	return defaultPool, defaultPoolErr
}

// --- process-wide shutdown hook ---

var (
	notifyShutdownOnce sync.Once
	shutdownMu         sync.Mutex
	shutdownPools      []*Pool
)

func registerPoolForShutdown(p *Pool) {
	shutdownMu.Lock()
	shutdownPools = append(shutdownPools, p)
	shutdownMu.Unlock()
}

// installShutdownHook arranges for every registered Pool's processors to
// be asked to terminate their children when the process receives SIGINT
// or SIGTERM; it does not itself call os.Exit, leaving that to the
// caller's own signal handling or default disposition.
func installShutdownHook() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		shutdownMu.Lock()
		pools := append([]*Pool(nil), shutdownPools...)
		shutdownMu.Unlock()
		for _, p := range pools {
			p.destroyAll()
		}
	}()
}

// destroyAll asks every live process across this pool's processors to
// terminate; it does not wait for them to exit.
func (p *Pool) destroyAll() {
	for _, pr := range p.procs {
		pr.mu.Lock()
		procs := make([]*Process, 0, len(pr.procs))
		for proc := range pr.procs {
			procs = append(procs, proc)
		}
		pr.mu.Unlock()
		for _, proc := range procs {
			proc.Destroy(true)
		}
	}
}
