// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"os"
	"runtime"
	"strconv"
)

// Environment variables consulted by ConfigFromEnv. Programmatic callers
// building a Config by hand are unaffected by these.
const (
	EnvThreads      = "NPROC_THREADS"
	EnvSoftExit     = "NPROC_SOFT_EXIT"
	EnvShutdownHook = "NPROC_SHUTDOWN_HOOK"
)

// Config controls the processor pool created by NewPool and the default
// pool used by Spawn.
type Config struct {
	// Threads is the number of processors in the pool. Zero means "auto":
	// max(1, runtime.NumCPU()/2), matching SPEC_FULL.md §4.5.
	Threads int
	// SoftExitDetection enables the soft-exit heuristic described in
	// SPEC_FULL.md §4.3: a process is considered a candidate for exit once
	// both its stdout and stderr pipes report end-of-stream, shortening how
	// often the processor polls for the confirming OS wait. Default true.
	SoftExitDetection bool
	// EnableShutdownHook, if true, makes NewPool register the pool with a
	// process-wide SIGINT/SIGTERM hook that force-destroys every live
	// process of every pool so registered. The hook neither stops processor
	// goroutines nor exits the program. Default true.
	EnableShutdownHook bool
}

// DefaultConfig returns the Config Spawn uses when none is given explicitly:
// auto thread count, soft-exit detection and the shutdown hook both on.
func DefaultConfig() Config {
	return Config{
		Threads:            0,
		SoftExitDetection:  true,
		EnableShutdownHook: true,
	}
}

// ConfigFromEnv starts from DefaultConfig and overrides fields using the
// NPROC_THREADS, NPROC_SOFT_EXIT and NPROC_SHUTDOWN_HOOK environment
// variables, following this package's §6 configuration surface. Unparsable
// or out-of-range values are ignored, leaving the default in place.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	switch v := os.Getenv(EnvThreads); v {
	case "", "auto":
	case "cores":
		cfg.Threads = -1 // sentinel: full core count, see resolveThreads
	default:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Threads = n
		}
	}
	if v := os.Getenv(EnvSoftExit); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SoftExitDetection = b
		}
	}
	if v := os.Getenv(EnvShutdownHook); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableShutdownHook = b
		}
	}
	return cfg
}

// resolveThreads turns a configured Threads value into a concrete, positive
// processor count: 0 means "auto" (cores/2), -1 means the NPROC_THREADS=cores
// sentinel (full core count), anything positive is used as-is.
func resolveThreads(n int) int {
	switch {
	case n > 0:
		return n
	case n == -1:
		if c := runtime.NumCPU(); c > 1 {
			return c
		}
		return 1
	default:
		if c := runtime.NumCPU() / 2; c > 1 {
			return c
		}
		return 1
	}
}
