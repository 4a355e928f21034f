// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"os"
	"strings"

	"v.io/x/process/lookpath"
)

// Spawn starts a child process and multiplexes its stdio through the
// package-level default Pool, sized and configured from NPROC_THREADS,
// NPROC_SOFT_EXIT and NPROC_SHUTDOWN_HOOK (see ConfigFromEnv).
//
// name is resolved against PATH if it contains no path separator,
// following the same rule as exec.LookPath. argv is the full argument
// vector including argv[0]; if nil, []string{name} is used. env is an
// environment map; if nil, the calling process's own environment is
// inherited unchanged. handler may be nil, in which case all callbacks
// are no-ops.
func Spawn(name string, argv []string, env map[string]string, handler Handler) (*Process, error) {
	pool, err := getDefaultPool()
	if err != nil {
		return nil, err
	}
	return SpawnWithPool(pool, name, argv, env, handler)
}

// SpawnWithPool is Spawn against an explicit Pool rather than the
// package-level default, for callers that want an isolated set of
// processors (e.g. to bound a subsystem's concurrency independently).
func SpawnWithPool(pool *Pool, name string, argv []string, env map[string]string, handler Handler) (*Process, error) {
	path, err := resolvePath(name)
	if err != nil {
		return nil, err
	}
	if argv == nil {
		argv = []string{name}
	}
	var block []byte
	if env != nil {
		block = Canonicalize(env)
	}
	return pool.Spawn(path, argv, block, handler), nil
}

func resolvePath(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		return name, nil
	}
	return lookpath.Look(environMap(), name)
}

// environMap turns the calling process's os.Environ() into the
// map[string]string form lookpath.Look expects.
func environMap() map[string]string {
	env := os.Environ()
	m := make(map[string]string, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}
