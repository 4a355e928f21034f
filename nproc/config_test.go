// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"os"
	"runtime"
	"testing"
)

// withEnv sets key to val for the duration of one table-driven case and
// returns a func restoring the previous value; go.mod pins this module to
// go1.13, which predates testing.T.Cleanup.
func withEnv(t *testing.T, key, val string) func() {
	old, had := os.LookupEnv(key)
	if val == "" {
		os.Unsetenv(key)
	} else if err := os.Setenv(key, val); err != nil {
		t.Fatalf("Setenv(%q, %q): %v", key, val, err)
	}
	return func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	}
}

func TestConfigFromEnvThreads(t *testing.T) {
	autoThreads := resolveThreads(0)
	coreThreads := resolveThreads(-1)
	tests := []struct {
		env  string
		want int
	}{
		{"", autoThreads},
		{"auto", autoThreads},
		{"cores", coreThreads},
		{"4", 4},
		{"1", 1},
		{"0", autoThreads},  // out of range, falls back to default
		{"-3", autoThreads}, // out of range, falls back to default
		{"nonsense", autoThreads},
	}
	for _, test := range tests {
		restore := withEnv(t, EnvThreads, test.env)
		cfg := ConfigFromEnv()
		if got := resolveThreads(cfg.Threads); got != test.want {
			t.Errorf("NPROC_THREADS=%q got %d threads, want %d", test.env, got, test.want)
		}
		restore()
	}
}

func TestConfigFromEnvSoftExitAndShutdownHook(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"", true},
		{"true", true},
		{"false", false},
		{"1", true},
		{"0", false},
		{"nonsense", true},
	}
	for _, test := range tests {
		restore := withEnv(t, EnvSoftExit, test.env)
		if got := ConfigFromEnv().SoftExitDetection; got != test.want {
			t.Errorf("NPROC_SOFT_EXIT=%q got %v, want %v", test.env, got, test.want)
		}
		restore()
	}
	for _, test := range tests {
		restore := withEnv(t, EnvShutdownHook, test.env)
		if got := ConfigFromEnv().EnableShutdownHook; got != test.want {
			t.Errorf("NPROC_SHUTDOWN_HOOK=%q got %v, want %v", test.env, got, test.want)
		}
		restore()
	}
}

func TestResolveThreads(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{5, 5},
		{1, 1},
		{-1, maxInt(1, runtime.NumCPU())},
		{0, maxInt(1, runtime.NumCPU()/2)},
		{-7, maxInt(1, runtime.NumCPU()/2)},
	}
	for _, test := range tests {
		if got := resolveThreads(test.n); got != test.want {
			t.Errorf("resolveThreads(%d) = %d, want %d", test.n, got, test.want)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
