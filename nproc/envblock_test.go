// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"strings"
	"testing"
)

func TestCanonicalizeOrdering(t *testing.T) {
	block := Canonicalize(map[string]string{
		"bravo":   "2",
		"Alpha":   "1",
		"charlie": "3",
	})
	parts := strings.Split(string(block), "\x00")
	// Trailing NUL produces one extra empty element.
	if got, want := parts[len(parts)-1], ""; got != want {
		t.Fatalf("block did not end with NUL: %q", block)
	}
	parts = parts[:len(parts)-1]
	want := []string{"Alpha=1", "bravo=2", "charlie=3"}
	if len(parts) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(parts), len(want), parts)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, parts[i], want[i])
		}
	}
}

func TestCanonicalizeEmpty(t *testing.T) {
	block := Canonicalize(map[string]string{})
	if string(block) != "\x00" {
		t.Fatalf("empty map should canonicalize to a single NUL, got %q", block)
	}
}

func TestEnvSliceOrdering(t *testing.T) {
	got := EnvSlice(map[string]string{"Z": "1", "a": "2"})
	want := []string{"a=2", "Z=1"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestQuoteCommandLine(t *testing.T) {
	cases := []struct {
		argv []string
		want string
	}{
		{[]string{"cmd.exe"}, "cmd.exe"},
		{[]string{"my app.exe", "a b", "c"}, `"my app.exe" "a b" c`},
		{[]string{`"already quoted"`, "x"}, `"already quoted" x`},
		{nil, ""},
	}
	for _, c := range cases {
		if got := QuoteCommandLine(c.argv); got != c.want {
			t.Errorf("QuoteCommandLine(%v) = %q, want %q", c.argv, got, c.want)
		}
	}
}
