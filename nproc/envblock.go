// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import (
	"sort"
	"strings"
)

// Canonicalize turns an environment map into the flat, null-terminated byte
// sequence SPEC_FULL.md §6 requires: entries are "KEY=VALUE" pairs, each
// followed by a single NUL byte, sorted by a case-insensitive,
// uppercased-code-unit comparison of the key, with one extra trailing NUL
// terminating the whole block. This matches the environment-block
// convention completion-based platforms require for process creation; the
// fork-based platform accepts the same canonical form via its argv/envp
// vector, so both platform bindings share this one implementation.
func Canonicalize(vars map[string]string) []byte {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Sort(byUpperKey(keys))

	var out []byte
	for _, k := range keys {
		out = append(out, k...)
		out = append(out, '=')
		out = append(out, vars[k]...)
		out = append(out, 0)
	}
	out = append(out, 0)
	return out
}

// byUpperKey sorts strings by the uppercased comparison SPEC_FULL.md §6
// requires for environment-block key ordering.
type byUpperKey []string

func (s byUpperKey) Len() int      { return len(s) }
func (s byUpperKey) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byUpperKey) Less(i, j int) bool {
	return strings.ToUpper(s[i]) < strings.ToUpper(s[j])
}

// EnvSlice turns a map into a sorted "KEY=VALUE" slice suitable for
// exec.Cmd.Env or the fork-based platform's envp argument; it shares the
// same key ordering as Canonicalize.
func EnvSlice(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Sort(byUpperKey(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}

// QuoteCommandLine implements SPEC_FULL.md §6's command-line quoting rule,
// used only by the completion-based platform binding's CreateProcess call:
// argv[0] is wrapped in double quotes if it contains a space and isn't
// already quoted; subsequent arguments containing a space are
// double-quoted; all tokens are joined with single spaces.
func QuoteCommandLine(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	parts := make([]string, len(argv))
	for i, a := range argv {
		if i == 0 {
			parts[i] = quoteArg0(a)
			continue
		}
		parts[i] = quoteArg(a)
	}
	return strings.Join(parts, " ")
}

func quoteArg0(a string) string {
	if strings.Contains(a, " ") && !isQuoted(a) {
		return `"` + a + `"`
	}
	return a
}

func quoteArg(a string) string {
	if strings.Contains(a, " ") {
		return `"` + a + `"`
	}
	return a
}

func isQuoted(a string) bool {
	return len(a) >= 2 && a[0] == '"' && a[len(a)-1] == '"'
}
