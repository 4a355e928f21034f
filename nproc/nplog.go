// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nproc

import "v.io/x/process/vlog"

// log is this package's logger, in the same glog-style leveled logging used
// throughout this module. This package logs only at Error level (spawn,
// resume, signal, reap and multiplexer errors, handler panics and abnormal
// exits); it emits no V-level output.
var log = vlog.NewLogger("nproc")
