// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package log

import (
	"fmt"
	"os"
	"strings"
)

// Terminator ends the process once a fatal event has been recorded.
type Terminator func()

var terminator = DefaultTerminator

// SetTerminator overrides what Fatalf does to end the process, e.g. so a
// test can assert a finalizer reached its fatal path without killing the
// test binary.
func SetTerminator(t Terminator) { terminator = t }

// DefaultTerminator calls os.Exit(1), except it panics when running under
// `go test` so a single bad finalizer path can't take down the whole test
// binary.
func DefaultTerminator() {
	if strings.HasSuffix(os.Args[0], ".test") || strings.Contains(os.Args[0], "/T/") {
		panic("fatal error")
	}
	os.Exit(1)
}

// Fatalf records a fatal diagnostic and terminates the process. It exists
// for cmd/postinstall, the finalizer entrypoint documented to exit
// non-zero with a one-line diagnostic on stderr for any fatal condition:
// Fatalf writes that line to stderr directly, independent of whatever
// sink SetOutput last configured Logf to use, so the finalizer's contract
// holds even when JSON shipping is enabled. Never call this from library
// code, which must return typed errors instead.
func (l Logger) Fatalf(f string, va ...interface{}) {
	msg := fmt.Sprintf(f, va...)
	core := currentCore()
	core.Error().Str("component", string(l.component)).Msg(msg)
	fmt.Fprintf(os.Stderr, "%s: fatal: %s\n", l.component, msg)
	terminator()
}
