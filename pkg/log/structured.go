// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// core is the process-wide sink every Component-scoped Logger writes
// through. It defaults to a human-readable console stream on stderr, since
// that is what a manually-run postinstall or `update-engine run` invocation
// needs; a daemon wrapper that ships logs to a collector calls SetOutput to
// switch to newline-delimited JSON instead.
var (
	coreMu sync.Mutex
	core   = consoleLogger(os.Stderr)
)

func consoleLogger(w io.Writer) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05.000"}
	return zerolog.New(cw).With().Timestamp().Logger()
}

// SetOutput reconfigures the process-wide sink to write to w. json selects
// newline-delimited JSON suitable for a log shipper; otherwise entries are
// rendered as human-readable console lines. Intended to be called once,
// from cmd/ setup code before any component starts logging — it is not
// safe to race against concurrent Logf/Fatalf calls.
func SetOutput(w io.Writer, json bool) {
	coreMu.Lock()
	defer coreMu.Unlock()
	if json {
		core = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	core = consoleLogger(w)
}

func currentCore() zerolog.Logger {
	coreMu.Lock()
	defer coreMu.Unlock()
	return core
}
