// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package testlog hijacks github.com/arithx/update-engine/pkg/log's
// process-wide sink for the duration of a test, buffering entries for
// assertions instead of sending them to stderr, and disarms Fatalf so a
// finalizer's fatal path can be exercised without killing the test binary.
package testlog

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/arithx/update-engine/pkg/log"
)

// Recorder captures everything logged while it is active.
type Recorder struct {
	Buf *bytes.Buffer

	mu      sync.Mutex
	fataled bool
}

// New redirects log output into a Recorder for the life of t and restores
// the default stderr sink and terminator on cleanup.
func New(t *testing.T) *Recorder {
	r := &Recorder{Buf: new(bytes.Buffer)}
	log.SetOutput(r.Buf, false)
	log.SetTerminator(func() {
		r.mu.Lock()
		r.fataled = true
		r.mu.Unlock()
	})
	t.Cleanup(func() {
		log.SetOutput(os.Stderr, false)
		log.SetTerminator(log.DefaultTerminator)
	})
	return r
}

// Fataled reports whether Fatalf ran while the Recorder was active.
func (r *Recorder) Fataled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fataled
}
