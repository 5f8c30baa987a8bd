// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package log is the engine's logging core: every subsystem logs through a
// Component-scoped Logger rather than holding a *zerolog.Logger directly,
// so the component name lands as a structured field instead of a
// hand-written message prefix.
package log

import "fmt"

// Component identifies which engine subsystem produced a log entry.
type Component string

const (
	Activation  Component = "activation"
	Download    Component = "download"
	Service     Component = "service"
	Push        Component = "push"
	Block       Component = "block"
	Run         Component = "run"
	Postinstall Component = "postinstall"
)

// Logger is a Component-scoped handle onto the process-wide sink.
type Logger struct {
	component Component
}

// For returns a Logger that tags every entry it emits with component.
func For(component Component) Logger { return Logger{component: component} }

// Logf records a technical, high-frequency, or internal message. It is
// routed to whatever sink SetOutput last configured (stderr console lines
// by default).
func (l Logger) Logf(f string, va ...interface{}) {
	core := currentCore()
	core.Info().Str("component", string(l.component)).Msg(fmt.Sprintf(f, va...))
}
