// Package reactor models a single-threaded cooperative event loop. Every
// suspension point in the engine — fetcher reads, write completions,
// state-machine transitions — goes through a Reactor rather than binding
// directly to a specific main-loop library, so production and test code
// share the same call shape.
package reactor

import "time"

// Task is a unit of work scheduled onto a Reactor.
type Task func()

// Reactor schedules work and reports the current time. Implementations
// must run every Task serially, in order of due time, with zero-delay
// Tasks run in submission order: no two Tasks from the same Reactor ever
// run concurrently.
type Reactor interface {
	// Schedule runs task after delay elapses (zero delay still yields to
	// the loop rather than running inline, so callers can rely on ordering
	// with other pending tasks).
	Schedule(delay time.Duration, task Task)
	// Now returns the reactor's notion of the current time.
	Now() time.Time
}
