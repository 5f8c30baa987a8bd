// Package service implements the Update Service State Machine (C8):
// Idle/CheckingForUpdate/UpdateAvailable/Downloading/Verifying/Finalizing/
// UpdatedNeedReboot/ReportingError, driven by AttemptUpdate/ResetStatus and
// observed via GetStatus. Each attempt runs the Download Stage as a
// one-stage pipeline and, once that succeeds, the Slot Activator; every
// attempt's outcome is recorded to pkg/history.
package service

import (
	"context"
	"sync"
	"time"

	units "github.com/docker/go-units"

	"github.com/arithx/update-engine/pkg/activation"
	"github.com/arithx/update-engine/pkg/history"
	"github.com/arithx/update-engine/pkg/log"
	"github.com/arithx/update-engine/pkg/pipeline"
	"github.com/arithx/update-engine/pkg/pipeline/download"
	"github.com/arithx/update-engine/pkg/plan"
	"github.com/arithx/update-engine/pkg/reactor"
	"github.com/arithx/update-engine/pkg/xfer"
)

var slog = log.For(log.Service)

// StateKind is the service's top-level state.
type StateKind string

const (
	Idle              StateKind = "Idle"
	CheckingForUpdate StateKind = "CheckingForUpdate"
	UpdateAvailable   StateKind = "UpdateAvailable"
	Downloading       StateKind = "Downloading"
	Verifying         StateKind = "Verifying"
	Finalizing        StateKind = "Finalizing"
	UpdatedNeedReboot StateKind = "UpdatedNeedReboot"
	ReportingError    StateKind = "ReportingError"
)

// Snapshot is the observable state returned by GetStatus.
type Snapshot struct {
	Kind            StateKind
	NewVersion      string
	Received        uint64
	Total           uint64
	ErrorKind       string
	LastCheckedUnix int64
}

// ProgressFraction returns Received/Total clamped to [0, 1], or 0 if Total
// is unknown.
func (s Snapshot) ProgressFraction() float64 {
	if s.Total == 0 {
		return 0
	}
	f := float64(s.Received) / float64(s.Total)
	if f > 1 {
		f = 1
	}
	return f
}

// Checker is the update-check collaborator: it produces an Install Plan
// (and a human-readable version string) or reports that no update is
// available.
type Checker interface {
	Check(ctx context.Context) (p plan.Plan, version string, available bool, err error)
}

// Notifier receives a snapshot on every state change; push.Hub implements
// this (its Broadcast method already matches the shape).
type Notifier interface {
	Broadcast(v interface{})
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(interface{}) {}

// Service is the Update Service State Machine.
type Service struct {
	Checker    Checker
	NewFetcher func(plan.Plan) xfer.Fetcher
	NewWriter  download.WriterFactory
	Activator  *activation.Activator
	History    *history.Store
	Notifier   Notifier
	React      reactor.Reactor

	mu     sync.Mutex
	snap   Snapshot
	active activeAttempt
}

// New returns a Service ready to drive update attempts. React is set to a
// production reactor.Live and Notifier to a no-op sink; callers may
// replace either before calling AttemptUpdate.
func New(checker Checker, newFetcher func(plan.Plan) xfer.Fetcher, newWriter download.WriterFactory, activator *activation.Activator, hist *history.Store) *Service {
	return &Service{
		Checker:    checker,
		NewFetcher: newFetcher,
		NewWriter:  newWriter,
		Activator:  activator,
		History:    hist,
		Notifier:   nopNotifier{},
		React:      reactor.NewLive(),
		snap:       Snapshot{Kind: Idle},
	}
}

// GetStatus returns the current snapshot.
func (s *Service) GetStatus() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// AttemptUpdate starts a check if the service is Idle; otherwise it is a
// no-op that returns the current state unchanged.
func (s *Service) AttemptUpdate(ctx context.Context) Snapshot {
	s.mu.Lock()
	if s.snap.Kind != Idle {
		cur := s.snap
		s.mu.Unlock()
		return cur
	}
	s.snap = Snapshot{Kind: CheckingForUpdate}
	cur := s.snap
	s.mu.Unlock()
	s.notify()

	s.React.Schedule(0, func() { s.runCheck(ctx) })
	return cur
}

// ResetStatus clears ReportingError or UpdatedNeedReboot back to Idle.
// Idempotent: calling it from any other state, or calling it twice, has no
// further effect.
func (s *Service) ResetStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Kind == ReportingError || s.snap.Kind == UpdatedNeedReboot {
		s.snap = Snapshot{Kind: Idle}
	}
}

func (s *Service) setState(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	s.notify()
}

func (s *Service) notify() {
	s.Notifier.Broadcast(s.GetStatus())
}

func (s *Service) runCheck(ctx context.Context) {
	p, version, available, err := s.Checker.Check(ctx)
	now := time.Now()
	if err != nil {
		slog.Logf("update check failed: %s", err)
		s.setState(Snapshot{Kind: ReportingError, ErrorKind: "DownloadTransportError", LastCheckedUnix: now.Unix()})
		return
	}
	if !available {
		s.setState(Snapshot{Kind: Idle, LastCheckedUnix: now.Unix()})
		return
	}
	slog.Logf("update %s available, %s", version, units.HumanSize(float64(p.PayloadSize)))
	s.setState(Snapshot{Kind: UpdateAvailable, NewVersion: version, Total: p.PayloadSize, LastCheckedUnix: now.Unix()})
	s.React.Schedule(0, func() { s.startDownload(ctx, p, version) })
}

func (s *Service) startDownload(ctx context.Context, p plan.Plan, version string) {
	s.setState(Snapshot{Kind: Downloading, NewVersion: version, Total: p.PayloadSize})

	pl := pipeline.New(s)
	stage := download.New(s.NewFetcher(p), s.NewWriter, &downloadObserver{svc: s, version: version})
	pipeline.Entry[plan.Plan, plan.Plan](pl, stage, p)

	s.mu.Lock()
	s.active = activeAttempt{plan: p, version: version, started: time.Now()}
	s.mu.Unlock()

	pl.Start()
}

// downloadObserver adapts download.Observer callbacks into Service state
// transitions.
type downloadObserver struct {
	svc     *Service
	version string
}

func (o *downloadObserver) SetDownloadStatus(active bool) {
	if active {
		slog.Logf("download started for %s", o.version)
	} else {
		slog.Logf("download finished for %s", o.version)
	}
}

func (o *downloadObserver) BytesReceived(chunkSize, cumulative, total uint64) {
	o.svc.setState(Snapshot{Kind: Downloading, NewVersion: o.version, Received: cumulative, Total: total})
}

// OnStageComplete implements pipeline.Delegate.
func (s *Service) OnStageComplete(stageName string, code pipeline.ExitCode) {
	slog.Logf("stage %s completed: %s", stageName, code)
}

// OnPipelineStopped implements pipeline.Delegate: a cancelled run returns
// to Idle silently.
func (s *Service) OnPipelineStopped() {
	s.recordAttempt(history.OutcomeCancelled, "Cancelled")
	s.setState(Snapshot{Kind: Idle})
}

// OnPipelineDone implements pipeline.Delegate: on Download Stage success,
// move through Verifying (the hash was already checked inside the
// Download Stage itself) into Finalizing, where the Slot Activator runs;
// any failure maps to ReportingError{kind}.
func (s *Service) OnPipelineDone(code pipeline.ExitCode) {
	if !code.IsSuccess() {
		kind := code.Kind
		if code.Err != nil {
			slog.Logf("pipeline failed: %s: %s", kind, code.Err)
		}
		s.recordAttempt(history.OutcomeError, kind)
		s.setState(Snapshot{Kind: ReportingError, ErrorKind: kind, LastCheckedUnix: time.Now().Unix()})
		return
	}

	s.mu.Lock()
	att := s.active
	s.mu.Unlock()

	s.setState(Snapshot{Kind: Verifying, NewVersion: att.version, Total: att.plan.PayloadSize, Received: att.plan.PayloadSize})
	s.setState(Snapshot{Kind: Finalizing, NewVersion: att.version})

	if s.Activator == nil {
		s.recordAttempt(history.OutcomeError, "ActivationError")
		s.setState(Snapshot{Kind: ReportingError, ErrorKind: "ActivationError"})
		return
	}

	ctx := context.Background()
	if err := s.Activator.Activate(ctx, att.plan.InstallPath); err != nil {
		kind := "ActivationError"
		var ae *activation.Error
		if ok := asActivationError(err, &ae); ok {
			kind = string(ae.Kind)
		}
		slog.Logf("activation failed: %s", err)
		s.recordAttempt(history.OutcomeError, kind)
		s.setState(Snapshot{Kind: ReportingError, ErrorKind: kind, LastCheckedUnix: time.Now().Unix()})
		return
	}

	s.recordAttempt(history.OutcomeSuccess, "")
	s.setState(Snapshot{Kind: UpdatedNeedReboot, NewVersion: att.version, LastCheckedUnix: time.Now().Unix()})
}

func asActivationError(err error, target **activation.Error) bool {
	if ae, ok := err.(*activation.Error); ok {
		*target = ae
		return true
	}
	return false
}

type activeAttempt struct {
	plan    plan.Plan
	version string
	started time.Time
}

func (s *Service) recordAttempt(outcome history.Outcome, errKind string) {
	if s.History == nil {
		return
	}
	s.mu.Lock()
	att := s.active
	s.mu.Unlock()
	r := history.Record{
		PlanID:       att.plan.ID.String(),
		StartedAt:    att.started,
		FinishedAt:   time.Now(),
		Outcome:      outcome,
		ErrorKind:    errKind,
		BytesWritten: att.plan.PayloadSize,
	}
	if err := s.History.Put(r); err != nil {
		slog.Logf("recording history for %s: %s", r.PlanID, err)
	}
}
