// Package download implements the Download Stage: it composes a Fetcher, a
// Writer and a Hash Calculator under the pipeline's Stage contract,
// reporting progress and failing on any mismatch or sink error.
package download

import (
	"bytes"
	"context"
	"fmt"

	"github.com/arithx/update-engine/pkg/hash"
	"github.com/arithx/update-engine/pkg/log"
	"github.com/arithx/update-engine/pkg/pipeline"
	"github.com/arithx/update-engine/pkg/plan"
	"github.com/arithx/update-engine/pkg/xfer"
)

var dlog = log.For(log.Download)

// Error kinds used as pipeline.ExitCode.Kind values.
const (
	KindTransportError = "DownloadTransportError"
	KindWriteError     = "DownloadWriteError"
	KindSizeMismatch   = "DownloadSizeMismatch"
	KindHashMismatch   = "DownloadHashMismatch"
	KindCancelled      = "Cancelled"
)

// Observer is the Download Stage's delegate contract: SetDownloadStatus is
// called exactly once with true at start and once with false on every
// exit path; BytesReceived's progress argument is strictly increasing.
type Observer interface {
	SetDownloadStatus(active bool)
	BytesReceived(chunkSize, cumulative, total uint64)
}

// NopObserver implements Observer with no-ops, for callers that don't need
// progress reporting.
type NopObserver struct{}

func (NopObserver) SetDownloadStatus(bool)                {}
func (NopObserver) BytesReceived(uint64, uint64, uint64) {}

// WriterFactory builds the Writer for a given plan's install path. Writer
// construction is deferred to Start time because the stage itself is built
// once but the plan (and thus the install path) arrives per pipeline run.
type WriterFactory func(plan.Plan) xfer.Writer

// Stage is the Download Stage. Construct with New; it owns the Fetcher
// passed in and is responsible for releasing it on every exit path.
type Stage struct {
	fetcher  xfer.Fetcher
	newWriter WriterFactory
	observer Observer

	// per-run state, reset at the top of Start
	in          plan.Plan
	done        func(pipeline.ExitCode, plan.Plan)
	writer      xfer.Writer
	hasher      *hash.Calculator
	cumulative  uint64
	firstChunk  bool
	statusOn    bool
	stopped     bool
	active      bool
}

var _ pipeline.Stage[plan.Plan, plan.Plan] = (*Stage)(nil)
var _ xfer.Delegate = (*Stage)(nil)

// New constructs a Download Stage around fetcher (whose ownership transfers
// to the stage), a writer factory, and an observer for progress callbacks.
func New(fetcher xfer.Fetcher, newWriter WriterFactory, observer Observer) *Stage {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Stage{fetcher: fetcher, newWriter: newWriter, observer: observer}
}

func (s *Stage) Name() string { return "Download" }

// Start implements pipeline.Stage. Input and output are the same Install
// Plan, unchanged.
func (s *Stage) Start(ctx context.Context, in plan.Plan, done func(pipeline.ExitCode, plan.Plan)) {
	s.in = in
	s.done = done
	s.writer = nil
	s.hasher = hash.New()
	s.cumulative = 0
	s.firstChunk = true
	s.statusOn = false
	s.stopped = false
	s.active = true

	w := s.newWriter(in)
	if err := w.Open(); err != nil {
		s.exit(pipeline.Failed(KindWriteError, fmt.Errorf("opening writer: %w", err)))
		return
	}
	s.writer = w

	s.statusOn = true
	s.observer.SetDownloadStatus(true)

	s.fetcher.Begin(ctx, s)
}

// Stop requests cancellation: terminates the Fetcher and lets its
// completion drive the exit.
func (s *Stage) Stop() {
	if !s.active {
		return
	}
	s.stopped = true
	s.fetcher.Terminate()
}

// OnChunk implements xfer.Delegate.
func (s *Stage) OnChunk(offset uint64, data []byte) {
	if !s.active {
		return
	}
	if s.firstChunk {
		if err := s.writer.Seek(int64(offset)); err != nil {
			s.failWrite(fmt.Errorf("seeking to resume offset %d: %w", offset, err))
			return
		}
		s.firstChunk = false
	}
	if err := s.writer.Write(data); err != nil {
		s.failWrite(fmt.Errorf("writing %d bytes at offset %d: %w", len(data), offset, err))
		return
	}
	s.hasher.Write(data)
	s.cumulative = offset + uint64(len(data))
	s.observer.BytesReceived(uint64(len(data)), s.cumulative, s.in.PayloadSize)
}

func (s *Stage) failWrite(err error) {
	s.fetcher.Terminate()
	s.closeWriter()
	s.exit(pipeline.Failed(KindWriteError, err))
}

// OnTransferComplete implements xfer.Delegate.
func (s *Stage) OnTransferComplete(success bool) {
	if !s.active {
		return
	}
	if !success {
		s.closeWriter()
		s.exit(pipeline.Failed(KindTransportError, fmt.Errorf("transport failure")))
		return
	}
	if s.cumulative != s.in.PayloadSize {
		s.closeWriter()
		s.exit(pipeline.Failed(KindSizeMismatch,
			fmt.Errorf("received %d bytes, expected %d", s.cumulative, s.in.PayloadSize)))
		return
	}
	sum := s.hasher.Sum()
	if !bytes.Equal(sum, s.in.PayloadHash) {
		s.closeWriter()
		s.exit(pipeline.Failed(KindHashMismatch,
			fmt.Errorf("hash mismatch: got %x, want %x", sum, s.in.PayloadHash)))
		return
	}
	if err := s.writer.Close(); err != nil {
		s.exit(pipeline.Failed(KindWriteError, fmt.Errorf("closing writer: %w", err)))
		return
	}
	s.exit(pipeline.Success)
}

// OnTransferTerminated implements xfer.Delegate: the Fetcher acknowledged a
// Stop()/Terminate().
func (s *Stage) OnTransferTerminated() {
	if !s.active {
		return
	}
	s.closeWriter()
	if s.stopped {
		s.exit(pipeline.Failed(KindCancelled, nil))
		return
	}
	s.exit(pipeline.Failed(KindTransportError, fmt.Errorf("transfer terminated")))
}

func (s *Stage) closeWriter() {
	if s.writer == nil {
		return
	}
	if err := s.writer.Close(); err != nil {
		dlog.Logf("error closing writer after failure: %s", err)
	}
}

// exit finalizes the stage exactly once: matches SetDownloadStatus(false)
// with its earlier SetDownloadStatus(true), then reports completion.
func (s *Stage) exit(code pipeline.ExitCode) {
	if !s.active {
		return
	}
	s.active = false
	if s.statusOn {
		s.observer.SetDownloadStatus(false)
	}
	s.done(code, s.in)
}
