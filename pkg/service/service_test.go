package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/arithx/update-engine/pkg/activation"
	"github.com/arithx/update-engine/pkg/hash"
	"github.com/arithx/update-engine/pkg/log/testlog"
	"github.com/arithx/update-engine/pkg/pipeline/download"
	"github.com/arithx/update-engine/pkg/plan"
	"github.com/arithx/update-engine/pkg/reactor"
	"github.com/arithx/update-engine/pkg/xfer"
)

// stubChecker returns a fixed result on every Check call.
type stubChecker struct {
	p         plan.Plan
	version   string
	available bool
	err       error
}

func (c stubChecker) Check(ctx context.Context) (plan.Plan, string, bool, error) {
	return c.p, c.version, c.available, c.err
}

// recordingNotifier captures every broadcast snapshot in order.
type recordingNotifier struct {
	snaps []Snapshot
}

func (n *recordingNotifier) Broadcast(v interface{}) {
	if s, ok := v.(Snapshot); ok {
		n.snaps = append(n.snaps, s)
	}
}

func newTestService(t *testing.T, checker Checker, newFetcher func(plan.Plan) xfer.Fetcher) (*Service, *recordingNotifier, *reactor.Fake) {
	t.Helper()
	react := reactor.NewFake()
	notifier := &recordingNotifier{}
	svc := New(checker, newFetcher, func(plan.Plan) xfer.Writer { return &xfer.BufferedWriter{} }, nil, nil)
	svc.React = react
	svc.Notifier = notifier
	return svc, notifier, react
}

func TestAttemptUpdateNoOpWhileNotIdle(t *testing.T) {
	svc, _, _ := newTestService(t, stubChecker{available: false}, nil)

	svc.mu.Lock()
	svc.snap = Snapshot{Kind: Downloading}
	svc.mu.Unlock()

	got := svc.AttemptUpdate(context.Background())
	if got.Kind != Downloading {
		t.Fatalf("AttemptUpdate while Downloading returned %+v, want the unchanged Downloading snapshot", got)
	}
}

func TestResetStatusFromErrorAndRebootAreIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, stubChecker{}, nil)

	svc.mu.Lock()
	svc.snap = Snapshot{Kind: ReportingError, ErrorKind: "DownloadHashMismatch"}
	svc.mu.Unlock()
	svc.ResetStatus()
	if got := svc.GetStatus(); got.Kind != Idle {
		t.Fatalf("ResetStatus from ReportingError = %+v, want Idle", got)
	}
	svc.ResetStatus() // idempotent
	if got := svc.GetStatus(); got.Kind != Idle {
		t.Fatalf("second ResetStatus changed state to %+v", got)
	}

	svc.mu.Lock()
	svc.snap = Snapshot{Kind: Downloading}
	svc.mu.Unlock()
	svc.ResetStatus()
	if got := svc.GetStatus(); got.Kind != Downloading {
		t.Errorf("ResetStatus from Downloading = %+v, want unchanged Downloading", got)
	}
}

func TestNoUpdateAvailableReturnsToIdle(t *testing.T) {
	svc, notifier, react := newTestService(t, stubChecker{available: false}, nil)

	svc.AttemptUpdate(context.Background())
	react.Drain()

	if got := svc.GetStatus(); got.Kind != Idle {
		t.Fatalf("final state = %+v, want Idle", got)
	}
	if len(notifier.snaps) == 0 {
		t.Fatalf("no snapshots were broadcast")
	}
	foundChecking := false
	for _, s := range notifier.snaps {
		if s.Kind == CheckingForUpdate {
			foundChecking = true
		}
	}
	if !foundChecking {
		t.Errorf("notifier never saw CheckingForUpdate; snapshots = %+v", notifier.snaps)
	}
}

func TestCheckerErrorReportsError(t *testing.T) {
	svc, _, react := newTestService(t, stubChecker{err: errors.New("update server unreachable")}, nil)

	svc.AttemptUpdate(context.Background())
	react.Drain()

	got := svc.GetStatus()
	if got.Kind != ReportingError {
		t.Fatalf("final state = %+v, want ReportingError", got)
	}
	if got.ErrorKind != "DownloadTransportError" {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, "DownloadTransportError")
	}
}

func TestSuccessfulDownloadWithoutActivatorReportsActivationError(t *testing.T) {
	data := []byte("the full update payload, byte for byte")
	p := plan.New(true, "http://example.invalid/payload", uint64(len(data)), hash.OfBytes(data), "/dev/disk/by-partlabel/USR-B")
	checker := stubChecker{p: p, version: "9.0.0", available: true}
	fetcher := func(plan.Plan) xfer.Fetcher { return &xfer.MockFetcher{Data: data, ChunkSize: len(data)} }

	svc, _, react := newTestService(t, checker, fetcher)
	// svc.Activator left nil, exercising the "no activator configured" path.

	svc.AttemptUpdate(context.Background())
	react.Drain()

	got := svc.GetStatus()
	if got.Kind != ReportingError {
		t.Fatalf("final state = %+v, want ReportingError (no Activator configured)", got)
	}
	if got.ErrorKind != "ActivationError" {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, "ActivationError")
	}
}

func TestDownloadHashMismatchReportsErrorWithKind(t *testing.T) {
	data := []byte("payload bytes that will fail verification")
	goodHash := hash.OfBytes(data)
	badHash := append([]byte(nil), goodHash...)
	badHash[0] ^= 0xFF
	p := plan.New(true, "http://example.invalid/payload", uint64(len(data)), badHash, "/out/payload.bin")
	checker := stubChecker{p: p, version: "9.0.1", available: true}
	fetcher := func(plan.Plan) xfer.Fetcher { return &xfer.MockFetcher{Data: data, ChunkSize: len(data)} }

	svc, notifier, react := newTestService(t, checker, fetcher)

	svc.AttemptUpdate(context.Background())
	react.Drain()

	got := svc.GetStatus()
	if got.Kind != ReportingError {
		t.Fatalf("final state = %+v, want ReportingError", got)
	}
	if got.ErrorKind != download.KindHashMismatch {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, download.KindHashMismatch)
	}

	sawDownloading := false
	for _, s := range notifier.snaps {
		if s.Kind == Downloading {
			sawDownloading = true
		}
	}
	if !sawDownloading {
		t.Errorf("notifier never observed a Downloading snapshot before the failure")
	}
}

func TestPipelineFailureIsLoggedUnderServiceComponent(t *testing.T) {
	rec := testlog.New(t)

	data := []byte("payload bytes that will fail verification")
	goodHash := hash.OfBytes(data)
	badHash := append([]byte(nil), goodHash...)
	badHash[0] ^= 0xFF
	p := plan.New(true, "http://example.invalid/payload", uint64(len(data)), badHash, "/out/payload.bin")
	checker := stubChecker{p: p, version: "9.0.1", available: true}
	fetcher := func(plan.Plan) xfer.Fetcher { return &xfer.MockFetcher{Data: data, ChunkSize: len(data)} }

	svc, _, react := newTestService(t, checker, fetcher)
	svc.AttemptUpdate(context.Background())
	react.Drain()

	out := rec.Buf.String()
	if !strings.Contains(out, "component=service") {
		t.Errorf("log output missing service component field:\n%s", out)
	}
	if !strings.Contains(out, "pipeline failed") {
		t.Errorf("log output missing pipeline failure message:\n%s", out)
	}
	if rec.Fataled() {
		t.Errorf("a download-stage failure must not reach Fatalf")
	}
}

func TestActivationErrorKindIsPreserved(t *testing.T) {
	// Activate always fails with a typed SlotResolutionError since the
	// configured device path can never resolve to a real block device in
	// a test environment; the point is that Service surfaces that Kind
	// verbatim rather than collapsing it to a generic ActivationError.
	data := []byte("payload")
	p := plan.New(true, "http://example.invalid/payload", uint64(len(data)), hash.OfBytes(data), "/dev/disk/by-partlabel/does-not-exist")
	checker := stubChecker{p: p, version: "1.0.0", available: true}
	fetcher := func(plan.Plan) xfer.Fetcher { return &xfer.MockFetcher{Data: data, ChunkSize: len(data)} }

	svc, _, react := newTestService(t, checker, fetcher)
	svc.Activator = &activation.Activator{
		GPT: &activation.GPTTool{Exec: activation.HostExecutor{}, Path: "/bin/true"},
	}

	svc.AttemptUpdate(context.Background())
	react.Drain()

	got := svc.GetStatus()
	if got.Kind != ReportingError {
		t.Fatalf("final state = %+v, want ReportingError", got)
	}
	if got.ErrorKind != string(activation.KindSlotResolutionError) {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, activation.KindSlotResolutionError)
	}
}
