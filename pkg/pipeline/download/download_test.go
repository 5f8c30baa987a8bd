package download

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/arithx/update-engine/pkg/pipeline"
	"github.com/arithx/update-engine/pkg/plan"
	"github.com/arithx/update-engine/pkg/xfer"
)

// recordingObserver captures every SetDownloadStatus/BytesReceived call so
// tests can assert the exactly-one-true/one-false pairing and monotonic
// progress.
type recordingObserver struct {
	statusCalls []bool
	chunks      []uint64 // cumulative values, in call order
}

func (o *recordingObserver) SetDownloadStatus(active bool) {
	o.statusCalls = append(o.statusCalls, active)
}

func (o *recordingObserver) BytesReceived(chunkSize, cumulative, total uint64) {
	o.chunks = append(o.chunks, cumulative)
}

func mustPlan(t *testing.T, data []byte, installPath string) plan.Plan {
	t.Helper()
	sum := sha256.Sum256(data)
	return plan.New(true, "http://example.invalid/payload", uint64(len(data)), sum[:], installPath)
}

// S1: small payload, single chunk, successful end to end.
func TestDownloadSmallSuccess(t *testing.T) {
	data := []byte("a small update payload")
	p := mustPlan(t, data, "/out/payload.bin")
	obs := &recordingObserver{}
	bw := &xfer.BufferedWriter{}
	fetcher := &xfer.MockFetcher{Data: data, ChunkSize: len(data)}
	stage := New(fetcher, func(plan.Plan) xfer.Writer { return bw }, obs)

	var gotCode pipeline.ExitCode
	var gotOut plan.Plan
	done := make(chan struct{})
	stage.Start(context.Background(), p, func(code pipeline.ExitCode, out plan.Plan) {
		gotCode, gotOut = code, out
		close(done)
	})
	<-done

	if !gotCode.IsSuccess() {
		t.Fatalf("exit code = %+v, want success", gotCode)
	}
	if diff := cmp.Diff(data, bw.Bytes); diff != "" {
		t.Errorf("written bytes mismatch (-want +got):\n%s", diff)
	}
	if gotOut.ID != p.ID {
		t.Errorf("output plan ID = %s, want %s (plan must flow through unchanged)", gotOut.ID, p.ID)
	}
	if diff := cmp.Diff([]bool{true, false}, obs.statusCalls); diff != "" {
		t.Errorf("SetDownloadStatus calls (-want +got):\n%s", diff)
	}
}

// S1 resume: fetcher starts at a non-zero offset; the stage must Seek
// before its first Write and report cumulative bytes including the skipped
// prefix.
func TestDownloadResumeFromOffset(t *testing.T) {
	data := []byte("0123456789abcdefghij")
	p := mustPlan(t, data, "/out/payload.bin")
	obs := &recordingObserver{}
	bw := &xfer.BufferedWriter{Bytes: append([]byte(nil), data[:10]...)}
	fetcher := &xfer.MockFetcher{Data: data, ChunkSize: len(data)}
	fetcher.SetOffset(10)
	stage := New(fetcher, func(plan.Plan) xfer.Writer { return bw }, obs)

	done := make(chan pipeline.ExitCode, 1)
	stage.Start(context.Background(), p, func(code pipeline.ExitCode, _ plan.Plan) { done <- code })
	code := <-done

	if !code.IsSuccess() {
		t.Fatalf("exit code = %+v, want success", code)
	}
	if diff := cmp.Diff(data, bw.Bytes); diff != "" {
		t.Errorf("resumed write mismatch (-want +got):\n%s", diff)
	}
}

// S2: large payload split across many chunks; progress must be strictly
// increasing and match the payload size at completion.
func TestDownloadMultiChunkProgress(t *testing.T) {
	data := make([]byte, 10*ChunkTestSize+37)
	for i := range data {
		data[i] = byte(i)
	}
	p := mustPlan(t, data, "/out/payload.bin")
	obs := &recordingObserver{}
	bw := &xfer.BufferedWriter{}
	fetcher := &xfer.MockFetcher{Data: data, ChunkSize: ChunkTestSize}
	stage := New(fetcher, func(plan.Plan) xfer.Writer { return bw }, obs)

	done := make(chan pipeline.ExitCode, 1)
	stage.Start(context.Background(), p, func(code pipeline.ExitCode, _ plan.Plan) { done <- code })
	code := <-done

	if !code.IsSuccess() {
		t.Fatalf("exit code = %+v, want success", code)
	}
	var prev uint64
	for i, c := range obs.chunks {
		if c <= prev && i != 0 {
			t.Fatalf("progress not monotonic at call %d: %d <= %d", i, c, prev)
		}
		prev = c
	}
	if prev != uint64(len(data)) {
		t.Errorf("final cumulative = %d, want %d", prev, len(data))
	}
	if diff := cmp.Diff(data, bw.Bytes); diff != "" {
		t.Errorf("written bytes mismatch (-want +got):\n%s", diff)
	}
}

// S3: a write fails partway through; the stage must terminate the fetcher,
// close the writer, and report DownloadWriteError, still pairing
// SetDownloadStatus(false) with the earlier true.
func TestDownloadWriteFailureMidTransfer(t *testing.T) {
	data := make([]byte, ChunkTestSize*3)
	p := mustPlan(t, data, "/out/payload.bin")
	obs := &recordingObserver{}
	failing := &xfer.FailingWriter{Inner: &xfer.BufferedWriter{}, FailAt: 2}
	fetcher := &xfer.MockFetcher{Data: data, ChunkSize: ChunkTestSize}
	stage := New(fetcher, func(plan.Plan) xfer.Writer { return failing }, obs)

	done := make(chan pipeline.ExitCode, 1)
	stage.Start(context.Background(), p, func(code pipeline.ExitCode, _ plan.Plan) { done <- code })
	code := <-done

	if code.Kind != KindWriteError {
		t.Fatalf("exit kind = %q, want %q", code.Kind, KindWriteError)
	}
	if diff := cmp.Diff([]bool{true, false}, obs.statusCalls); diff != "" {
		t.Errorf("SetDownloadStatus calls (-want +got):\n%s", diff)
	}
}

// S4: Stop() during an in-flight transfer yields Cancelled, not a generic
// transport error, and still pairs SetDownloadStatus(false).
func TestDownloadStopIsCancelled(t *testing.T) {
	data := make([]byte, ChunkTestSize*4)
	p := mustPlan(t, data, "/out/payload.bin")
	obs := &recordingObserver{}
	bw := &xfer.BufferedWriter{}
	fetcher := &stoppingFetcher{data: data, chunkSize: ChunkTestSize, stopAfter: 1}
	stage := New(fetcher, func(plan.Plan) xfer.Writer { return bw }, obs)
	fetcher.stage = stage

	done := make(chan pipeline.ExitCode, 1)
	stage.Start(context.Background(), p, func(code pipeline.ExitCode, _ plan.Plan) { done <- code })
	code := <-done

	if code.Kind != KindCancelled {
		t.Fatalf("exit kind = %q, want %q", code.Kind, KindCancelled)
	}
}

// S5: a Writer whose Open fails (bad output path) must fail synchronously,
// before any chunk ever arrives, with DownloadWriteError and without ever
// calling SetDownloadStatus(true).
func TestDownloadBadOutputPathFailsBeforeAnyChunk(t *testing.T) {
	data := []byte("irrelevant")
	p := mustPlan(t, data, "/dev/null/not/a/real/path")
	obs := &recordingObserver{}
	fetcher := &xfer.MockFetcher{Data: data}
	stage := New(fetcher, func(plan.Plan) xfer.Writer { return &openFailingWriter{} }, obs)

	done := make(chan pipeline.ExitCode, 1)
	stage.Start(context.Background(), p, func(code pipeline.ExitCode, _ plan.Plan) { done <- code })
	code := <-done

	if code.Kind != KindWriteError {
		t.Fatalf("exit kind = %q, want %q", code.Kind, KindWriteError)
	}
	if len(obs.statusCalls) != 0 {
		t.Errorf("SetDownloadStatus called %d times, want 0 since Open failed before status went on", len(obs.statusCalls))
	}
}

// A transport-level failure (OnTransferComplete(false) without a prior
// Terminate) must surface as DownloadTransportError, distinct from
// Cancelled.
func TestDownloadTransportFailure(t *testing.T) {
	data := []byte("payload")
	p := mustPlan(t, data, "/out/payload.bin")
	obs := &recordingObserver{}
	bw := &xfer.BufferedWriter{}
	fetcher := &xfer.MockFetcher{Data: data, ChunkSize: len(data), FailAt: true}
	stage := New(fetcher, func(plan.Plan) xfer.Writer { return bw }, obs)

	done := make(chan pipeline.ExitCode, 1)
	stage.Start(context.Background(), p, func(code pipeline.ExitCode, _ plan.Plan) { done <- code })
	code := <-done

	if code.Kind != KindTransportError {
		t.Fatalf("exit kind = %q, want %q", code.Kind, KindTransportError)
	}
}

// A hash mismatch at the expected size must surface as DownloadHashMismatch,
// not success, even though every byte arrived.
func TestDownloadHashMismatch(t *testing.T) {
	data := []byte("the real payload bytes")
	p := mustPlan(t, data, "/out/payload.bin")
	p.PayloadHash[0] ^= 0xFF // corrupt the expected hash
	obs := &recordingObserver{}
	bw := &xfer.BufferedWriter{}
	fetcher := &xfer.MockFetcher{Data: data, ChunkSize: len(data)}
	stage := New(fetcher, func(plan.Plan) xfer.Writer { return bw }, obs)

	done := make(chan pipeline.ExitCode, 1)
	stage.Start(context.Background(), p, func(code pipeline.ExitCode, _ plan.Plan) { done <- code })
	code := <-done

	if code.Kind != KindHashMismatch {
		t.Fatalf("exit kind = %q, want %q", code.Kind, KindHashMismatch)
	}
}

// A size mismatch (fewer bytes than PayloadSize, despite a clean transport
// completion) must surface as DownloadSizeMismatch.
func TestDownloadSizeMismatch(t *testing.T) {
	data := []byte("full payload bytes here")
	p := mustPlan(t, data, "/out/payload.bin")
	short := data[:len(data)-5]
	obs := &recordingObserver{}
	bw := &xfer.BufferedWriter{}
	fetcher := &xfer.MockFetcher{Data: short, ChunkSize: len(short)}
	stage := New(fetcher, func(plan.Plan) xfer.Writer { return bw }, obs)

	done := make(chan pipeline.ExitCode, 1)
	stage.Start(context.Background(), p, func(code pipeline.ExitCode, _ plan.Plan) { done <- code })
	code := <-done

	if code.Kind != KindSizeMismatch {
		t.Fatalf("exit kind = %q, want %q", code.Kind, KindSizeMismatch)
	}
}

// ChunkTestSize is a small chunk size used only to force multiple
// OnChunk calls in tests without allocating ChunkMax-sized buffers.
const ChunkTestSize = 8

// openFailingWriter always fails Open, for the bad-output-path case.
type openFailingWriter struct{}

func (openFailingWriter) Open() error        { return errOpenFailed }
func (openFailingWriter) Seek(int64) error   { return nil }
func (openFailingWriter) Write([]byte) error { return nil }
func (openFailingWriter) Close() error       { return nil }

var errOpenFailed = &openError{}

type openError struct{}

func (*openError) Error() string { return "simulated open failure: bad output path" }

// stoppingFetcher wraps MockFetcher's chunk-delivery shape but calls
// stage.Stop() after stopAfter chunks, from inside OnChunk's own call
// stack, to exercise the Stop()->Terminate()->OnTransferTerminated() path
// deterministically.
type stoppingFetcher struct {
	data      []byte
	chunkSize int
	stopAfter int
	stage     *Stage
	seen      int
	terminated bool
}

var _ xfer.Fetcher = (*stoppingFetcher)(nil)

func (f *stoppingFetcher) SetOffset(uint64) {}

func (f *stoppingFetcher) Begin(ctx context.Context, delegate xfer.Delegate) {
	pos := 0
	for pos < len(f.data) {
		if f.terminated {
			delegate.OnTransferTerminated()
			return
		}
		end := pos + f.chunkSize
		if end > len(f.data) {
			end = len(f.data)
		}
		delegate.OnChunk(uint64(pos), f.data[pos:end])
		pos = end
		f.seen++
		if f.seen == f.stopAfter {
			f.stage.Stop()
		}
	}
	if f.terminated {
		delegate.OnTransferTerminated()
		return
	}
	delegate.OnTransferComplete(true)
}

func (f *stoppingFetcher) Terminate() { f.terminated = true }
