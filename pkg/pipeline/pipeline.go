// Package pipeline implements a generic staged-execution framework: an
// ordered list of stages, each with statically typed input/output, driven
// one at a time, with typed hand-off from one stage's output to the next
// stage's input.
//
// Construction-time typed hand-off (the templated Action/ActionPipe
// approach chromeos_update_engine uses) becomes, in Go, a compile-time
// check via generics: Bond's type parameters force the producer's Out type
// and the consumer's In type to match, or the program does not compile.
// See pkg/pipeline/bond.go.
package pipeline

import (
	"context"
	"sync"
)

// ExitCode is a stage's completion status. The zero value is Success.
type ExitCode struct {
	// Kind is empty on success, otherwise one of the error-kind taxonomy
	// strings (DownloadTransportError, DownloadWriteError, ...) or
	// "Cancelled".
	Kind string
	Err  error
}

// Success is the zero-value, non-error completion.
var Success = ExitCode{}

// Cancelled is returned by stages whose Stop() caused their completion.
func Cancelled() ExitCode { return ExitCode{Kind: "Cancelled"} }

// Failed wraps kind/err into an ExitCode.
func Failed(kind string, err error) ExitCode { return ExitCode{Kind: kind, Err: err} }

// IsSuccess reports whether the code represents successful completion.
func (e ExitCode) IsSuccess() bool { return e.Kind == "" }

func (e ExitCode) String() string {
	if e.IsSuccess() {
		return "Success"
	}
	return e.Kind
}

// Delegate receives pipeline lifecycle callbacks.
type Delegate interface {
	OnStageComplete(stageName string, code ExitCode)
	OnPipelineDone(code ExitCode)
	OnPipelineStopped()
}

// Stage is a single pipeline step with a statically declared input and
// output type. Start must call done exactly once. Stop requests cooperative
// cancellation but does not itself complete the stage — the stage must
// still call done (with an ExitCode describing why it stopped).
type Stage[In, Out any] interface {
	Name() string
	Start(ctx context.Context, in In, done func(ExitCode, Out))
	Stop()
}

// runner is the type-erased view of a node the Pipeline drives. Each
// concrete node[In, Out] (see bond.go) implements this.
type runner interface {
	start(ctx context.Context, cb func(ExitCode))
	stop()
	name() string
}

// Pipeline drives a sequence of bonded stages one at a time. Build one with
// New, attach stages with Entry/Bond, then call Start.
type Pipeline struct {
	mu            sync.Mutex
	nodes         []runner
	delegate      Delegate
	running       bool
	stopRequested bool
	idx           int
	ctx           context.Context
	cancel        context.CancelFunc
}

// New returns an empty Pipeline. Attach stages with Entry/Bond before
// calling Start.
func New(delegate Delegate) *Pipeline {
	return &Pipeline{delegate: delegate}
}

// enqueue is called by Entry/Bond as stages are attached; not part of the
// public API since attaching after Start is undefined.
func (p *Pipeline) enqueue(n runner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes = append(p.nodes, n)
}

// Start begins execution of the first stage. If the pipeline is empty or
// already running, Start is a no-op. If the first stage fails
// synchronously (e.g. a bad output path), Start returns with IsRunning()
// already false and only that stage's failure reported — no further stage
// runs.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.running || len(p.nodes) == 0 {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopRequested = false
	p.idx = 0
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()
	p.runCurrent()
}

func (p *Pipeline) runCurrent() {
	p.mu.Lock()
	idx := p.idx
	ctx := p.ctx
	n := p.nodes[idx]
	p.mu.Unlock()
	n.start(ctx, func(code ExitCode) { p.onNodeDone(idx, n, code) })
}

func (p *Pipeline) onNodeDone(idx int, n runner, code ExitCode) {
	p.delegate.OnStageComplete(n.name(), code)

	p.mu.Lock()
	stopped := p.stopRequested
	p.mu.Unlock()

	if stopped {
		p.finish()
		p.delegate.OnPipelineStopped()
		return
	}

	if !code.IsSuccess() {
		p.finish()
		p.delegate.OnPipelineDone(code)
		return
	}

	p.mu.Lock()
	last := idx+1 >= len(p.nodes)
	if !last {
		p.idx = idx + 1
	}
	p.mu.Unlock()

	if last {
		p.finish()
		p.delegate.OnPipelineDone(code)
		return
	}
	p.runCurrent()
}

func (p *Pipeline) finish() {
	p.mu.Lock()
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop requests cooperative cancellation of the currently active stage.
// Idempotent: calling it more than once, or when the pipeline is not
// running, has no effect. The pipeline emits exactly one OnPipelineStopped
// once the active stage acknowledges the stop by completing (with any exit
// code).
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running || p.stopRequested {
		p.mu.Unlock()
		return
	}
	p.stopRequested = true
	idx := p.idx
	n := p.nodes[idx]
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	n.stop()
}

// IsRunning reports whether a stage is currently active.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
