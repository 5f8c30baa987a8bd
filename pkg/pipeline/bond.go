package pipeline

import "context"

// Handle is an opaque reference to a bonded stage's output slot, used only
// to bond the next stage onto it. It carries no exported fields so the only
// way to produce one is Entry or Bond — there is no way to construct a
// mis-typed hand-off that compiles.
type Handle[T any] struct {
	slot *T
}

// node is the generic, type-safe implementation of runner. Its input is
// resolved lazily (via the `input` closure) so a node bonded to a
// predecessor reads that predecessor's output slot only once the
// predecessor has actually completed successfully.
type node[In, Out any] struct {
	stage  Stage[In, Out]
	input  func() In
	output *Out
}

func (n *node[In, Out]) name() string { return n.stage.Name() }

func (n *node[In, Out]) start(ctx context.Context, cb func(ExitCode)) {
	in := n.input()
	n.stage.Start(ctx, in, func(code ExitCode, out Out) {
		if code.IsSuccess() {
			*n.output = out
		}
		cb(code)
	})
}

func (n *node[In, Out]) stop() { n.stage.Stop() }

// Entry attaches the first stage of the pipeline, whose input is supplied
// directly (it has no predecessor). Returns a Handle other stages can Bond
// onto.
func Entry[In, Out any](p *Pipeline, s Stage[In, Out], in In) *Handle[Out] {
	outSlot := new(Out)
	n := &node[In, Out]{
		stage:  s,
		input:  func() In { return in },
		output: outSlot,
	}
	p.enqueue(n)
	return &Handle[Out]{slot: outSlot}
}

// Bond attaches a stage whose input is the previous stage's output. The
// compiler enforces prev's Out type equals s's In type, so a mis-bonded
// pipeline is a compile error rather than a runtime one.
func Bond[In, Out any](p *Pipeline, prev *Handle[In], s Stage[In, Out]) *Handle[Out] {
	outSlot := new(Out)
	n := &node[In, Out]{
		stage:  s,
		input:  func() In { return *prev.slot },
		output: outSlot,
	}
	p.enqueue(n)
	return &Handle[Out]{slot: outSlot}
}
