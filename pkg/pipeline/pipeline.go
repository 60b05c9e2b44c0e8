package pipeline

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/conclave-dev/streampipe/pkg/pipeline/drawer"
	"github.com/conclave-dev/streampipe/pkg/pipeline/measure"
)

// State is the pipeline's lifecycle state.
type State uint8

const (
	Idle State = iota
	Running
	Paused
)

// ReturnValue reports whether a lifecycle call actually changed the
// pipeline's state (Ok) or found it already there (NoOp).
type ReturnValue uint8

const (
	Ok ReturnValue = iota
	NoOp
)

// Option configures a Pipeline at construction time via the functional-
// options pattern.
type Option func(p *Pipeline)

// WithLogger attaches a structured logger every stage uses to report
// callable failures. The default is zerolog.Nop(), matching a library that
// stays silent unless a caller opts in.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithMeasure attaches a measure.Measure that records per-stage timing.
// Without this option, stages run unmeasured.
func WithMeasure(m measure.Measure) Option {
	return func(p *Pipeline) {
		p.measure = m
	}
}

// WithDrawer attaches a drawer.Drawer that renders the pipeline's topology
// (and, if a Measure is also attached, its timing) once Consume finishes
// draining the stream.
func WithDrawer(d drawer.Drawer) Option {
	return func(p *Pipeline) {
		p.drawer = d
	}
}

// Pipeline is an ordered chain of stages, each running on its own worker
// goroutine and connected to its neighbors by a BufferQueue. Every method is
// safe to call concurrently.
type Pipeline struct {
	mu        sync.Mutex
	state     State
	stages    []stageHandle
	buffers   []bufferHandle
	measure   measure.Measure
	drawer    drawer.Drawer
	log       zerolog.Logger
	startTime time.Time
	topo      *topology
}

// New creates an empty, Idle pipeline. Stages are attached to it with the
// package-level Add* builder functions.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{log: zerolog.Nop(), topo: newTopology()}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// register wires a newly built stage's core and output buffer into the
// pipeline's bookkeeping and, if a drawer is attached, into the rendered
// topology. output may be nil for a terminal (sink) stage.
func (p *Pipeline) register(name, upstream string, core *stage, output bufferHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.topo.addStep(name); err != nil {
		return errors.Wrapf(err, "unable to add stage %q to topology", name)
	}
	if upstream != "" {
		if err := p.topo.addLink(upstream, name); err != nil {
			return errors.Wrapf(err, "unable to link stage %q to %q in topology", upstream, name)
		}
	}

	if p.drawer != nil {
		if err := p.drawer.AddStep(name); err != nil {
			return errors.Wrapf(err, "unable to add stage %q to drawer", name)
		}
		if upstream != "" {
			if err := p.drawer.AddLink(upstream, name); err != nil {
				return errors.Wrapf(err, "unable to link stage %q to %q in drawer", upstream, name)
			}
		}
	}

	p.stages = append(p.stages, core)
	if output != nil {
		p.buffers = append(p.buffers, output)
	}

	return nil
}

// metricFor registers name with the attached Measure, or returns nil if no
// Measure is attached.
func (p *Pipeline) metricFor(name string) measure.Metric {
	p.mu.Lock()
	m := p.measure
	p.mu.Unlock()

	if m == nil {
		return nil
	}

	return m.AddMetric(name)
}

// AddGenerator attaches a 0->1 stage with no upstream: the first stage of a
// pipeline.
func AddGenerator[O any](p *Pipeline, name string, fn GeneratorFunc[O]) (*Stage[O], error) {
	if p == nil {
		return nil, ErrPipelineNil
	}

	output := NewBufferQueue[Item[O]]()
	metric := p.metricFor(name)
	core := newGeneratorStage(name, fn, output, p.log, metric)

	if err := p.register(name, "", core, output); err != nil {
		return nil, err
	}

	return &Stage[O]{name: name, core: core, output: output}, nil
}

// AddTransform attaches a 1->1 stage downstream of input.
func AddTransform[I, O any](p *Pipeline, name string, input *Stage[I], fn TransformFunc[I, O]) (*Stage[O], error) {
	if p == nil {
		return nil, ErrPipelineNil
	}
	if input == nil {
		return nil, ErrInputNil
	}

	output := NewBufferQueue[Item[O]]()
	metric := p.metricFor(name)
	core := newTransformStage(name, input.name, input.output, fn, output, p.log, metric)

	if err := p.register(name, input.name, core, output); err != nil {
		return nil, err
	}

	return &Stage[O]{name: name, core: core, output: output}, nil
}

// AddFilter attaches a 1->(0 or 1) stage downstream of input.
func AddFilter[I, O any](p *Pipeline, name string, input *Stage[I], fn FilterFunc[I, O]) (*Stage[O], error) {
	if p == nil {
		return nil, ErrPipelineNil
	}
	if input == nil {
		return nil, ErrInputNil
	}

	output := NewBufferQueue[Item[O]]()
	metric := p.metricFor(name)
	core := newFilterStage(name, input.name, input.output, fn, output, p.log, metric)

	if err := p.register(name, input.name, core, output); err != nil {
		return nil, err
	}

	return &Stage[O]{name: name, core: core, output: output}, nil
}

// AddHatchGenerator attaches a 0->(0..N) stage with no upstream.
func AddHatchGenerator[O any](p *Pipeline, name string, fn HatchGenFunc[O]) (*Stage[O], error) {
	if p == nil {
		return nil, ErrPipelineNil
	}

	output := NewBufferQueue[Item[O]]()
	metric := p.metricFor(name)
	core := newHatchGeneratorStage(name, fn, output, p.log, metric)

	if err := p.register(name, "", core, output); err != nil {
		return nil, err
	}

	return &Stage[O]{name: name, core: core, output: output}, nil
}

// AddHatchTransform attaches a 1->(1..N) stage downstream of input.
func AddHatchTransform[I, O any](p *Pipeline, name string, input *Stage[I], fn HatchFunc[I, O]) (*Stage[O], error) {
	if p == nil {
		return nil, ErrPipelineNil
	}
	if input == nil {
		return nil, ErrInputNil
	}

	output := NewBufferQueue[Item[O]]()
	metric := p.metricFor(name)
	core := newHatchTransformStage(name, input.name, input.output, fn, output, p.log, metric)

	if err := p.register(name, input.name, core, output); err != nil {
		return nil, err
	}

	return &Stage[O]{name: name, core: core, output: output}, nil
}

// AddSink attaches a terminal 1->0 stage downstream of input. Because
// nothing chains after a sink, it returns no Stage handle.
func AddSink[I any](p *Pipeline, name string, input *Stage[I], fn SinkFunc[I]) error {
	if p == nil {
		return ErrPipelineNil
	}
	if input == nil {
		return ErrInputNil
	}

	metric := p.metricFor(name)
	core := newSinkStage(name, input.name, input.output, fn, p.log, metric)

	return p.register(name, input.name, core, nil)
}

// Run starts every stage's worker goroutine and returns immediately. From
// Idle it starts the pipeline; from Paused it thaws every buffer and
// resumes; from Running it is a NoOp.
func (p *Pipeline) Run() (ReturnValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Running:
		return NoOp, nil
	case Paused:
		for _, b := range p.buffers {
			b.SetMode(WaitOnEmpty)
		}
		p.state = Running

		return Ok, nil
	}

	p.startTime = time.Now()
	for _, b := range p.buffers {
		b.SetMode(WaitOnEmpty)
	}
	for _, s := range p.stages {
		s.start()
	}
	p.state = Running

	return Ok, nil
}

// Pause freezes every buffer in place: no stage can Push or Pop until Run or
// Consume thaws it again. Buffered items are preserved. A no-op unless the
// pipeline is currently Running.
func (p *Pipeline) Pause() (ReturnValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Running {
		return NoOp, nil
	}

	for _, b := range p.buffers {
		b.SetMode(Frozen)
	}
	p.state = Paused

	return Ok, nil
}

// Stop tears the pipeline down: every stage is signaled to exit, every
// buffer is closed (discarding anything still queued), and Stop blocks
// until every worker goroutine has actually exited. A no-op if the pipeline
// is already Idle.
func (p *Pipeline) Stop() (ReturnValue, error) {
	p.mu.Lock()
	if p.state == Idle {
		p.mu.Unlock()
		return NoOp, nil
	}

	stages := append([]stageHandle(nil), p.stages...)
	buffers := append([]bufferHandle(nil), p.buffers...)
	p.state = Idle
	p.mu.Unlock()

	// Two-phase shutdown: clear every stage's alive flag first (so a worker
	// that is between iterations exits on its own), then close every buffer
	// (so a worker blocked inside Push/Pop is unblocked), then join.
	for _, s := range stages {
		s.requestStop()
	}
	for _, b := range buffers {
		b.SetMode(Closed)
	}

	var g errgroup.Group
	for _, s := range stages {
		s := s
		g.Go(func() error {
			s.join()
			return nil
		})
	}

	err := g.Wait()

	// Once every worker has exited, the buffers are unobserved: clear
	// whatever they still held and reset them to WaitOnEmpty so a
	// subsequent Run starts from a clean, steady-state pipeline.
	for _, b := range buffers {
		b.Clear()
		b.SetMode(WaitOnEmpty)
	}

	return Ok, err
}

// Consume starts the pipeline if it is Idle (or resumes it if Paused), then
// blocks until the generator's end-of-stream signal has drained through
// every stage. Once every stage has exited on its own, Consume finalizes
// timing (if a Measure is attached) and renders the topology (if a Drawer
// is attached), then leaves the pipeline Idle.
func (p *Pipeline) Consume() (ReturnValue, error) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	if state != Running {
		if _, err := p.Run(); err != nil {
			return NoOp, err
		}
	}

	p.mu.Lock()
	stages := append([]stageHandle(nil), p.stages...)
	p.mu.Unlock()

	var g errgroup.Group
	for _, s := range stages {
		s := s
		g.Go(func() error {
			s.consume()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return NoOp, err
	}

	p.mu.Lock()
	p.state = Idle
	elapsed := time.Since(p.startTime)
	msr := p.measure
	drw := p.drawer
	p.mu.Unlock()

	if msr != nil {
		for _, m := range msr.AllMetrics() {
			m.SetTotalDuration(elapsed)
		}
	}

	if drw != nil {
		if msr != nil {
			if err := drw.AddMeasure(msr); err != nil {
				return Ok, errors.Wrap(err, "unable to attach measure to drawer")
			}
		}
		if err := drw.Draw(); err != nil {
			return Ok, errors.Wrap(err, "unable to draw pipeline")
		}
	}

	return Ok, nil
}

// State reports the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}
