package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/conclave-dev/streampipe/pkg/pipeline/measure"
)

// GeneratorFunc produces values with no input. It signals exhaustion by
// returning ErrEndOfStream (or an error wrapping it, via errors.Is).
type GeneratorFunc[O any] func() (O, error)

// TransformFunc converts one input into one output. A returned error drops
// the current item; the stage keeps running.
type TransformFunc[I, O any] func(I) (O, error)

// SinkFunc consumes an input, producing no output. A returned error drops
// the current item; the stage keeps running.
type SinkFunc[I any] func(I) error

// FilterFunc converts one input into at most one output. Filtered.Ok=false
// drops the item without an error being logged; a returned error drops the
// item and is logged like any other callable failure.
type FilterFunc[I, O any] func(I) (Filtered[O], error)

// HatchGenFunc produces zero or one value per invocation with no input; see
// AddHatchGenerator.
type HatchGenFunc[O any] func() (Hatchable[O], error)

// HatchFunc converts one input into one or more outputs. It is invoked once
// with the real input wrapped (Ok=true), then repeatedly with an empty ping
// (Ok=false) until it returns Hatchable.Ok=false, ending the burst.
type HatchFunc[I, O any] func(Hatchable[I]) (Hatchable[O], error)

// stage is the non-generic lifecycle core shared by every Stage[I,O]. It
// owns exactly one worker goroutine: at most one concurrent worker per
// stage.
type stage struct {
	name    string
	alive   atomic.Bool
	cmdMu   sync.Mutex
	done    chan struct{}
	runOnce func() bool
	input   bufferHandle
	output  bufferHandle
	log     zerolog.Logger
}

// start installs the worker goroutine if the stage is not already running.
// Idempotent: a second start while alive is a no-op (Idle --start--> Running).
func (s *stage) start() {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.alive.Load() {
		return
	}

	s.alive.Store(true)
	s.done = make(chan struct{})
	s.log.Debug().Str("stage", s.name).Msg("stage starting")

	go s.loop()
}

func (s *stage) loop() {
	defer close(s.done)
	defer s.log.Debug().Str("stage", s.name).Msg("stage exited")

	for s.alive.Load() {
		if !s.runOnce() {
			return
		}
	}
}

// requestStop clears the alive flag without waiting for the worker to exit.
// A worker blocked inside a BufferQueue.Pop/Push will not notice this until
// the buffer itself is closed; Pipeline.Stop relies on that two-phase
// handshake.
func (s *stage) requestStop() {
	s.alive.Store(false)
}

// join blocks until the worker goroutine has exited. Safe to call even if
// start was never called or the worker already exited.
func (s *stage) join() {
	s.cmdMu.Lock()
	done := s.done
	s.cmdMu.Unlock()

	if done != nil {
		<-done
	}
}

// consume waits for the worker to terminate naturally (after observing
// end-of-stream or a closed buffer) without first clearing alive.
func (s *stage) consume() {
	s.join()
	s.alive.Store(false)
}

// stageHandle is the non-generic view of a Stage[I,O] the Pipeline uses to
// drive its lifecycle without knowing its I/O types.
type stageHandle interface {
	start()
	requestStop()
	join()
	consume()
}

var _ stageHandle = (*stage)(nil)

// Stage is a typed handle to a single pipeline stage, returned by every
// Add* builder function so the next stage in the chain can be wired against
// it with compile-time type checking.
type Stage[O any] struct {
	name   string
	core   *stage
	output *BufferQueue[Item[O]]
}

// Name returns the stage's registered name, as passed to its Add* builder
// call.
func (s *Stage[O]) Name() string {
	return s.name
}

func recoverAsError(r any) error {
	return fmt.Errorf("pipeline: stage callable panicked: %v", r)
}

// recordDuration reports elapsed since start to metric's AddDuration, or
// does nothing if the stage has no metric attached.
func recordDuration(metric measure.Metric, start time.Time) {
	if metric != nil {
		metric.AddDuration(time.Since(start))
	}
}

// recordTransport reports how long an item spent queued upstream of the
// current stage, or does nothing if the stage has no metric attached.
func recordTransport(metric measure.Metric, upstream string, elapsed time.Duration) {
	if metric != nil {
		metric.AddTransportDuration(upstream, elapsed)
	}
}

func callGenerator[O any](fn GeneratorFunc[O]) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverAsError(r)
		}
	}()
	return fn()
}

func callTransform[I, O any](fn TransformFunc[I, O], in I) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverAsError(r)
		}
	}()
	return fn(in)
}

func callSink[I any](fn SinkFunc[I], in I) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverAsError(r)
		}
	}()
	return fn(in)
}

func callFilter[I, O any](fn FilterFunc[I, O], in I) (out Filtered[O], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverAsError(r)
		}
	}()
	return fn(in)
}

func callHatchGen[O any](fn HatchGenFunc[O]) (out Hatchable[O], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverAsError(r)
		}
	}()
	return fn()
}

func callHatch[I, O any](fn HatchFunc[I, O], in Hatchable[I]) (out Hatchable[O], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverAsError(r)
		}
	}()
	return fn(in)
}

// newGeneratorStage builds the worker body for a 0->1 stage: invoke fn, push
// a ready item, and push+stop on end-of-stream.
func newGeneratorStage[O any](name string, fn GeneratorFunc[O], output *BufferQueue[Item[O]], log zerolog.Logger, metric measure.Metric) *stage {
	s := &stage{name: name, output: output, log: log}
	s.runOnce = func() bool {
		start := time.Now()
		value, err := callGenerator(fn)
		if err != nil {
			if IsControlSignal(err) {
				_ = output.Push(EndOfStream[O]())
				return false
			}
			log.Warn().Str("stage", name).Err(err).Msg("generator callable failed: tick dropped")
			return true
		}
		if pushErr := output.Push(Ready(value)); pushErr != nil {
			return false
		}
		recordDuration(metric, start)
		return true
	}
	return s
}

// newTransformStage builds the worker body for a 1->1 stage.
func newTransformStage[I, O any](name string, upstream string, input *BufferQueue[Item[I]], fn TransformFunc[I, O], output *BufferQueue[Item[O]], log zerolog.Logger, metric measure.Metric) *stage {
	s := &stage{name: name, input: input, output: output, log: log}
	s.runOnce = func() bool {
		item, waited, popErr := input.PopTimed()
		if popErr != nil {
			return false
		}
		recordTransport(metric, upstream, waited)

		if item.IsEndOfStream() {
			_ = output.Push(EndOfStream[O]())
			return false
		}

		start := time.Now()
		value, err := callTransform(fn, item.Value)
		if err != nil {
			log.Warn().Str("stage", name).Err(err).Msg("transform callable failed: item dropped")
			return true
		}
		if pushErr := output.Push(Ready(value)); pushErr != nil {
			return false
		}
		recordDuration(metric, start)
		return true
	}
	return s
}

// newSinkStage builds the worker body for a 1->0 stage.
func newSinkStage[I any](name string, upstream string, input *BufferQueue[Item[I]], fn SinkFunc[I], log zerolog.Logger, metric measure.Metric) *stage {
	s := &stage{name: name, input: input, log: log}
	s.runOnce = func() bool {
		item, waited, popErr := input.PopTimed()
		if popErr != nil {
			return false
		}
		recordTransport(metric, upstream, waited)

		if item.IsEndOfStream() {
			return false
		}

		start := time.Now()
		if err := callSink(fn, item.Value); err != nil {
			log.Warn().Str("stage", name).Err(err).Msg("sink callable failed: item dropped")
			return true
		}
		recordDuration(metric, start)
		return true
	}
	return s
}

// newFilterStage builds the worker body for a 1->(0 or 1) stage: the
// worker keeps running even on an iteration where nothing was pushed.
func newFilterStage[I, O any](name string, upstream string, input *BufferQueue[Item[I]], fn FilterFunc[I, O], output *BufferQueue[Item[O]], log zerolog.Logger, metric measure.Metric) *stage {
	s := &stage{name: name, input: input, output: output, log: log}
	s.runOnce = func() bool {
		item, waited, popErr := input.PopTimed()
		if popErr != nil {
			return false
		}
		recordTransport(metric, upstream, waited)

		if item.IsEndOfStream() {
			_ = output.Push(EndOfStream[O]())
			return false
		}

		start := time.Now()
		filtered, err := callFilter(fn, item.Value)
		if err != nil {
			log.Warn().Str("stage", name).Err(err).Msg("filter callable failed: item dropped")
			return true
		}
		if !filtered.Ok {
			return true
		}
		if pushErr := output.Push(Ready(filtered.Value)); pushErr != nil {
			return false
		}
		recordDuration(metric, start)
		return true
	}
	return s
}

// newHatchGeneratorStage builds the worker body for a 0->(0..N) stage: each
// tick may or may not produce a value, and end-of-stream is still signaled
// by returning (a wrapped) ErrEndOfStream, same as a plain generator.
func newHatchGeneratorStage[O any](name string, fn HatchGenFunc[O], output *BufferQueue[Item[O]], log zerolog.Logger, metric measure.Metric) *stage {
	s := &stage{name: name, output: output, log: log}
	s.runOnce = func() bool {
		start := time.Now()
		out, err := callHatchGen(fn)
		if err != nil {
			if IsControlSignal(err) {
				_ = output.Push(EndOfStream[O]())
				return false
			}
			log.Warn().Str("stage", name).Err(err).Msg("hatch generator callable failed: tick dropped")
			return true
		}
		if out.Ok {
			if pushErr := output.Push(Ready(out.Value)); pushErr != nil {
				return false
			}
		}
		recordDuration(metric, start)
		return true
	}
	return s
}

// newHatchTransformStage builds the worker body for a 1->(1..N) stage: the
// callable is invoked once with the wrapped input, then repeatedly with an
// empty ping while it keeps returning a truthy envelope.
func newHatchTransformStage[I, O any](name string, upstream string, input *BufferQueue[Item[I]], fn HatchFunc[I, O], output *BufferQueue[Item[O]], log zerolog.Logger, metric measure.Metric) *stage {
	s := &stage{name: name, input: input, output: output, log: log}
	s.runOnce = func() bool {
		item, waited, popErr := input.PopTimed()
		if popErr != nil {
			return false
		}
		recordTransport(metric, upstream, waited)

		if item.IsEndOfStream() {
			_ = output.Push(EndOfStream[O]())
			return false
		}

		start := time.Now()
		envelope := Hatchable[I]{Value: item.Value, Ok: true}
		for {
			out, err := callHatch(fn, envelope)
			if err != nil {
				log.Warn().Str("stage", name).Err(err).Msg("hatch callable failed: burst dropped")
				break
			}
			if !out.Ok {
				break
			}
			if pushErr := output.Push(Ready(out.Value)); pushErr != nil {
				return false
			}
			envelope = Hatchable[I]{}
		}
		recordDuration(metric, start)
		return true
	}
	return s
}
