package pipeline_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-dev/streampipe/pkg/pipeline"
)

func iotaGen(start int) pipeline.GeneratorFunc[int] {
	n := start - 1
	return func() (int, error) {
		n++
		return n, nil
	}
}

// copiesHatch emits n copies of n for every input n, modeling scenario D's
// "hatch (n->n copies of n)" stage.
func copiesHatch() pipeline.HatchFunc[int, int] {
	var value, total, emitted int

	return func(in pipeline.Hatchable[int]) (pipeline.Hatchable[int], error) {
		if in.Ok {
			value, total, emitted = in.Value, in.Value, 0
		}
		if emitted >= total {
			return pipeline.Hatchable[int]{}, nil
		}
		emitted++

		return pipeline.Hatchable[int]{Value: value, Ok: true}, nil
	}
}

func TestAddTransformNilPipeline(t *testing.T) {
	t.Parallel()

	_, err := pipeline.AddTransform[int, int](nil, "x", nil, func(in int) (int, error) { return in, nil })
	assert.ErrorIs(t, err, pipeline.ErrPipelineNil)
}

func TestAddTransformNilInput(t *testing.T) {
	t.Parallel()

	p := pipeline.New()
	_, err := pipeline.AddTransform[int, int](p, "x", nil, func(in int) (int, error) { return in, nil })
	assert.ErrorIs(t, err, pipeline.ErrInputNil)
}

func TestAddSinkNilPipeline(t *testing.T) {
	t.Parallel()

	err := pipeline.AddSink[int](nil, "x", nil, func(in int) error { return nil })
	assert.ErrorIs(t, err, pipeline.ErrPipelineNil)
}

// Scenario A: Consume([1..10]) -> x->2x -> x->x/2 -> collect == [1..10].
func TestScenarioA_DoubleThenHalve(t *testing.T) {
	t.Parallel()

	p := pipeline.New()

	gen, err := pipeline.AddGenerator(p, "source", pipeline.Consume([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))
	require.NoError(t, err)

	doubled, err := pipeline.AddTransform(p, "double", gen, func(in int) (int, error) {
		return in * 2, nil
	})
	require.NoError(t, err)

	halved, err := pipeline.AddTransform(p, "halve", doubled, func(in int) (int, error) {
		return in / 2, nil
	})
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []int
	)
	err = pipeline.AddSink(p, "collect", halved, func(in int) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, in)

		return nil
	})
	require.NoError(t, err)

	rv, err := p.Consume()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Ok, rv)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

// Scenario B: Iota(1) -> sink counter, run for a short interval, then stop;
// counter >= 100 and the sink observed exactly that many items.
func TestScenarioB_StopIsPrompt(t *testing.T) {
	t.Parallel()

	p := pipeline.New()

	gen, err := pipeline.AddGenerator(p, "iota", iotaGen(1))
	require.NoError(t, err)

	var (
		sinkCount atomic.Int64
		genCount  atomic.Int64
	)
	err = pipeline.AddSink(p, "counter", gen, func(in int) error {
		sinkCount.Add(1)
		genCount.Store(int64(in))

		return nil
	})
	require.NoError(t, err)

	rv, err := p.Run()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Ok, rv)

	time.Sleep(100 * time.Millisecond)

	rv, err = p.Stop()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Ok, rv)

	assert.GreaterOrEqual(t, sinkCount.Load(), int64(100))
	assert.Equal(t, genCount.Load(), sinkCount.Load())
}

// Scenario C: Consume([-1000..8999]) -> filter odd -> collect: 5000 values,
// all odd.
func TestScenarioC_FilterOdd(t *testing.T) {
	t.Parallel()

	values := make([]int, 0, 10000)
	for i := -1000; i <= 8999; i++ {
		values = append(values, i)
	}

	p := pipeline.New()

	gen, err := pipeline.AddGenerator(p, "source", pipeline.Consume(values))
	require.NoError(t, err)

	odd, err := pipeline.AddFilter(p, "odd", gen, func(in int) (pipeline.Filtered[int], error) {
		if in%2 == 0 {
			return pipeline.Filtered[int]{}, nil
		}

		return pipeline.Filtered[int]{Value: in, Ok: true}, nil
	})
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []int
	)
	err = pipeline.AddSink(p, "collect", odd, func(in int) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, in)

		return nil
	})
	require.NoError(t, err)

	_, err = p.Consume()
	require.NoError(t, err)

	assert.Len(t, got, 5000)
	for _, v := range got {
		assert.NotEqual(t, 0, v%2)
	}
}

// Scenario D: Consume([1..10]) -> hatch (n->n copies of n) -> collect:
// length 55.
func TestScenarioD_HatchCopies(t *testing.T) {
	t.Parallel()

	p := pipeline.New()

	gen, err := pipeline.AddGenerator(p, "source", pipeline.Consume([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))
	require.NoError(t, err)

	copies, err := pipeline.AddHatchTransform(p, "copies", gen, copiesHatch())
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []int
	)
	err = pipeline.AddSink(p, "collect", copies, func(in int) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, in)

		return nil
	})
	require.NoError(t, err)

	_, err = p.Consume()
	require.NoError(t, err)

	assert.Len(t, got, 55)
}

// Scenario E: Iota(1) -> sink -> run -> pause -> read counters -> resume ->
// stop; counter stable (+-1) during the pause window, increases after
// resume.
func TestScenarioE_PauseConservesProgress(t *testing.T) {
	t.Parallel()

	p := pipeline.New()

	gen, err := pipeline.AddGenerator(p, "iota", iotaGen(1))
	require.NoError(t, err)

	var count atomic.Int64
	err = pipeline.AddSink(p, "counter", gen, func(in int) error {
		count.Add(1)

		return nil
	})
	require.NoError(t, err)

	_, err = p.Run()
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	rv, err := p.Pause()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Ok, rv)

	atPause := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.InDelta(t, atPause, count.Load(), 1)

	rv, err = p.Run()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Ok, rv)

	time.Sleep(50 * time.Millisecond)
	assert.Greater(t, count.Load(), atPause)

	_, err = p.Stop()
	require.NoError(t, err)
}

// A panic inside a transform callable is swallowed for that one item; the
// stage keeps running.
func TestTransformPanicRecoversAndContinues(t *testing.T) {
	t.Parallel()

	p := pipeline.New()

	gen, err := pipeline.AddGenerator(p, "source", pipeline.Consume([]int{1, 2, 3}))
	require.NoError(t, err)

	risky, err := pipeline.AddTransform(p, "risky", gen, func(in int) (int, error) {
		if in == 2 {
			panic("boom")
		}

		return in, nil
	})
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []int
	)
	err = pipeline.AddSink(p, "collect", risky, func(in int) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, in)

		return nil
	})
	require.NoError(t, err)

	_, err = p.Consume()
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, got)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	p := pipeline.New()
	_, err := pipeline.AddGenerator(p, "source", pipeline.Consume([]int{1}))
	require.NoError(t, err)

	rv, err := p.Run()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Ok, rv)

	rv, err = p.Run()
	require.NoError(t, err)
	assert.Equal(t, pipeline.NoOp, rv)

	_, err = p.Stop()
	require.NoError(t, err)
}

func TestStopOnIdleIsNoOp(t *testing.T) {
	t.Parallel()

	p := pipeline.New()
	_, err := pipeline.AddGenerator(p, "source", pipeline.Consume([]int{1}))
	require.NoError(t, err)

	rv, err := p.Stop()
	require.NoError(t, err)
	assert.Equal(t, pipeline.NoOp, rv)
}
