package pipeline_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-dev/streampipe/pkg/pipeline"
	"github.com/conclave-dev/streampipe/pkg/pipeline/drawer"
	"github.com/conclave-dev/streampipe/pkg/pipeline/measure"
)

func TestPipelineWithMeasureAndDrawer(t *testing.T) {
	t.Parallel()

	svgPath := filepath.Join(t.TempDir(), "pipeline.svg")

	msr := measure.NewDefaultMeasure()
	p := pipeline.New(
		pipeline.WithMeasure(msr),
		pipeline.WithDrawer(drawer.NewSVGDrawer(svgPath)),
	)

	gen, err := pipeline.AddGenerator(p, "source", pipeline.Consume([]int{1, 2, 3, 4, 5}))
	require.NoError(t, err)

	doubled, err := pipeline.AddTransform(p, "double", gen, func(in int) (int, error) {
		return in * 2, nil
	})
	require.NoError(t, err)

	var got []int
	err = pipeline.AddSink(p, "collect", doubled, func(in int) error {
		got = append(got, in)

		return nil
	})
	require.NoError(t, err)

	_, err = p.Consume()
	require.NoError(t, err)

	assert.Equal(t, []int{2, 4, 6, 8, 10}, got)

	all := msr.AllMetrics()
	assert.Len(t, all, 3)
	for name, metric := range all {
		assert.Greater(t, metric.GetTotalDuration(), time.Duration(0), "stage %s should have a recorded total duration", name)
	}

	info, err := os.Stat(svgPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestAnalyzeBottleneckRequiresMeasure(t *testing.T) {
	t.Parallel()

	p := pipeline.New()
	gen, err := pipeline.AddGenerator(p, "source", pipeline.Consume([]int{1}))
	require.NoError(t, err)
	err = pipeline.AddSink(p, "collect", gen, func(in int) error { return nil })
	require.NoError(t, err)

	_, err = p.AnalyzeBottleneck()
	assert.Error(t, err)
}

func TestAnalyzeBottleneckAfterConsume(t *testing.T) {
	t.Parallel()

	msr := measure.NewDefaultMeasure()
	p := pipeline.New(pipeline.WithMeasure(msr))

	gen, err := pipeline.AddGenerator(p, "source", pipeline.Consume([]int{1, 2, 3}))
	require.NoError(t, err)

	// "double" is deliberately made the slowest stage (and, by holding items
	// longer, the slowest inbound transport too) so the bottleneck path is
	// deterministic: it must report zero slack and sort first.
	doubled, err := pipeline.AddTransform(p, "double", gen, func(in int) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return in * 2, nil
	})
	require.NoError(t, err)

	err = pipeline.AddSink(p, "collect", doubled, func(in int) error { return nil })
	require.NoError(t, err)

	_, err = p.Consume()
	require.NoError(t, err)

	flows, err := p.AnalyzeBottleneck()
	require.NoError(t, err)
	require.Len(t, flows, 3)

	names := make([]string, len(flows))
	for i, f := range flows {
		names[i] = f.StageName
	}
	assert.ElementsMatch(t, []string{"source", "double", "collect"}, names)

	assert.Equal(t, "double", flows[0].StageName, "the slowest stage/transport should report the least slack and sort first")
	assert.Zero(t, flows[0].Capacity, "the slowest stage has no duration headroom left")
	assert.Zero(t, flows[0].InEdgeWeight, "the slowest inbound transport has no headroom left")

	for _, f := range flows[1:] {
		assert.False(t, f.Capacity == 0 && f.InEdgeWeight == 0,
			"stage %s should not also report zero slack on both dimensions", f.StageName)
	}
}
