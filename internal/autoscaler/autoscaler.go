// Package autoscaler locates the stage chain that most constrains a
// pipeline's throughput: the path from entry to exit with the least slack
// once every stage's measured average duration is weighed against it.
package autoscaler

import (
	"sort"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"

	"github.com/conclave-dev/streampipe/internal/store"
	"github.com/conclave-dev/streampipe/pkg/pipeline/measure"
)

// Flow describes one stage along the pipeline's most-constrained path: its
// remaining duration headroom against the pipeline's slowest stage, and its
// inbound transport's remaining headroom against the slowest transport.
type Flow struct {
	StageName    string
	Capacity     time.Duration
	InEdgeWeight time.Duration
}

// stageSnapshot is a one-time read of a single stage's average duration and
// its inbound transports' average durations, taken once per
// AnalyzeBottleneck call so every downstream computation sees the same
// numbers regardless of how many times they're consulted.
type stageSnapshot struct {
	avgDuration  time.Duration
	avgTransport map[string]time.Duration
}

// AnalyzeBottleneck weighs topo's vertices and edges from msr's recorded
// timings (vertex weight: how much duration headroom the stage has left
// before it becomes the slowest stage; edge weight: the same for the
// transport feeding it), then returns the entry->exit path with the least
// headroom — the chain most likely to be the pipeline's bottleneck — sorted
// so the single tightest link in that chain comes first.
func AnalyzeBottleneck(topo graph.Graph[string, string], topoStore store.CustomStore[string, string], msr measure.Measure, entry, exit string) ([]Flow, error) {
	metrics := msr.AllMetrics()
	if len(metrics) == 0 {
		return nil, errors.New("autoscaler: measure has no recorded stages")
	}

	snapshots := snapshotMetrics(metrics)
	maxAvgStage, maxAvgEdge := slowestDurations(snapshots)

	if err := weighVertices(topoStore, snapshots, maxAvgStage); err != nil {
		return nil, errors.Wrap(err, "unable to weigh stages")
	}

	if err := weighEdges(topo, snapshots, maxAvgEdge); err != nil {
		return nil, errors.Wrap(err, "unable to weigh transports")
	}

	path, err := graph.ShortestPath(topo, entry, exit)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to find path from %q to %q", entry, exit)
	}

	flows, err := buildFlows(topo, path)
	if err != nil {
		return nil, err
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].Capacity+flows[i].InEdgeWeight < flows[j].Capacity+flows[j].InEdgeWeight
	})

	return flows, nil
}

// snapshotMetrics reads every metric's averages exactly once: each of
// AVGDuration/AVGTransportDuration is called a single time per stage, so a
// Metric implementation that (like the teacher's) folds its averaging into
// the same accumulator on every call still reports consistent numbers to
// every downstream step below.
func snapshotMetrics(metrics map[string]measure.Metric) map[string]stageSnapshot {
	snapshots := make(map[string]stageSnapshot, len(metrics))

	for name, m := range metrics {
		avgTransport := make(map[string]time.Duration)
		for upstream, info := range m.AVGTransportDuration() {
			avgTransport[upstream] = info.Elapsed
		}

		snapshots[name] = stageSnapshot{avgDuration: m.AVGDuration(), avgTransport: avgTransport}
	}

	return snapshots
}

func slowestDurations(snapshots map[string]stageSnapshot) (stage, edge time.Duration) {
	for _, s := range snapshots {
		if s.avgDuration > stage {
			stage = s.avgDuration
		}

		for _, elapsed := range s.avgTransport {
			if elapsed > edge {
				edge = elapsed
			}
		}
	}

	return stage, edge
}

func weighVertices(topoStore store.CustomStore[string, string], snapshots map[string]stageSnapshot, maxAvgStage time.Duration) error {
	for name, s := range snapshots {
		capacity := maxAvgStage - s.avgDuration
		if capacity < 0 {
			capacity = 0
		}

		topoStore.UpdateVertex(name, graph.VertexWeight(int(capacity)))
	}

	return nil
}

func weighEdges(topo graph.Graph[string, string], snapshots map[string]stageSnapshot, maxAvgEdge time.Duration) error {
	for name, s := range snapshots {
		for upstream, elapsed := range s.avgTransport {
			capacity := maxAvgEdge - elapsed
			if capacity < 0 {
				capacity = 0
			}

			if err := topo.UpdateEdge(upstream, name, graph.EdgeWeight(int(capacity))); err != nil {
				return errors.Wrapf(err, "unable to update edge from %q to %q", upstream, name)
			}
		}
	}

	return nil
}

func buildFlows(topo graph.Graph[string, string], path []string) ([]Flow, error) {
	flows := make([]Flow, len(path))

	for i, name := range path {
		_, properties, err := topo.VertexWithProperties(name)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to get vertex properties for %q", name)
		}

		f := Flow{StageName: name, Capacity: time.Duration(properties.Weight)}

		if i > 0 {
			edge, err := topo.Edge(path[i-1], name)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to get edge from %q to %q", path[i-1], name)
			}

			f.InEdgeWeight = time.Duration(edge.Properties.Weight)
		}

		flows[i] = f
	}

	return flows, nil
}
