package pipeline

import (
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"

	"github.com/conclave-dev/streampipe/internal/autoscaler"
	"github.com/conclave-dev/streampipe/internal/store"
)

// topology tracks stage adjacency independently of any attached Drawer, so
// AnalyzeBottleneck works whether or not the pipeline renders an SVG. It
// keeps a direct handle on the backing store because graph.Graph itself
// exposes no way to update a vertex's weight after it is added.
type topology struct {
	g     graph.Graph[string, string]
	raw   store.CustomStore[string, string]
	entry string
	exit  string
}

func newTopology() *topology {
	raw := store.NewStageStore[string, string]()

	return &topology{
		g:   graph.NewWithStore(graph.StringHash, raw, graph.Directed()),
		raw: raw,
	}
}

func (t *topology) addStep(name string) error {
	if err := t.g.AddVertex(name); err != nil {
		return err
	}

	if t.entry == "" {
		t.entry = name
	}
	t.exit = name

	return nil
}

func (t *topology) addLink(parent, child string) error {
	return t.g.AddEdge(parent, child)
}

// AnalyzeBottleneck reports the pipeline's most-constrained stage chain,
// computed from timings recorded by the Measure attached via WithMeasure.
func (p *Pipeline) AnalyzeBottleneck() ([]autoscaler.Flow, error) {
	p.mu.Lock()
	msr := p.measure
	topo := p.topo
	p.mu.Unlock()

	if msr == nil {
		return nil, errors.New("pipeline: AnalyzeBottleneck requires a pipeline built with WithMeasure")
	}

	if topo.entry == "" || topo.exit == "" {
		return nil, errors.New("pipeline: AnalyzeBottleneck requires at least one stage")
	}

	return autoscaler.AnalyzeBottleneck(topo.g, topo.raw, msr, topo.entry, topo.exit)
}
