package drawer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/template"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1" //nolint

	"github.com/conclave-dev/streampipe/pkg/pipeline/measure"
)

// SVGDrawer renders a pipeline's stage graph to a Graphviz DOT file (an SVG
// is obtained by piping that file through the `dot` command). Edges are
// colored by average transport latency once a Measure is attached via
// AddMeasure, so the slowest hand-off between stages stands out red.
type SVGDrawer struct {
	graph    graph.Graph[string, string]
	stages   map[string]struct{}
	fileName string
}

// NewSVGDrawer creates a drawer that writes its DOT output to fileName on
// Draw.
func NewSVGDrawer(fileName string) *SVGDrawer {
	return &SVGDrawer{
		fileName: fileName,
		graph:    graph.New(graph.StringHash, graph.Directed()),
		stages:   make(map[string]struct{}),
	}
}

// AddStep registers a stage vertex by name.
func (d *SVGDrawer) AddStep(stageName string) error {
	if err := d.graph.AddVertex(stageName); err != nil {
		return errors.Wrapf(err, "drawer: unable to add stage %q", stageName)
	}

	d.stages[stageName] = struct{}{}

	return nil
}

// AddLink registers a directed edge from upstreamStageName to
// downstreamStageName.
func (d *SVGDrawer) AddLink(upstreamStageName, downstreamStageName string) error {
	if err := d.graph.AddEdge(upstreamStageName, downstreamStageName); err != nil {
		return errors.Wrapf(err, "drawer: unable to link %q to %q", upstreamStageName, downstreamStageName)
	}

	return nil
}

// Draw writes the accumulated stage graph to d.fileName in DOT format.
func (d *SVGDrawer) Draw() error {
	file, err := os.Create(d.fileName)
	if err != nil {
		return errors.Wrapf(err, "drawer: unable to create %s", d.fileName)
	}
	defer file.Close()

	if err := dot(d.graph, file); err != nil {
		return errors.Wrapf(err, "drawer: unable to render dot to %s", d.fileName)
	}

	return nil
}

// SetTotalTime labels stageName's vertex with the wall-clock elapsed since
// startTime, for a stage a Measure never recorded a per-item duration for
// (e.g. a generator whose only cost is idle waiting).
func (d *SVGDrawer) SetTotalTime(stageName string, startTime time.Time) error {
	_, properties, err := d.graph.VertexWithProperties(stageName)
	if err != nil {
		return errors.Wrapf(err, "drawer: unable to get properties for stage %q", stageName)
	}

	properties.Attributes["xlabel"] = time.Since(startTime).String()

	return nil
}

// maxRGB bounds how saturated the slowest-edge red gets; a full 255 reads
// as too harsh against the graph's white background.
const maxRGB = 240

// AddMeasure colors each inter-stage edge by its average transport
// duration, relative to the slowest and fastest edges observed across the
// whole pipeline: the slowest edge renders red, the fastest blue, and edges
// in between on a red-to-blue gradient, with each channel capped at maxRGB.
func (d *SVGDrawer) AddMeasure(msr measure.Measure) error {
	edgeColorByLatency := make(map[time.Duration]string)
	latencies := []time.Duration{}

	for _, metric := range msr.AllMetrics() {
		for _, transport := range metric.AVGTransportDuration() {
			if transport.Elapsed == 0 {
				continue
			}
			if _, seen := edgeColorByLatency[transport.Elapsed]; seen {
				continue
			}

			edgeColorByLatency[transport.Elapsed] = ""
			latencies = append(latencies, transport.Elapsed)
		}
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] > latencies[j]
	})

	slowest, err := colors.RGB(255, 0, 0) //nolint
	if err != nil {
		return errors.Wrap(err, "drawer: unable to build slowest-edge colour")
	}

	maxValue := latencies[0]
	minValue := latencies[len(latencies)-1]

	edgeColorByLatency[maxValue] = slowest.ToHEX().String()
	for elapsed := range edgeColorByLatency {
		fraction := 1.0
		if maxValue > minValue {
			fraction = float64(elapsed-minValue) / float64(maxValue-minValue)
		}

		red := maxRGB * fraction
		blue := -maxRGB*fraction + maxRGB

		gradient, err := colors.RGB(uint8(red), 0, uint8(blue)) //nolint
		if err != nil {
			return errors.Wrap(err, "drawer: unable to build gradient colour")
		}

		edgeColorByLatency[elapsed] = gradient.ToHEX().String()
	}

	if err := d.paintEdges(msr, edgeColorByLatency); err != nil {
		return errors.Wrap(err, "drawer: unable to paint stage edges")
	}

	return nil
}

// paintEdges stamps every stage vertex's average duration as its xlabel and
// every measured inter-stage edge with its transport latency and the color
// AddMeasure computed for that latency.
func (d *SVGDrawer) paintEdges(msr measure.Measure, edgeColorByLatency map[time.Duration]string) error {
	for name, metric := range msr.AllMetrics() {
		_, properties, err := d.graph.VertexWithProperties(name)
		if err != nil {
			return errors.Wrapf(err, "unable to get properties for stage %q", name)
		}

		if avg := metric.AVGDuration(); avg != 0 {
			properties.Attributes["xlabel"] = avg.String()
		}

		if total := metric.GetTotalDuration(); total > 0 {
			properties.Attributes["xlabel"] += ", end: " + total.String()
		}

		for upstreamName, transport := range metric.AVGTransportDuration() {
			if transport.Elapsed == 0 {
				continue
			}

			err := d.graph.UpdateEdge(upstreamName, name,
				graph.EdgeAttribute("label", transport.Elapsed.String()),
				graph.EdgeAttribute("fontcolor", "blue"),
				graph.EdgeAttribute("color", edgeColorByLatency[transport.Elapsed]), //nolint
			)
			if err != nil {
				return errors.Wrapf(err, "unable to color edge %q -> %q", upstreamName, name)
			}
		}
	}

	return nil
}

//nolint:lll //this is a template
const dotTemplate = `strict {{.GraphType}} {
	{{range $k, $v := .Attributes}}
		{{$k}}="{{$v}}";
	{{end}}
	{{range $s := .Statements}}
		"{{.Source}}" {{if .Target}}{{$.EdgeOperator}} "{{.Target}}" [ {{range $k, $v := .EdgeAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.EdgeWeight}} ]{{else}}[ {{range $k, $v := .HTMLAttributes}}{{$k}}={{$v}}, {{end}} {{range $k, $v := .SourceAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.SourceWeight}} ]{{end}};
	{{end}}
	}
	`

type description struct {
	GraphType    string
	Attributes   map[string]string
	EdgeOperator string
	Statements   []statement
}

type statement struct {
	Source           interface{}
	Target           interface{}
	SourceAttributes map[string]string
	HTMLAttributes   map[string]string
	EdgeAttributes   map[string]string
	SourceWeight     int
	EdgeWeight       int
}

func dot[K comparable, T any](g graph.Graph[K, T], wrt io.Writer, options ...func(*description)) error {
	desc, err := generateDOT(g, options...)
	if err != nil {
		return fmt.Errorf("failed to generate DOT description: %w", err)
	}

	return renderDOT(wrt, desc)
}

// GraphAttribute is a functional option for the dot function.
func GraphAttribute(key, value string) func(*description) {
	return func(d *description) {
		d.Attributes[key] = value
	}
}

func generateDOT[K comparable, T any](gra graph.Graph[K, T], options ...func(*description)) (description, error) {
	desc := description{
		GraphType:    "graph",
		Attributes:   make(map[string]string),
		EdgeOperator: "--",
		Statements:   make([]statement, 0),
	}

	for _, option := range options {
		option(&desc)
	}

	if gra.Traits().IsDirected {
		desc.GraphType = "digraph"
		desc.EdgeOperator = "->"
	}

	adjacencyMap, err := gra.AdjacencyMap()
	if err != nil {
		return desc, errors.Wrap(err, "unable to get adjacency map")
	}

	for vertex, adjacencies := range adjacencyMap {
		_, sourceProperties, err := gra.VertexWithProperties(vertex)
		if err != nil {
			return desc, errors.Wrap(err, "unable to get vertex properties")
		}

		htmlAttributes := make(map[string]string)

		if xlabel, ok := sourceProperties.Attributes["xlabel"]; ok {
			htmlAttributes["label"] = fmt.Sprintf(`<%+v <BR /> <FONT POINT-SIZE="12">%s</FONT>>`, vertex, xlabel)

			delete(sourceProperties.Attributes, "xlabel")
		}

		stmt := statement{
			Source:           vertex,
			SourceWeight:     sourceProperties.Weight,
			SourceAttributes: sourceProperties.Attributes,
			HTMLAttributes:   htmlAttributes,
		}
		desc.Statements = append(desc.Statements, stmt)

		for adjacency, edge := range adjacencies {
			stmt := statement{
				Source:         vertex,
				Target:         adjacency,
				EdgeWeight:     edge.Properties.Weight,
				EdgeAttributes: edge.Properties.Attributes,
			}
			desc.Statements = append(desc.Statements, stmt)
		}
	}

	return desc, nil
}

func renderDOT(wrt io.Writer, desc description) error {
	tpl, err := template.New("dotTemplate").Parse(dotTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	err = tpl.Execute(wrt, desc)
	if err != nil {
		return errors.Wrap(err, "unable to execute template")
	}

	return nil
}

var _ Drawer = (*SVGDrawer)(nil)
