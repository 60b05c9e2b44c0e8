package drawer

import (
	"time"

	"github.com/conclave-dev/streampipe/pkg/pipeline/measure"
)

// Drawer renders a pipeline's stage topology to a file as stages and links
// are registered with it during Pipeline construction, then finalized once
// the run finishes.
type Drawer interface {
	// AddStep registers a stage vertex by name.
	AddStep(stageName string) error
	// AddLink registers a directed edge from an upstream stage to a
	// downstream stage.
	AddLink(upstreamStageName, downstreamStageName string) error
	// Draw renders the accumulated topology to disk.
	Draw() error
	// SetTotalTime labels a stage with the wall-clock time elapsed since
	// totalTime, for stages a Measure never observed handling an item.
	SetTotalTime(stageName string, totalTime time.Time) error
	// AddMeasure attaches per-stage timing so Draw can color edges by
	// latency.
	AddMeasure(measure measure.Measure) error
}
