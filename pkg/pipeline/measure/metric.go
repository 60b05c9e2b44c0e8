package measure

import (
	"sync"
	"time"
)

// TransportInfo accumulates how long items spent queued between one
// upstream stage and the stage that owns this info, so AVGTransportDuration
// can report a running mean.
type TransportInfo struct {
	Elapsed time.Duration
	total   int64
}

// DefaultMetric is the concrete Metric implementation registered by
// DefaultMeasure.AddMetric for each named stage.
type DefaultMetric struct {
	allTransports map[string]*TransportInfo
	mu            *sync.Mutex
	EndDuration   time.Duration
	stageElapsed  time.Duration
	total         int64
}

func (mt *DefaultMetric) AddDuration(elapsed time.Duration) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.total++
	mt.stageElapsed += elapsed
}

func (mt *DefaultMetric) SetTotalDuration(endDuration time.Duration) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.EndDuration = endDuration
}

func (mt *DefaultMetric) GetTotalDuration() time.Duration {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.EndDuration
}

func (mt *DefaultMetric) AddTransportDuration(upstreamStageName string, elapsed time.Duration) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.allTransports[upstreamStageName] == nil {
		mt.allTransports[upstreamStageName] = &TransportInfo{}
	}
	info := mt.allTransports[upstreamStageName]
	info.Elapsed += elapsed
	info.total++
}

func (mt *DefaultMetric) AVGDuration() time.Duration {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.total == 0 {
		return time.Duration(0)
	}

	return round(time.Duration(float64(mt.stageElapsed) / float64(mt.total)))
}

// AVGTransportDuration computes the mean transport duration per upstream
// stage into a freshly allocated map, leaving allTransports' accumulated
// sums untouched. It must not write the average back into allTransports:
// a second call would then divide an already-averaged Elapsed by total
// again, silently corrupting the result.
func (mt *DefaultMetric) AVGTransportDuration() map[string]*TransportInfo {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	avgs := make(map[string]*TransportInfo, len(mt.allTransports))
	for name, info := range mt.allTransports {
		avg := info.Elapsed
		if avg != 0 {
			avg = round(time.Duration(float64(info.Elapsed) / float64(info.total)))
		}
		avgs[name] = &TransportInfo{Elapsed: avg, total: info.total}
	}

	return avgs
}

func (mt *DefaultMetric) AllTransports() map[string]*TransportInfo {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return mt.allTransports
}

func round(d time.Duration) time.Duration {
	switch {
	case d > time.Second:
		d = d.Round(time.Second)
	case d > time.Millisecond:
		d = d.Round(time.Millisecond)
	case d > time.Microsecond:
		d = d.Round(time.Microsecond)
	case d > time.Minute:
		d = d.Round(time.Minute)
	case d > time.Hour:
		d = d.Round(time.Hour)
	}

	return d
}
