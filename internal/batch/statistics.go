package batch

import (
	"time"

	"github.com/odyssey-erp/consolbatch/internal/pipeline"
)

// Failure identifies a unit and period whose pipeline failed.
type Failure struct {
	Unit    string
	Period  string
	Stage   pipeline.Stage
	Message string
}

// UnitTiming is the measured wall time of one unit pipeline.
type UnitTiming struct {
	Unit    string
	Period  string
	Status  pipeline.Status
	Elapsed time.Duration
}

// Statistics aggregates a consolidation run. It is owned by the runner while
// the run is in flight and handed out finalised.
type Statistics struct {
	RunID      string
	Scenario   string
	Scope      string
	Periods    []string
	TotalUnits int
	Branches   int
	Processed  int
	Succeeded  int
	Failed     int
	Failures   []Failure
	Timings    []UnitTiming
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
}

// Planned is the number of unit pipelines the run intended to execute.
func (s Statistics) Planned() int {
	return s.TotalUnits * len(s.Periods)
}

// Duration is the wall time between run start and end.
func (s Statistics) Duration() time.Duration {
	if s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// UnitTime sums the elapsed time of every processed unit.
func (s Statistics) UnitTime() time.Duration {
	var total time.Duration
	for _, t := range s.Timings {
		total += t.Elapsed
	}
	return total
}

// AverageElapsed is the mean unit pipeline time.
func (s Statistics) AverageElapsed() time.Duration {
	if len(s.Timings) == 0 {
		return 0
	}
	return s.UnitTime() / time.Duration(len(s.Timings))
}
