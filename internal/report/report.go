// Package report logs a periodic summary of the engine's state.
package report

import (
	"context"
	"sort"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/souravmenon1999/dex-order-engine/internal/logging"
)

// Stats is one summary.
type Stats struct {
	InFlight      int64
	Subscriptions int
	Breakers      map[string]string // venue -> breaker state
}

// Reporter runs collect on a cron schedule and logs the result.
type Reporter struct {
	cron    *cron.Cron
	collect func() Stats
	logger  zerolog.Logger
}

// New schedules the report. schedule is a standard cron spec or a
// descriptor such as "@every 1m".
func New(schedule string, collect func() Stats) (*Reporter, error) {
	r := &Reporter{
		cron:    cron.New(),
		collect: collect,
		logger:  logging.Component("report"),
	}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reporter) Start() { r.cron.Start() }

// Stop halts the schedule. The returned context is done once a report
// already running has finished.
func (r *Reporter) Stop() context.Context {
	return r.cron.Stop()
}

// Report logs one summary immediately.
func (r *Reporter) Report() {
	s := r.collect()
	venues := make([]string, 0, len(s.Breakers))
	for v := range s.Breakers {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	breakers := zerolog.Dict()
	for _, v := range venues {
		breakers.Str(v, s.Breakers[v])
	}
	r.logger.Info().
		Int64("inFlight", s.InFlight).
		Int("subscriptions", s.Subscriptions).
		Dict("breakers", breakers).
		Msg("engine status")
}
