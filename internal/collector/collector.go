package collector

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"InfraSentinel/internal/model"
	"InfraSentinel/internal/scoring"
)

// Collector produces the reports the oracle stores ingest. Solvency comes from
// the remote feed when enabled and falls back to local scoring otherwise.
type Collector struct {
	fetcher   Fetcher
	remote    bool
	threshold uint8
	nowFn     func() time.Time
}

// New creates a collector. fetcher may be nil when no feed is configured.
func New(fetcher Fetcher, remoteSolvency bool, threshold uint8) *Collector {
	return &Collector{
		fetcher:   fetcher,
		remote:    remoteSolvency && fetcher != nil,
		threshold: threshold,
		nowFn:     time.Now,
	}
}

func (c *Collector) SetClock(fn func() time.Time) { c.nowFn = fn }

// Source names where solvency reports come from.
func (c *Collector) Source() string {
	if c.remote {
		return c.fetcher.Name()
	}
	return "local"
}

// Solvency returns a solvency report for the project.
func (c *Collector) Solvency(ctx context.Context, id model.ProjectID, fin model.ProjectFinancials) model.SolvencyReport {
	if c.remote {
		r, err := c.fetcher.FetchSolvencyReport(ctx, id)
		if err == nil {
			return r
		}
		zap.L().Warn("remote solvency failed, scoring locally",
			zap.String("fetcher", c.fetcher.Name()),
			zap.String("project", id.Short()),
			zap.Error(err))
	}
	a := scoring.Evaluate(fin, c.threshold)
	return scoring.Report(id, a, c.nowFn())
}

// Milestones returns pending milestone reports, or none without a feed.
func (c *Collector) Milestones(ctx context.Context, id model.ProjectID) ([]model.MilestoneReport, error) {
	if c.fetcher == nil {
		return nil, nil
	}
	reports, err := c.fetcher.FetchMilestoneReports(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "%s milestones for %s", c.fetcher.Name(), id.Short())
	}
	return reports, nil
}

// FetchReserveAttestation lets the collector act as the reserve verifier's source.
func (c *Collector) FetchReserveAttestation(ctx context.Context, id model.ProjectID) (model.ReserveAttestation, error) {
	if c.fetcher == nil {
		return model.ReserveAttestation{}, eris.New("no reserve feed configured")
	}
	return c.fetcher.FetchReserveAttestation(ctx, id)
}
