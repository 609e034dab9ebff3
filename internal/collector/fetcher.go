package collector

import (
	"context"

	"InfraSentinel/internal/model"
)

// Fetcher reads oracle reports for a project from a feed.
type Fetcher interface {
	FetchSolvencyReport(ctx context.Context, projectID model.ProjectID) (model.SolvencyReport, error)
	FetchMilestoneReports(ctx context.Context, projectID model.ProjectID) ([]model.MilestoneReport, error)
	FetchReserveAttestation(ctx context.Context, projectID model.ProjectID) (model.ReserveAttestation, error)
	Name() string
}
