package collector

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"InfraSentinel/internal/model"
)

// MockFetcher serves canned reports for development and tests.
type MockFetcher struct {
	mu         sync.Mutex
	solvency   map[model.ProjectID]model.SolvencyReport
	milestones map[model.ProjectID][]model.MilestoneReport
	reserves   map[model.ProjectID]model.ReserveAttestation
	Err        error
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		solvency:   make(map[model.ProjectID]model.SolvencyReport),
		milestones: make(map[model.ProjectID][]model.MilestoneReport),
		reserves:   make(map[model.ProjectID]model.ReserveAttestation),
	}
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) SetSolvency(r model.SolvencyReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solvency[r.ProjectID] = r
}

// QueueMilestone appends a report to the project's pending list.
func (m *MockFetcher) QueueMilestone(r model.MilestoneReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.milestones[r.ProjectID] = append(m.milestones[r.ProjectID], r)
}

func (m *MockFetcher) SetReserves(a model.ReserveAttestation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserves[a.ProjectID] = a
}

func (m *MockFetcher) FetchSolvencyReport(_ context.Context, id model.ProjectID) (model.SolvencyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.SolvencyReport{}, m.Err
	}
	r, ok := m.solvency[id]
	if !ok {
		return model.SolvencyReport{}, eris.Errorf("mock: no solvency report for %s", id.Short())
	}
	return r, nil
}

// FetchMilestoneReports drains the pending list.
func (m *MockFetcher) FetchMilestoneReports(_ context.Context, id model.ProjectID) ([]model.MilestoneReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	reports := m.milestones[id]
	delete(m.milestones, id)
	return reports, nil
}

func (m *MockFetcher) FetchReserveAttestation(_ context.Context, id model.ProjectID) (model.ReserveAttestation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.ReserveAttestation{}, m.Err
	}
	a, ok := m.reserves[id]
	if !ok {
		return model.ReserveAttestation{}, eris.Errorf("mock: no attestation for %s", id.Short())
	}
	return a, nil
}
