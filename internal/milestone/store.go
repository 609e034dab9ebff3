// Package milestone ingests construction progress reports and releases the
// ledger tranche bound to a milestone once it is complete.
package milestone

import (
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/events"
	"InfraSentinel/internal/model"
)

const source = "milestone"

var (
	ErrUnknownProject   = eris.New("unknown project")
	ErrInvalidMilestone = eris.New("invalid milestone")
	ErrInvalidReport    = eris.New("invalid milestone report")
	ErrNoReport         = eris.New("no report ingested")
	ErrHookUnset        = eris.New("tranche hook not configured")
)

// TrancheHook is the funding ledger entry point for tranche releases.
type TrancheHook interface {
	ReleaseTranche(caller model.Principal, projectID model.ProjectID, milestoneID uint8) ([]uint64, error)
}

// IngestResult describes the side effects of an accepted report.
type IngestResult struct {
	ReleaseAttempted bool
	ReleasedRounds   []uint64
	// ReleaseErr is the swallowed hook failure, if any.
	ReleaseErr error
}

type project struct {
	total  uint8
	latest map[uint8]model.MilestoneReport
}

// Store is the MilestoneReportStore.
type Store struct {
	ingestMu sync.Mutex
	mu       sync.RWMutex

	principal model.Principal
	roles     *access.Registry
	workflow  model.Principal
	hook      TrancheHook
	projects  map[model.ProjectID]*project
	events    events.Emitter

	clockMu sync.Mutex
	nowFn   func() time.Time
}

// NewStore creates a store administered by admin. principal is the identity
// the store presents to the ledger.
func NewStore(admin, principal model.Principal, em events.Emitter) *Store {
	if em == nil {
		em = events.Discard{}
	}
	return &Store{
		principal: principal,
		roles:     access.NewRegistry(admin, source, em),
		projects:  make(map[model.ProjectID]*project),
		events:    em,
		nowFn:     time.Now,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(fn func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.nowFn = fn
}

func (s *Store) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.nowFn()
}

// Principal is the identity used when calling the ledger.
func (s *Store) Principal() model.Principal { return s.principal }

// SetAuthorizedWorkflow replaces the oracle principal allowed to ingest reports.
func (s *Store) SetAuthorizedWorkflow(caller, workflow model.Principal) error {
	if err := s.roles.RequireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	prev := s.workflow
	s.workflow = workflow
	s.mu.Unlock()

	s.emit(model.Event{
		Type:     model.EventAuthorizedWorkflowUpdated,
		Severity: model.SeverityInfo,
		Message:  "authorized workflow updated",
		Attrs: map[string]string{
			"role":     string(access.RoleReportWorkflow),
			"previous": string(prev),
			"workflow": string(workflow),
		},
	})
	return nil
}

// SetTrancheHook wires the funding ledger.
func (s *Store) SetTrancheHook(caller model.Principal, hook TrancheHook) error {
	if err := s.roles.RequireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
	return nil
}

// RegisterMilestones declares how many milestones a project has. Registering
// again changes the count and keeps reports for milestones still in range.
func (s *Store) RegisterMilestones(caller model.Principal, id model.ProjectID, total uint8) error {
	if err := s.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if total == 0 {
		return eris.Wrap(ErrInvalidMilestone, "project needs at least one milestone")
	}

	s.mu.Lock()
	p, ok := s.projects[id]
	if !ok {
		p = &project{latest: make(map[uint8]model.MilestoneReport)}
		s.projects[id] = p
	}
	p.total = total
	for m := range p.latest {
		if m >= total {
			delete(p.latest, m)
		}
	}
	s.mu.Unlock()

	s.emit(model.Event{
		Type:      model.EventMilestonesRegistered,
		ProjectID: id,
		Severity:  model.SeverityInfo,
		Message:   "milestones registered",
		Attrs:     map[string]string{"total": strconv.Itoa(int(total))},
	})
	return nil
}

// IngestReport stores the latest report for a milestone. A completed and
// approved milestone triggers a tranche release; a failed release is reported
// as a TrancheReleaseFailed event and never fails the ingestion.
func (s *Store) IngestReport(caller model.Principal, r model.MilestoneReport) (IngestResult, error) {
	if !s.canReport(caller) {
		return IngestResult{}, eris.Wrapf(access.ErrUnauthorized, "%s cannot report milestones", caller)
	}
	if r.Progress > 100 || r.VerificationScore > 100 {
		return IngestResult{}, eris.Wrapf(ErrInvalidReport, "progress %d, verification %d", r.Progress, r.VerificationScore)
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.Lock()
	p, ok := s.projects[r.ProjectID]
	if !ok {
		s.mu.Unlock()
		return IngestResult{}, eris.Wrapf(ErrUnknownProject, "project %s", r.ProjectID.Short())
	}
	if r.MilestoneID >= p.total {
		s.mu.Unlock()
		return IngestResult{}, eris.Wrapf(ErrInvalidMilestone, "milestone %d of %d", r.MilestoneID, p.total)
	}
	p.latest[r.MilestoneID] = r
	hook := s.hook
	s.mu.Unlock()

	s.emit(model.Event{
		Type:      model.EventMilestoneUpdated,
		ProjectID: r.ProjectID,
		Severity:  model.SeverityInfo,
		Message:   "milestone updated",
		Attrs: map[string]string{
			"milestone":    strconv.Itoa(int(r.MilestoneID)),
			"progress":     strconv.Itoa(int(r.Progress)),
			"verification": strconv.Itoa(int(r.VerificationScore)),
			"approved":     strconv.FormatBool(r.Approved),
		},
	})

	var res IngestResult
	if !r.Completed() {
		return res, nil
	}
	res.ReleaseAttempted = true
	res.ReleasedRounds, res.ReleaseErr = s.callRelease(hook, r.ProjectID, r.MilestoneID)
	if res.ReleaseErr != nil {
		zap.L().Warn("tranche release failed, report retained",
			zap.String("project", r.ProjectID.Short()),
			zap.Uint8("milestone", r.MilestoneID),
			zap.Error(res.ReleaseErr),
		)
		s.emit(model.Event{
			Type:      model.EventTrancheReleaseFailed,
			ProjectID: r.ProjectID,
			Severity:  model.SeverityWarn,
			Message:   "tranche release failed",
			Attrs: map[string]string{
				"milestone": strconv.Itoa(int(r.MilestoneID)),
				"error":     res.ReleaseErr.Error(),
			},
		})
	}
	return res, nil
}

func (s *Store) callRelease(hook TrancheHook, id model.ProjectID, m uint8) (rounds []uint64, err error) {
	if hook == nil {
		return nil, ErrHookUnset
	}
	defer func() {
		if rec := recover(); rec != nil {
			rounds = nil
			err = eris.Errorf("tranche hook panicked: %v", rec)
		}
	}()
	return hook.ReleaseTranche(s.principal, id, m)
}

func (s *Store) canReport(caller model.Principal) bool {
	if s.roles.IsAdmin(caller) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return caller != "" && caller == s.workflow
}

// Latest returns the most recent report for a milestone.
func (s *Store) Latest(id model.ProjectID, m uint8) (model.MilestoneReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return model.MilestoneReport{}, eris.Wrapf(ErrUnknownProject, "project %s", id.Short())
	}
	if m >= p.total {
		return model.MilestoneReport{}, eris.Wrapf(ErrInvalidMilestone, "milestone %d of %d", m, p.total)
	}
	r, ok := p.latest[m]
	if !ok {
		return model.MilestoneReport{}, ErrNoReport
	}
	return r, nil
}

// MilestoneCount is the number of milestones registered for a project.
func (s *Store) MilestoneCount(id model.ProjectID) uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.projects[id]; ok {
		return p.total
	}
	return 0
}

// CompletedCount is the number of milestones whose latest report is complete.
func (s *Store) CompletedCount(id model.ProjectID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return 0
	}
	n := 0
	for _, r := range p.latest {
		if r.Completed() {
			n++
		}
	}
	return n
}

func (s *Store) emit(evt model.Event) {
	evt.Source = source
	if evt.At.IsZero() {
		evt.At = s.now().UTC()
	}
	s.events.Emit(evt)
}
