// Package solvency ingests solvency oracle reports, keeps a bounded history
// per project and hands rescue conditions to the funding ledger.
package solvency

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/events"
	"InfraSentinel/internal/model"
)

// DefaultRescueThreshold is the overall score below which a rescue is attempted.
const DefaultRescueThreshold = 25

const source = "solvency"

var (
	ErrAlreadyRegistered = eris.New("project already registered")
	ErrUnknownProject    = eris.New("unknown project")
	ErrInvalidReport     = eris.New("invalid solvency report")
	ErrInvalidFinancials = eris.New("invalid financials")
	ErrIndexOutOfRange   = eris.New("history index out of range")
	ErrNoReport          = eris.New("no report ingested")
	ErrHookUnset         = eris.New("rescue hook not configured")
)

// RescueHook is the funding ledger entry point for rescue rounds.
type RescueHook interface {
	InitiateRescueFunding(caller model.Principal, projectID model.ProjectID, solvencyScore uint8) (uint64, error)
}

// Config controls a Store.
type Config struct {
	// Principal is the identity the store presents to the ledger hook.
	Principal       model.Principal
	RescueThreshold uint8
	HistoryCapacity int
}

// IngestResult describes the side effects of an accepted report.
type IngestResult struct {
	RescueAttempted bool
	RescueRoundID   uint64
	// RescueErr is the swallowed hook failure, if any. It is never returned as an error.
	RescueErr error
}

type project struct {
	financials model.ProjectFinancials
	latest     *model.SolvencyReport
	history    *history
}

// Store is the SolvencyReportStore.
type Store struct {
	// ingestMu serializes whole ingestions, including the hook call and event
	// emission. mu guards the data and is released before the hook runs so the
	// ledger can read financials back through FundingGapUSD.
	ingestMu sync.Mutex
	mu       sync.RWMutex

	cfg      Config
	roles    *access.Registry
	workflow model.Principal
	hook     RescueHook
	projects map[model.ProjectID]*project
	events   events.Emitter

	clockMu sync.Mutex
	nowFn   func() time.Time
}

// NewStore creates a store administered by admin.
func NewStore(admin model.Principal, cfg Config, em events.Emitter) *Store {
	if cfg.RescueThreshold == 0 {
		cfg.RescueThreshold = DefaultRescueThreshold
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if em == nil {
		em = events.Discard{}
	}
	return &Store{
		cfg:      cfg,
		roles:    access.NewRegistry(admin, source, em),
		projects: make(map[model.ProjectID]*project),
		events:   em,
		nowFn:    time.Now,
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
func (s *Store) Principal() model.Principal { return s.cfg.Principal }

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

// SetRescueHook wires the funding ledger. A nil hook disables rescues; the
// failure is still reported as a RESCUE_CALL_FAILED alert.
func (s *Store) SetRescueHook(caller model.Principal, hook RescueHook) error {
	if err := s.roles.RequireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
	return nil
}

// SetRescueThreshold changes the score below which rescue is attempted.
func (s *Store) SetRescueThreshold(caller model.Principal, threshold uint8) error {
	if err := s.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if threshold > 100 {
		return eris.Wrapf(ErrInvalidReport, "threshold %d above 100", threshold)
	}
	s.mu.Lock()
	s.cfg.RescueThreshold = threshold
	s.mu.Unlock()
	return nil
}

// RegisterProject activates a project with its initial financials.
func (s *Store) RegisterProject(caller model.Principal, id model.ProjectID, fin model.ProjectFinancials) error {
	if err := s.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if fin.TotalBudget < 0 || fin.CapitalDeployed < 0 || fin.CapitalRemaining < 0 ||
		fin.FundingVelocity < 0 || fin.BurnRate < 0 {
		return ErrInvalidFinancials
	}

	s.mu.Lock()
	p, ok := s.projects[id]
	if ok && p.financials.IsActive {
		s.mu.Unlock()
		return eris.Wrapf(ErrAlreadyRegistered, "project %s", id.Short())
	}
	if !ok {
		p = &project{history: newHistory(s.cfg.HistoryCapacity)}
		s.projects[id] = p
	}
	fin.IsActive = true
	p.financials = fin
	s.mu.Unlock()

	s.emit(model.Event{
		Type:      model.EventProjectRegistered,
		ProjectID: id,
		Severity:  model.SeverityInfo,
		Message:   "project registered",
		Attrs:     map[string]string{"total_budget": strconv.FormatInt(int64(fin.TotalBudget), 10)},
	})
	return nil
}

// DeactivateProject stops accepting reports for a project. History is kept.
func (s *Store) DeactivateProject(caller model.Principal, id model.ProjectID) error {
	if err := s.roles.RequireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || !p.financials.IsActive {
		return eris.Wrapf(ErrUnknownProject, "project %s", id.Short())
	}
	p.financials.IsActive = false
	return nil
}

// UpdateFinancials applies signed deltas to an active project's financials.
func (s *Store) UpdateFinancials(caller model.Principal, id model.ProjectID, deltas model.FinancialDeltas) error {
	if err := s.roles.RequireAdmin(caller); err != nil {
		return err
	}

	s.mu.Lock()
	p, ok := s.projects[id]
	if !ok || !p.financials.IsActive {
		s.mu.Unlock()
		return eris.Wrapf(ErrUnknownProject, "project %s", id.Short())
	}
	next, valid := deltas.Apply(p.financials)
	if !valid {
		s.mu.Unlock()
		return eris.Wrapf(ErrInvalidFinancials, "project %s", id.Short())
	}
	p.financials = next
	s.mu.Unlock()

	s.emit(model.Event{
		Type:      model.EventProjectFinancialsUpdated,
		ProjectID: id,
		Severity:  model.SeverityInfo,
		Message:   "project financials updated",
		Attrs: map[string]string{
			"capital_deployed":  strconv.FormatInt(int64(next.CapitalDeployed), 10),
			"capital_remaining": strconv.FormatInt(int64(next.CapitalRemaining), 10),
		},
	})
	return nil
}

// ValidateReport checks field ranges and that the risk level matches the score tier.
func ValidateReport(r model.SolvencyReport) error {
	if r.OverallScore > 100 || r.FinancialHealth > 100 || r.CostExposure > 100 ||
		r.FundingMomentum > 100 || r.RunwayAdequacy > 100 {
		return eris.Wrap(ErrInvalidReport, "score above 100")
	}
	if !r.RiskLevel.Valid() {
		return eris.Wrapf(ErrInvalidReport, "risk level %d", r.RiskLevel)
	}
	if want := model.RiskLevelForScore(r.OverallScore); want != r.RiskLevel {
		return eris.Wrapf(ErrInvalidReport, "risk level %s inconsistent with score %d (want %s)",
			r.RiskLevel, r.OverallScore, want)
	}
	return nil
}

// IngestReport records a report from the authorized workflow (or the admin as
// an emergency override). The report is stored before any rescue attempt, and
// a failed rescue never fails the ingestion.
func (s *Store) IngestReport(caller model.Principal, r model.SolvencyReport) (IngestResult, error) {
	if !s.canReport(caller) {
		return IngestResult{}, eris.Wrapf(access.ErrUnauthorized, "%s cannot report solvency", caller)
	}
	if err := ValidateReport(r); err != nil {
		return IngestResult{}, err
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.Lock()
	p, ok := s.projects[r.ProjectID]
	if !ok || !p.financials.IsActive {
		s.mu.Unlock()
		return IngestResult{}, eris.Wrapf(ErrUnknownProject, "project %s", r.ProjectID.Short())
	}
	latest := r
	p.latest = &latest
	p.history.push(r)
	threshold := s.cfg.RescueThreshold
	hook := s.hook
	s.mu.Unlock()

	s.emit(model.Event{
		Type:      model.EventSolvencyUpdated,
		ProjectID: r.ProjectID,
		Severity:  model.SeverityInfo,
		Message:   "solvency updated",
		Attrs: map[string]string{
			"score": strconv.Itoa(int(r.OverallScore)),
			"risk":  r.RiskLevel.String(),
		},
	})

	if r.RiskLevel >= model.RiskHigh {
		tag := model.AlertHigh
		if r.RiskLevel == model.RiskCritical {
			tag = model.AlertCritical
		}
		s.emit(model.Event{
			Type:      model.EventRiskAlertTriggered,
			ProjectID: r.ProjectID,
			Severity:  tag,
			Message:   "solvency risk alert",
			Attrs:     map[string]string{"score": strconv.Itoa(int(r.OverallScore))},
		})
	}

	var res IngestResult
	if r.RescueTriggered || r.OverallScore < threshold {
		res.RescueAttempted = true
		res.RescueRoundID, res.RescueErr = s.callRescue(hook, r.ProjectID, r.OverallScore)
		if res.RescueErr != nil {
			zap.L().Warn("rescue hook failed, report retained",
				zap.String("project", r.ProjectID.Short()),
				zap.Uint8("score", r.OverallScore),
				zap.Error(res.RescueErr),
			)
			s.emit(model.Event{
				Type:      model.EventRiskAlertTriggered,
				ProjectID: r.ProjectID,
				Severity:  model.AlertRescueCallFailed,
				Message:   "rescue funding call failed",
				Attrs:     map[string]string{"error": res.RescueErr.Error()},
			})
		} else {
			s.emit(model.Event{
				Type:      model.EventRescueFundingInitiated,
				ProjectID: r.ProjectID,
				RoundID:   res.RescueRoundID,
				Severity:  model.AlertCritical,
				Message:   "rescue funding initiated",
				Attrs:     map[string]string{"score": strconv.Itoa(int(r.OverallScore))},
			})
		}
	}
	return res, nil
}

// callRescue converts every hook failure, panics included, into an error.
func (s *Store) callRescue(hook RescueHook, id model.ProjectID, score uint8) (roundID uint64, err error) {
	if hook == nil {
		return 0, ErrHookUnset
	}
	defer func() {
		if rec := recover(); rec != nil {
			roundID = 0
			err = eris.Errorf("rescue hook panicked: %v", rec)
		}
	}()
	return hook.InitiateRescueFunding(s.cfg.Principal, id, score)
}

func (s *Store) canReport(caller model.Principal) bool {
	if s.roles.IsAdmin(caller) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return caller != "" && caller == s.workflow
}

// LatestSolvency returns the most recent report for a project.
func (s *Store) LatestSolvency(id model.ProjectID) (model.SolvencyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return model.SolvencyReport{}, eris.Wrapf(ErrUnknownProject, "project %s", id.Short())
	}
	if p.latest == nil {
		return model.SolvencyReport{}, ErrNoReport
	}
	return *p.latest, nil
}

// Financials returns the project's financial profile.
func (s *Store) Financials(id model.ProjectID) (model.ProjectFinancials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return model.ProjectFinancials{}, eris.Wrapf(ErrUnknownProject, "project %s", id.Short())
	}
	return p.financials, nil
}

// FundingGapUSD is the unfunded part of an active project's budget.
func (s *Store) FundingGapUSD(id model.ProjectID) (model.USD, error) {
	fin, err := s.Financials(id)
	if err != nil {
		return 0, err
	}
	if !fin.IsActive {
		return 0, eris.Wrapf(ErrUnknownProject, "project %s inactive", id.Short())
	}
	return fin.FundingGap(), nil
}

// HistoryCount is the number of retained reports, at most the history capacity.
func (s *Store) HistoryCount(id model.ProjectID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return 0
	}
	return p.history.len()
}

// HistoryEntry returns the index-th oldest retained report.
func (s *Store) HistoryEntry(id model.ProjectID, index int) (model.SolvencyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok || index < 0 || index >= p.history.len() {
		return model.SolvencyReport{}, eris.Wrapf(ErrIndexOutOfRange, "index %d", index)
	}
	return p.history.at(index), nil
}

// History returns every retained report, oldest first.
func (s *Store) History(id model.ProjectID) []model.SolvencyReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil
	}
	return p.history.slice()
}

// Projects lists active project ids in a stable order.
func (s *Store) Projects() []model.ProjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ProjectID, 0, len(s.projects))
	for id, p := range s.projects {
		if p.financials.IsActive {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *Store) emit(evt model.Event) {
	evt.Source = source
	if evt.At.IsZero() {
		evt.At = s.now().UTC()
	}
	s.events.Emit(evt)
}
