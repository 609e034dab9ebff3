package scheduler

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"InfraSentinel/internal/collector"
	"InfraSentinel/internal/ledger"
	"InfraSentinel/internal/milestone"
	"InfraSentinel/internal/model"
	"InfraSentinel/internal/notifier"
	"InfraSentinel/internal/recorder"
	"InfraSentinel/internal/reserve"
	"InfraSentinel/internal/solvency"
)

// reserveConcurrency bounds parallel attestation fetches.
const reserveConcurrency = 4

// Project is a monitored project known by name.
type Project struct {
	Name string
	ID   model.ProjectID
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron       *cron.Cron
	Collector  *collector.Collector
	Solvency   *solvency.Store
	Milestones *milestone.Store
	Verifier   *reserve.Verifier
	Ledger     *ledger.Ledger
	Recorder   recorder.Recorder
	Notifier   notifier.Sender
	// Workflow is the principal the jobs report as.
	Workflow model.Principal
	Ctx      context.Context

	mu       sync.Mutex
	projects []Project
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, workflow model.Principal, col *collector.Collector,
	ss *solvency.Store, ms *milestone.Store, rv *reserve.Verifier, l *ledger.Ledger,
	rec recorder.Recorder, tn notifier.Sender) *Scheduler {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron:       cron.New(cron.WithSeconds()),
		Collector:  col,
		Solvency:   ss,
		Milestones: ms,
		Verifier:   rv,
		Ledger:     l,
		Recorder:   rec,
		Notifier:   tn,
		Workflow:   workflow,
		Ctx:        ctx,
	}
}

// AddProject puts a project under monitoring.
func (s *Scheduler) AddProject(name string, id model.ProjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = append(s.projects, Project{Name: name, ID: id})
}

// Projects returns the monitored projects in registration order.
func (s *Scheduler) Projects() []Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Project(nil), s.projects...)
}

func (s *Scheduler) projectByName(name string) (Project, bool) {
	for _, p := range s.Projects() {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Project{}, false
}

func (s *Scheduler) names() map[model.ProjectID]string {
	out := make(map[model.ProjectID]string)
	for _, p := range s.Projects() {
		out[p.ID] = p.Name
	}
	return out
}

// RegisterAll registers the solvency, milestone and reserve tasks.
func (s *Scheduler) RegisterAll(solvencyCron, milestoneCron, reserveCron string) error {
	if _, err := s.Cron.AddFunc(solvencyCron, s.solvencyTask); err != nil {
		return eris.Wrap(err, "register solvency task")
	}
	if _, err := s.Cron.AddFunc(milestoneCron, s.milestoneTask); err != nil {
		return eris.Wrap(err, "register milestone task")
	}
	if _, err := s.Cron.AddFunc(reserveCron, func() {
		if err := s.ReserveTask(); err != nil {
			zap.L().Error("reserve task", zap.Error(err))
		}
	}); err != nil {
		return eris.Wrap(err, "register reserve task")
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	zap.L().Info("scheduler started", zap.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	zap.L().Info("scheduler stopped")
}

// RunAllNow executes every task once (for manual trigger / run on start).
func (s *Scheduler) RunAllNow() {
	s.solvencyTask()
	s.milestoneTask()
	if err := s.ReserveTask(); err != nil {
		zap.L().Error("reserve task", zap.Error(err))
	}
}

func (s *Scheduler) solvencyTask() {
	zap.L().Info("running solvency task", zap.String("source", s.Collector.Source()))
	for _, p := range s.Projects() {
		s.assessProject(p)
	}
}

func (s *Scheduler) assessProject(p Project) {
	fin, err := s.Solvency.Financials(p.ID)
	if err != nil {
		zap.L().Error("load financials", zap.String("project", p.Name), zap.Error(err))
		return
	}
	if !fin.IsActive {
		return
	}

	report := s.Collector.Solvency(s.Ctx, p.ID, fin)
	res, err := s.Solvency.IngestReport(s.Workflow, report)
	if err != nil {
		zap.L().Error("ingest solvency report", zap.String("project", p.Name), zap.Error(err))
		return
	}
	zap.L().Info("solvency assessed",
		zap.String("project", p.Name),
		zap.Uint8("score", report.OverallScore),
		zap.Stringer("risk", report.RiskLevel),
		zap.Bool("rescue_attempted", res.RescueAttempted),
		zap.Uint64("rescue_round", res.RescueRoundID))

	if err := s.Recorder.RecordSolvency(&recorder.SolvencyRecord{
		Report:  report,
		Source:  s.Collector.Source(),
		Alerted: report.RiskLevel >= model.RiskHigh,
		RoundID: res.RescueRoundID,
	}); err != nil {
		zap.L().Error("record solvency", zap.Error(err))
	}
}

func (s *Scheduler) milestoneTask() {
	zap.L().Info("running milestone task")
	for _, p := range s.Projects() {
		reports, err := s.Collector.Milestones(s.Ctx, p.ID)
		if err != nil {
			zap.L().Error("collect milestones", zap.String("project", p.Name), zap.Error(err))
			continue
		}
		for _, r := range reports {
			res, err := s.Milestones.IngestReport(s.Workflow, r)
			if err != nil {
				zap.L().Warn("ingest milestone report",
					zap.String("project", p.Name),
					zap.Uint8("milestone", r.MilestoneID),
					zap.Error(err))
				continue
			}
			if len(res.ReleasedRounds) > 0 {
				zap.L().Info("tranche released",
					zap.String("project", p.Name),
					zap.Uint8("milestone", r.MilestoneID),
					zap.Int("rounds", len(res.ReleasedRounds)))
			}
		}
	}
}

// ReserveTask verifies every project with claimed reserves concurrently and
// then checks the ledger balance against its recorded deposits.
func (s *Scheduler) ReserveTask() error {
	zap.L().Info("running reserve task")
	ids := s.Verifier.ClaimedProjects()

	var mu sync.Mutex
	records := make([]model.ReserveRecord, 0, len(ids))
	g, ctx := errgroup.WithContext(s.Ctx)
	g.SetLimit(reserveConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			rec, err := s.Verifier.VerifyProjectReserves(ctx, id)
			if err != nil {
				return eris.Wrapf(err, "verify %s", id.Short())
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	for _, rec := range records {
		if rerr := s.Recorder.RecordReserveCheck(rec); rerr != nil {
			zap.L().Error("record reserve check", zap.Error(rerr))
		}
	}

	engine, eerr := s.Verifier.VerifyFundingEngineReserves(s.Ledger.Balance())
	if eerr != nil {
		return eris.Wrap(eerr, "verify ledger reserves")
	}
	if rerr := s.Recorder.RecordEngineCheck(engine); rerr != nil {
		zap.L().Error("record engine check", zap.Error(rerr))
	}
	return err
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	arg := strings.TrimSpace(strings.TrimPrefix(command, fields[0]))

	switch fields[0] {
	case "/round":
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return "usage: /round &lt;id&gt;"
		}
		r, err := s.Ledger.RoundInfo(id)
		if err != nil {
			return "round " + arg + ": " + err.Error()
		}
		return notifier.FormatRound(r)
	case "/rounds":
		return s.roundsSummary()
	case "/solvency":
		p, ok := s.projectByName(arg)
		if !ok {
			return "unknown project: " + arg
		}
		r, err := s.Solvency.LatestSolvency(p.ID)
		if err != nil {
			return p.Name + ": " + err.Error()
		}
		gap, _ := s.Solvency.FundingGapUSD(p.ID)
		return notifier.FormatSolvency(p.Name, r, gap)
	case "/reserves":
		return s.reservesSummary()
	default:
		return helpText
	}
}

const helpText = "Commands:\n" +
	"• /rounds\n" +
	"• /round &lt;id&gt;\n" +
	"• /solvency &lt;project&gt;\n" +
	"• /reserves"

func (s *Scheduler) roundsSummary() string {
	rounds := s.Ledger.Rounds()
	if len(rounds) == 0 {
		return "No funding rounds"
	}
	names := s.names()
	var b strings.Builder
	for _, r := range rounds {
		name := names[r.ProjectID]
		if name == "" {
			name = r.ProjectID.Short()
		}
		b.WriteString("#" + strconv.FormatUint(r.RoundID, 10) + " " + name + " " + r.Type.String() +
			" " + r.Status.String() + " " + notifier.FormatWei(r.TotalDeposited) + " / " +
			notifier.FormatWei(r.TargetAmount) + "\n")
	}
	return b.String()
}

func (s *Scheduler) reservesSummary() string {
	var records []model.ReserveRecord
	for _, id := range s.Verifier.ClaimedProjects() {
		if rec, err := s.Verifier.ProjectRecord(id); err == nil {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ProjectID.String() < records[j].ProjectID.String()
	})
	var engine *model.EngineReserveRecord
	if rec, err := s.Verifier.EngineRecord(); err == nil {
		engine = &rec
	}
	return notifier.FormatReserves(s.names(), records, engine)
}

// Notify sends text to operators if a notifier is configured.
func (s *Scheduler) Notify(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		zap.L().Error("send notification", zap.Error(err))
	}
}
