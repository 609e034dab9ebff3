package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/collector"
	"InfraSentinel/internal/config"
	"InfraSentinel/internal/events"
	"InfraSentinel/internal/ledger"
	"InfraSentinel/internal/milestone"
	"InfraSentinel/internal/model"
	"InfraSentinel/internal/notifier"
	"InfraSentinel/internal/recorder"
	"InfraSentinel/internal/reserve"
	"InfraSentinel/internal/scheduler"
	"InfraSentinel/internal/solvency"
)

// alertBuffer is how many alerts may wait for Telegram before new ones are dropped.
const alertBuffer = 64

// app holds every wired component.
type app struct {
	bus       *events.Bus
	recorder  recorder.Recorder
	ledger    *ledger.Ledger
	solvency  *solvency.Store
	milestone *milestone.Store
	verifier  *reserve.Verifier
	collector *collector.Collector
	sched     *scheduler.Scheduler
	telegram  *notifier.TelegramNotifier
	alerts    *notifier.AlertSink
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	admin := model.Principal(cfg.Admin)
	a := &app{bus: events.NewBus(events.LogSink{})}

	a.recorder = openRecorder(cfg.Database.SQLitePath)
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.bus.Subscribe(recorder.EventSink(a.recorder))

	var sender notifier.Sender
	if cfg.Telegram.BotToken != "" {
		a.telegram = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Feed.Proxy)
		a.alerts = notifier.NewAlertSink(a.telegram, alertBuffer, 3)
		a.bus.Subscribe(a.alerts)
		sender = a.telegram
	}

	price, err := cfg.Ledger.NativePrice()
	if err != nil {
		return nil, err
	}
	minTarget, err := cfg.Ledger.MinTarget()
	if err != nil {
		return nil, err
	}
	if err := ensureDir(cfg.Ledger.StateFile); err != nil {
		return nil, err
	}
	a.ledger, err = ledger.New(admin, ledger.Config{
		NativeUSDPrice:  price,
		MinRescueTarget: minTarget,
		RescueWindow:    cfg.Ledger.RescueWindow,
		StateFile:       cfg.Ledger.StateFile,
	}, a.bus)
	if err != nil {
		return nil, eris.Wrap(err, "init ledger")
	}

	a.solvency = solvency.NewStore(admin, solvency.Config{
		Principal:       model.Principal(cfg.Principals.SolvencyStore),
		RescueThreshold: cfg.Solvency.RescueThreshold,
		HistoryCapacity: cfg.Solvency.HistoryCapacity,
	}, a.bus)
	a.milestone = milestone.NewStore(admin, model.Principal(cfg.Principals.MilestoneStore), a.bus)

	var fetcher collector.Fetcher
	if cfg.Feed.BaseURL != "" {
		fetcher = collector.NewHTTPFetcher(cfg.Feed.BaseURL, cfg.Feed.APIKey, cfg.Feed.Proxy, cfg.Feed.RatePerSec, cfg.Feed.Burst)
	} else {
		fetcher = collector.NewMockFetcher()
	}
	a.collector = collector.New(fetcher, cfg.Feed.RemoteSolvency, cfg.Solvency.RescueThreshold)
	zap.L().Info("report feed", zap.String("fetcher", fetcher.Name()))

	a.verifier = reserve.NewVerifier(admin, a.collector, a.ledger, a.bus)
	if err := a.verifier.SetMinReserveRatio(admin, cfg.Reserve.MinRatioBps); err != nil {
		return nil, err
	}
	if err := a.verifier.SetMaxStaleness(admin, cfg.Reserve.MaxStaleness); err != nil {
		return nil, err
	}

	if err := a.connect(admin, model.Principal(cfg.Principals.Workflow)); err != nil {
		return nil, err
	}

	a.sched = scheduler.NewScheduler(ctx, model.Principal(cfg.Principals.Workflow), a.collector,
		a.solvency, a.milestone, a.verifier, a.ledger, a.recorder, sender)
	if err := a.bootstrap(admin, cfg.Projects); err != nil {
		return nil, err
	}
	return a, nil
}

// connect grants the oracle stores their ledger roles and installs the hooks.
func (a *app) connect(admin, workflow model.Principal) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"grant solvency role", func() error {
			return a.ledger.GrantRole(admin, access.RoleSolvencyOracle, a.solvency.Principal())
		}},
		{"grant milestone role", func() error {
			return a.ledger.GrantRole(admin, access.RoleMilestoneOracle, a.milestone.Principal())
		}},
		{"set gap provider", func() error { return a.ledger.SetGapProvider(admin, a.solvency) }},
		{"set rescue hook", func() error { return a.solvency.SetRescueHook(admin, a.ledger) }},
		{"set tranche hook", func() error { return a.milestone.SetTrancheHook(admin, a.ledger) }},
		{"authorize solvency workflow", func() error { return a.solvency.SetAuthorizedWorkflow(admin, workflow) }},
		{"authorize milestone workflow", func() error { return a.milestone.SetAuthorizedWorkflow(admin, workflow) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return eris.Wrap(err, s.name)
		}
	}
	return nil
}

// bootstrap registers the configured projects with every component.
func (a *app) bootstrap(admin model.Principal, projects []config.ProjectConfig) error {
	for _, p := range projects {
		id := p.ID()
		fin, err := p.Financials()
		if err != nil {
			return err
		}
		if err := a.solvency.RegisterProject(admin, id, fin); err != nil {
			return eris.Wrapf(err, "register %q", p.Name)
		}
		if p.Milestones > 0 {
			if err := a.milestone.RegisterMilestones(admin, id, uint8(p.Milestones)); err != nil {
				return eris.Wrapf(err, "milestones for %q", p.Name)
			}
		}
		claimed, err := p.Reserves()
		if err != nil {
			return err
		}
		if claimed > 0 {
			if err := a.verifier.SetClaimedReserves(admin, id, claimed); err != nil {
				return eris.Wrapf(err, "claimed reserves for %q", p.Name)
			}
		}
		a.sched.AddProject(p.Name, id)
		zap.L().Info("project bootstrapped",
			zap.String("name", p.Name),
			zap.String("id", id.String()),
			zap.Int("milestones", p.Milestones))
	}
	return nil
}

func openRecorder(path string) recorder.Recorder {
	if path == "" {
		return recorder.NewNoopRecorder()
	}
	if err := ensureDir(path); err != nil {
		zap.L().Warn("create database directory failed, using noop recorder", zap.Error(err))
		return recorder.NewNoopRecorder()
	}
	sr, err := recorder.NewSQLiteRecorder(path)
	if err != nil {
		zap.L().Warn("init sqlite recorder failed, using noop", zap.Error(err))
		return recorder.NewNoopRecorder()
	}
	return sr
}

func ensureDir(file string) error {
	if file == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return eris.Wrapf(err, "create directory for %s", file)
	}
	return nil
}

func (a *app) Close() {
	if err := a.recorder.Close(); err != nil {
		zap.L().Warn("close recorder", zap.Error(err))
	}
}
