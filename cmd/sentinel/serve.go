package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled oracle jobs and the Telegram command loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return eris.Wrap(err, "config validation")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.sched.RegisterAll(cfg.Schedule.SolvencyCron, cfg.Schedule.MilestoneCron, cfg.Schedule.ReserveCron); err != nil {
			return eris.Wrap(err, "register cron tasks")
		}
		a.sched.Start()
		defer a.sched.Stop()

		if a.alerts != nil {
			go a.alerts.Run(ctx)
		}
		if a.telegram != nil {
			go a.telegram.StartPolling(ctx, a.sched.HandleCommand)
			zap.L().Info("telegram polling started")
		}
		if runOnStart {
			zap.L().Info("running all tasks on start")
			go a.sched.RunAllNow()
		}

		zap.L().Info("sentinel running",
			zap.Int("projects", len(a.sched.Projects())),
			zap.String("solvency_source", a.collector.Source()))
		a.sched.Notify("🛰 InfraSentinel started")

		<-ctx.Done()
		zap.L().Info("shutdown signal received, stopping")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "run every job once at startup")
}
