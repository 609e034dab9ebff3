package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"InfraSentinel/internal/config"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Infrastructure funding ledger and oracle coordinator",
	Long: "Ingests solvency, milestone and reserve oracle reports for infrastructure projects, " +
		"runs milestone-gated funding rounds and opens rescue rounds when a project collapses.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	def := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		def = v
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", def, "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
