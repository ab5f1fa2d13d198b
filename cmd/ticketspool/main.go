package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orrn/ticketspool/internal/config"
	"github.com/orrn/ticketspool/internal/logging"
	"github.com/orrn/ticketspool/internal/queue"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "ticketspool",
		Short:         "Local print-job dispatcher for ESC/POS thermal printers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCmd(opts),
		newQueueCmd(opts),
		newFailedCmd(opts),
		newPingCmd(opts),
	)
	return root
}

// loadConfig reads the config file, applies environment overrides and sets up
// logging.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logging.Init(cfg.Logging)
	return cfg, nil
}

// openQueue opens the on-disk queue without a renderer, for commands that
// inspect or move jobs but never print.
func openQueue(cfg *config.Config) (*queue.Manager, error) {
	store := queue.NewStore(cfg.Queue.Dir, cfg.Queue.WriteRetries, cfg.Queue.WriteRetryDelay)
	if err := store.EnsureDirs(); err != nil {
		return nil, err
	}

	manager := queue.NewManager(store, nil, &cfg.Queue, logging.Logger("queue"))
	if err := manager.Reconcile(); err != nil {
		return nil, err
	}
	return manager, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
