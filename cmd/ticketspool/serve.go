package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/orrn/ticketspool/internal/api"
	"github.com/orrn/ticketspool/internal/api/handlers"
	"github.com/orrn/ticketspool/internal/api/middleware"
	"github.com/orrn/ticketspool/internal/archive"
	"github.com/orrn/ticketspool/internal/config"
	"github.com/orrn/ticketspool/internal/db"
	"github.com/orrn/ticketspool/internal/logging"
	"github.com/orrn/ticketspool/internal/metrics"
	"github.com/orrn/ticketspool/internal/printer"
	"github.com/orrn/ticketspool/internal/queue"
	"github.com/orrn/ticketspool/internal/templates"
	"github.com/orrn/ticketspool/internal/webhook"
)

const (
	shutdownTimeout      = 10 * time.Second
	printerCheckInterval = 30 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the print queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, opts.configPath)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	log := logging.Logger("main")

	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store := queue.NewStore(cfg.Queue.Dir, cfg.Queue.WriteRetries, cfg.Queue.WriteRetryDelay)
	if err := store.EnsureDirs(); err != nil {
		return err
	}

	registry := templates.NewRegistry(db.Templates)

	m := metrics.New()
	history := db.NewHistoryRecorder(logging.Logger("history"))
	hooks := webhook.NewSender(cfg.Webhooks, webhook.Options{}, logging.Logger("webhook"))

	pq := newPrintQueue(cfg, store, registry, history, hooks, m)
	manager, client, renderer := pq.manager, pq.client, pq.renderer
	hub := handlers.NewHub(manager.Snapshot, logging.Logger("websocket"))
	manager.Subscribe(m.ObserveSnapshot)
	manager.Subscribe(hub.Broadcast)

	recovered, err := manager.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}
	if err := manager.Reconcile(); err != nil {
		return err
	}
	snap := manager.Snapshot()
	log.Info().
		Int("recovered", recovered).
		Int("pending", snap.Pending).
		Str("queue_dir", cfg.Queue.Dir).
		Msg("queue ready")

	auth, err := middleware.NewAuth(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps := api.Deps{
		Config:    handlers.NewConfigHandler(cfg, configPath, logging.Logger("config")),
		Queue:     manager,
		Templates: registry,
		History:   history,
		Auth:      auth,
		Metrics:   m,
		Hub:       hub,
		Logger:    logging.Logger("http"),
	}
	if client.Address() != "" {
		deps.Printer = client
		deps.Confirm = renderer
	} else {
		log.Warn().Msg("no printer configured; jobs stay pending until one is set")
	}
	server := api.NewServer(cfg.Server, api.NewRouter(deps), logging.Logger("http"))

	if cfg.Printer.PrintConfirmation && client.Address() != "" && snap.Total == 0 {
		go func() {
			if err := renderer.PrintConfirmation(ctx); err != nil {
				log.Warn().Err(err).Msg("startup confirmation ticket not printed")
			}
		}()
	}

	var g run.Group

	{
		queueCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return manager.Run(queueCtx)
		}, func(error) {
			cancel()
		})
	}

	g.Add(server.ListenAndServe, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	})

	{
		janitor := archive.NewJanitor(store, archive.Config{RetentionDays: cfg.Database.RetentionDays}, logging.Logger("janitor"))
		janitorCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return janitor.Run(janitorCtx)
		}, func(error) {
			cancel()
		})
	}

	{
		done := make(chan struct{})
		g.Add(func() error {
			hooks.Start()
			<-done
			return nil
		}, func(error) {
			hooks.Stop()
			close(done)
		})
	}

	if client.Address() != "" {
		healthCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			client.HealthLoop(healthCtx, printerCheckInterval, printerWatcher(client.Address(), hooks, m))
			return nil
		}, func(error) {
			cancel()
		})
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if err == nil || errors.As(err, &sigErr) {
		log.Info().Msg("shut down cleanly")
		return nil
	}
	return err
}

type printQueue struct {
	manager  *queue.Manager
	client   *printer.Client
	renderer *printer.Renderer
}

// newPrintQueue connects the queue to the configured printer. With no printer
// address the renderer reports not ready and jobs wait in the pending stage.
func newPrintQueue(cfg *config.Config, store *queue.Store, registry *templates.Registry, callbacks ...queue.Callbacks) printQueue {
	client := printer.NewClient(cfg.Printer)
	renderer := printer.NewRenderer(client, registry, cfg.Printer, logging.Logger("printer"))
	manager := queue.NewManager(store, renderer, &cfg.Queue, logging.Logger("queue"), callbacks...)
	return printQueue{manager: manager, client: client, renderer: renderer}
}

// printerWatcher reports online/offline transitions. The first check only
// sets the gauge.
func printerWatcher(address string, hooks *webhook.Sender, m *metrics.Metrics) func(printer.Status, error) {
	log := logging.Logger("printer")
	var (
		known  bool
		online bool
	)

	return func(status printer.Status, err error) {
		now := err == nil && status.Online
		m.SetPrinterOnline(now)

		if known && now == online {
			return
		}
		first := !known
		known, online = true, now
		if first && now {
			return
		}

		data := webhook.PrinterEventData{Address: address, Online: now, Problems: status.Problems}
		if err != nil {
			data.Error = err.Error()
		}
		if now {
			log.Info().Str("addr", address).Msg("printer back online")
		} else {
			log.Warn().Err(err).Str("addr", address).Strs("problems", status.Problems).Msg("printer offline")
		}
		hooks.PrinterStatusChanged(data)
	}
}
