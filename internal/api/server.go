package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/orrn/ticketspool/internal/api/handlers"
	"github.com/orrn/ticketspool/internal/api/middleware"
	"github.com/orrn/ticketspool/internal/config"
	"github.com/orrn/ticketspool/internal/db"
	"github.com/orrn/ticketspool/internal/metrics"
	"github.com/orrn/ticketspool/internal/queue"
	"github.com/orrn/ticketspool/internal/templates"
)

// Deps are the services the HTTP API exposes. Auth, Printer, Confirm and
// Metrics may be nil.
type Deps struct {
	Config    *handlers.ConfigHandler
	Queue     *queue.Manager
	Templates *templates.Registry
	History   *db.HistoryRecorder
	Auth      *middleware.Auth
	Printer   handlers.StatusChecker
	Confirm   handlers.ConfirmationPrinter
	Metrics   *metrics.Metrics
	Hub       *handlers.Hub
	Logger    zerolog.Logger
}

// NewRouter builds the gin engine. Each admin route group requires a session
// or a token with its scope when Auth is set, and is left open otherwise.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Logger))

	jobs := handlers.NewJobHandler(d.Queue, d.Templates, d.History, d.Logger)
	tpls := handlers.NewTemplateHandler(d.Templates, d.Logger)
	printers := handlers.NewPrinterHandler(d.Config.Printer, d.Printer, d.Confirm, d.Logger)
	dashboard := handlers.NewDashboardHandler(d.Queue, d.Printer)

	public := r.Group("/api")
	jobs.RegisterRoutes(public)
	tpls.RegisterRoutes(public)
	printers.RegisterRoutes(public)
	dashboard.RegisterRoutes(public)

	if d.Auth != nil {
		d.Auth.RegisterRoutes(public)
	}
	admin := func(scope string) *gin.RouterGroup {
		g := r.Group("/api")
		if d.Auth != nil {
			g.Use(d.Auth.Require(scope))
		}
		return g
	}
	jobs.RegisterAdminRoutes(admin(middleware.ScopeQueue))
	tpls.RegisterAdminRoutes(admin(middleware.ScopeTemplates))
	printers.RegisterAdminRoutes(admin(middleware.ScopePrinter))
	d.Config.RegisterAdminRoutes(admin(middleware.ScopeConfig))

	if d.Hub != nil {
		r.GET("/ws", d.Hub.ServeWS)
	}
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg config.ServerConfig, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log: logger,
	}
}

func (s *Server) Addr() string {
	return s.http.Addr
}

// ListenAndServe blocks until the server fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
