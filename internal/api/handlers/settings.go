package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/orrn/ticketspool/internal/config"
)

type ConfigResponse struct {
	PrinterIP         string `json:"printerIP"`
	PrinterPort       int    `json:"printerPort"`
	TicketWidth       int    `json:"ticketWidth"`
	BusinessName      string `json:"businessName"`
	FooterText        string `json:"footerText"`
	HeaderLogo        string `json:"headerLogo"`
	FooterLogo        string `json:"footerLogo"`
	PrintConfirmation bool   `json:"printConfirmation"`

	Port             int    `json:"port"`
	QueueDir         string `json:"queueDir"`
	DrainInterval    string `json:"drainInterval"`
	InterJobDelay    string `json:"interJobDelay"`
	RenderTimeout    string `json:"renderTimeout"`
	RecoveryPolicy   string `json:"recoveryPolicy"`
	DatabasePath     string `json:"databasePath"`
	RetentionDays    int    `json:"retentionDays"`
	LogLevel         string `json:"logLevel"`
	WebhookEndpoints int    `json:"webhookEndpoints"`
	RestartToApply   bool   `json:"restartToApply"`
}

// UpdateConfigRequest lists the printer settings editable over the API.
// Omitted fields keep their current value.
type UpdateConfigRequest struct {
	PrinterIP         *string `json:"printerIP"`
	PrinterPort       *int    `json:"printerPort"`
	TicketWidth       *int    `json:"ticketWidth"`
	BusinessName      *string `json:"businessName"`
	FooterText        *string `json:"footerText"`
	HeaderLogo        *string `json:"headerLogo"`
	FooterLogo        *string `json:"footerLogo"`
	PrintConfirmation *bool   `json:"printConfirmation"`
	RetentionDays     *int    `json:"retentionDays"`
}

type ConfigHandler struct {
	mu      sync.RWMutex
	cfg     config.Config
	path    string
	changed bool
	log     zerolog.Logger
}

func NewConfigHandler(cfg *config.Config, path string, logger zerolog.Logger) *ConfigHandler {
	return &ConfigHandler{
		cfg:  *cfg,
		path: path,
		log:  logger,
	}
}

func (h *ConfigHandler) Current() config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *ConfigHandler) Printer() config.PrinterConfig {
	return h.Current().Printer
}

func (h *ConfigHandler) GetConfig(c *gin.Context) {
	h.mu.RLock()
	cfg, changed := h.cfg, h.changed
	h.mu.RUnlock()

	c.JSON(http.StatusOK, ConfigResponse{
		PrinterIP:         cfg.Printer.IP,
		PrinterPort:       cfg.Printer.Port,
		TicketWidth:       cfg.Printer.TicketWidth,
		BusinessName:      cfg.Printer.BusinessName,
		FooterText:        cfg.Printer.FooterText,
		HeaderLogo:        cfg.Printer.HeaderLogo,
		FooterLogo:        cfg.Printer.FooterLogo,
		PrintConfirmation: cfg.Printer.PrintConfirmation,
		Port:              cfg.Server.Port,
		QueueDir:          cfg.Queue.Dir,
		DrainInterval:     cfg.Queue.DrainInterval.String(),
		InterJobDelay:     cfg.Queue.InterJobDelay.String(),
		RenderTimeout:     cfg.Queue.RenderTimeout.String(),
		RecoveryPolicy:    cfg.Queue.RecoveryPolicy,
		DatabasePath:      cfg.Database.Path,
		RetentionDays:     cfg.Database.RetentionDays,
		LogLevel:          cfg.Logging.Level,
		WebhookEndpoints:  len(cfg.Webhooks),
		RestartToApply:    changed,
	})
}

// UpdateConfig merges the request into the current configuration and writes
// it to the config file. The printer connection picks the change up on
// restart; ping defaults use it immediately.
func (h *ConfigHandler) UpdateConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Configuración inválida", Details: err.Error()})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.cfg
	applyUpdate(&next, req)

	if err := next.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Configuración inválida", Details: err.Error()})
		return
	}

	if h.path != "" {
		if err := next.Save(h.path); err != nil {
			h.log.Error().Err(err).Str("path", h.path).Msg("failed to save config")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error al guardar configuración", Details: err.Error()})
			return
		}
	}

	h.cfg = next
	h.changed = true
	h.log.Info().Str("printer_ip", next.Printer.IP).Int("printer_port", next.Printer.Port).Msg("configuration updated")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Configuración guardada correctamente",
	})
}

func applyUpdate(cfg *config.Config, req UpdateConfigRequest) {
	if req.PrinterIP != nil {
		cfg.Printer.IP = *req.PrinterIP
	}
	if req.PrinterPort != nil {
		cfg.Printer.Port = *req.PrinterPort
	}
	if req.TicketWidth != nil {
		cfg.Printer.TicketWidth = *req.TicketWidth
	}
	if req.BusinessName != nil {
		cfg.Printer.BusinessName = *req.BusinessName
	}
	if req.FooterText != nil {
		cfg.Printer.FooterText = *req.FooterText
	}
	if req.HeaderLogo != nil {
		cfg.Printer.HeaderLogo = *req.HeaderLogo
	}
	if req.FooterLogo != nil {
		cfg.Printer.FooterLogo = *req.FooterLogo
	}
	if req.PrintConfirmation != nil {
		cfg.Printer.PrintConfirmation = *req.PrintConfirmation
	}
	if req.RetentionDays != nil {
		cfg.Database.RetentionDays = *req.RetentionDays
	}
}

func (h *ConfigHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/config", h.GetConfig)
	r.POST("/config", h.UpdateConfig)
}
