package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/orrn/ticketspool/internal/config"
	"github.com/orrn/ticketspool/internal/printer"
)

const defaultPingTimeout = 1500 * time.Millisecond

type PingResponse struct {
	Success bool   `json:"success"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
}

// StatusChecker reports the printer's condition.
type StatusChecker interface {
	CheckStatus(ctx context.Context) (printer.Status, error)
	LastStatus() printer.Status
}

// ConfirmationPrinter prints the "printer connected" ticket.
type ConfirmationPrinter interface {
	PrintConfirmation(ctx context.Context) error
}

type PrinterHandler struct {
	printerConfig func() config.PrinterConfig
	status        StatusChecker
	confirm       ConfirmationPrinter
	log           zerolog.Logger
}

func NewPrinterHandler(printerConfig func() config.PrinterConfig, status StatusChecker, confirm ConfirmationPrinter, logger zerolog.Logger) *PrinterHandler {
	return &PrinterHandler{
		printerConfig: printerConfig,
		status:        status,
		confirm:       confirm,
		log:           logger,
	}
}

// Ping opens a TCP connection to ip:port, falling back to the configured
// printer for missing query parameters.
func (h *PrinterHandler) Ping(c *gin.Context) {
	cfg := h.printerConfig()

	ip := strings.TrimSpace(c.Query("ip"))
	if ip == "" {
		ip = cfg.IP
	}
	if ip == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "IP no definida"})
		return
	}

	port := cfg.Port
	if p := c.Query("port"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Puerto inválido", Details: p})
			return
		}
		port = n
	}
	if port == 0 {
		port = 9100
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}

	err := printer.Ping(c.Request.Context(), ip, port, timeout)
	if err != nil {
		h.log.Debug().Err(err).Str("ip", ip).Int("port", port).Msg("printer ping failed")
	}

	c.JSON(http.StatusOK, PingResponse{Success: err == nil, IP: ip, Port: port})
}

// Status queries the printer unless ?cached=true asks for the last result.
func (h *PrinterHandler) Status(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "printer not configured"})
		return
	}

	if c.Query("cached") == "true" {
		c.JSON(http.StatusOK, h.status.LastStatus())
		return
	}

	status, err := h.status.CheckStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"online":      false,
			"canPrint":    false,
			"error":       err.Error(),
			"lastChecked": status.LastChecked,
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *PrinterHandler) TestPrint(c *gin.Context) {
	if h.confirm == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "printer not configured"})
		return
	}

	if err := h.confirm.PrintConfirmation(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "No se pudo imprimir", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ping-printer", h.Ping)
	r.GET("/printer/status", h.Status)
}

func (h *PrinterHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/printer/test", h.TestPrint)
}
