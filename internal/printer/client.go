package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orrn/ticketspool/internal/config"
)

var (
	ErrPrinterOffline     = errors.New("printer is offline")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrTimeout            = errors.New("operation timed out")
	ErrInvalidStatus      = errors.New("invalid status response")
	ErrPrinterCannotPrint = errors.New("printer cannot print in current state")
	ErrNotConfigured      = errors.New("printer address not configured")
)

const (
	defaultTCPPort          = 9100
	defaultReadWriteTimeout = 10 * time.Second
	defaultConnectTimeout   = 3 * time.Second
)

// Real-time status requests (DLE EOT n). Each answers with one byte.
var (
	statusPrinter = []byte{dle, eot, 1}
	statusOffline = []byte{dle, eot, 2}
	statusPaper   = []byte{dle, eot, 4}
)

// Bits of interest in the status bytes, keyed by request.
var offlineCauseMap = map[byte]string{
	0x04: "cover_open",
	0x08: "feed_button",
	0x20: "paper_end",
	0x40: "error",
}

var paperSensorMap = map[byte]string{
	0x0c: "paper_near_end",
	0x60: "paper_end",
}

type Status struct {
	Online      bool      `json:"online"`
	CanPrint    bool      `json:"canPrint"`
	Problems    []string  `json:"problems,omitempty"`
	LastChecked time.Time `json:"lastChecked"`
}

// Client talks to one ESC/POS printer over raw TCP. Each print opens its own
// connection, which is what most network thermal printers expect.
type Client struct {
	address        string
	connectTimeout time.Duration
	writeTimeout   time.Duration

	mu     sync.RWMutex
	status Status
}

func NewClient(cfg config.PrinterConfig) *Client {
	port := cfg.Port
	if port == 0 {
		port = defaultTCPPort
	}
	timeout := cfg.ConnectionTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}

	address := ""
	if cfg.IP != "" {
		address = net.JoinHostPort(cfg.IP, strconv.Itoa(port))
	}

	return &Client{
		address:        address,
		connectTimeout: timeout,
		writeTimeout:   defaultReadWriteTimeout,
	}
}

func (c *Client) Address() string {
	return c.address
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.address == "" {
		return nil, ErrNotConfigured
	}

	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	return conn, nil
}

// Print sends data in one connection. Cancelling ctx aborts the write.
func (c *Client) Print(ctx context.Context, data []byte) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write(data); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// CheckStatus queries the printer, paper and offline-cause status bytes.
func (c *Client) CheckStatus(ctx context.Context) (Status, error) {
	status, err := c.queryStatus(ctx)
	status.LastChecked = time.Now()

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	return status, err
}

// Ready reports whether a job sent now has a chance of printing: an address
// is configured and the last status check, if any, found the printer able to
// print. A printer never checked is assumed ready.
func (c *Client) Ready() error {
	if c.address == "" {
		return ErrNotConfigured
	}

	status := c.LastStatus()
	switch {
	case status.LastChecked.IsZero() || status.CanPrint:
		return nil
	case !status.Online:
		return ErrPrinterOffline
	case len(status.Problems) > 0:
		return fmt.Errorf("%w: %s", ErrPrinterCannotPrint, strings.Join(status.Problems, ", "))
	default:
		return ErrPrinterCannotPrint
	}
}

// LastStatus returns the result of the most recent CheckStatus.
func (c *Client) LastStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) queryStatus(ctx context.Context) (Status, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return Status{}, err
	}
	defer conn.Close()

	printerByte, err := request(conn, statusPrinter)
	if err != nil {
		return Status{}, err
	}

	status := Status{Online: printerByte&0x08 == 0}

	offlineByte, err := request(conn, statusOffline)
	if err != nil {
		return Status{}, err
	}
	status.Problems = append(status.Problems, parseBits(offlineByte, offlineCauseMap)...)

	paperByte, err := request(conn, statusPaper)
	if err != nil {
		return Status{}, err
	}
	for _, p := range parseBits(paperByte, paperSensorMap) {
		if !contains(status.Problems, p) {
			status.Problems = append(status.Problems, p)
		}
	}

	status.CanPrint = status.Online &&
		!contains(status.Problems, "paper_end") &&
		!contains(status.Problems, "cover_open") &&
		!contains(status.Problems, "error")

	return status, nil
}

func request(conn net.Conn, cmd []byte) (byte, error) {
	if _, err := conn.Write(cmd); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	resp := make([]byte, 1)
	if _, err := io.ReadFull(conn, resp); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, ErrTimeout
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}

	// Bits 1 and 4 are always set and bits 0 and 7 always clear.
	if resp[0]&0x93 != 0x12 {
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidStatus, resp[0])
	}
	return resp[0], nil
}

func parseBits(b byte, m map[byte]string) []string {
	var out []string
	for _, mask := range []byte{0x04, 0x08, 0x0c, 0x20, 0x40, 0x60} {
		name, ok := m[mask]
		if ok && b&mask != 0 {
			out = append(out, name)
		}
	}
	return out
}

// HealthLoop checks the printer every interval until ctx is done and reports
// each result to onStatus.
func (c *Client) HealthLoop(ctx context.Context, interval time.Duration, onStatus func(Status, error)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, c.connectTimeout+c.writeTimeout)
		defer cancel()
		status, err := c.CheckStatus(checkCtx)
		if onStatus != nil {
			onStatus(status, err)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Ping reports whether a TCP connection to ip:port can be opened within
// timeout.
func Ping(ctx context.Context, ip string, port int, timeout time.Duration) error {
	if ip == "" {
		return ErrNotConfigured
	}
	if port == 0 {
		port = defaultTCPPort
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrPrinterOffline, err)
	}
	return conn.Close()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
