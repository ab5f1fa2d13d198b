package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/ticketspool/internal/config"
	"github.com/orrn/ticketspool/internal/templates"
)

// fakePrinter accepts raw TCP connections, records what is written and
// answers DLE EOT status requests with the configured bytes.
type fakePrinter struct {
	ln     net.Listener
	status map[byte]byte

	mu       sync.Mutex
	received [][]byte
}

func newFakePrinter(t *testing.T, status map[byte]byte) *fakePrinter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &fakePrinter{ln: ln, status: status}
	go p.serve()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *fakePrinter) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		go p.handle(conn)
	}
}

func (p *fakePrinter) handle(conn net.Conn) {
	defer conn.Close()

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			if p.status != nil && n == 3 && data[0] == dle && data[1] == eot {
				conn.Write([]byte{p.status[data[2]]})
			} else {
				buf.Write(data)
			}
		}
		if err != nil {
			break
		}
	}

	if buf.Len() > 0 {
		p.mu.Lock()
		p.received = append(p.received, buf.Bytes())
		p.mu.Unlock()
	}
}

func (p *fakePrinter) jobs() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.received...)
}

func (p *fakePrinter) printerConfig(t *testing.T) config.PrinterConfig {
	host, portStr, err := net.SplitHostPort(p.ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.Defaults().Printer
	cfg.IP = host
	cfg.Port = port
	cfg.ConnectionTimeout = time.Second
	return cfg
}

func TestFormatCurrency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0"},
		{100, "$100"},
		{1500, "$1.500"},
		{1234567, "$1.234.567"},
		{999.6, "$1.000"},
		{-2500, "$-2.500"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCurrency(tt.in))
	}
}

func TestBuilderCommands(t *testing.T) {
	b := NewBuilder(32)
	b.Align(AlignCenter).Bold(true).TextSize(2, 2).Println("HOLA").DrawLine().Cut()
	out := b.Bytes()

	assert.True(t, bytes.HasPrefix(out, []byte{esc, '@'}))
	assert.Contains(t, string(out), string([]byte{esc, 'a', 1}))
	assert.Contains(t, string(out), string([]byte{esc, 'E', 1}))
	assert.Contains(t, string(out), string([]byte{gs, '!', 0x11}))
	assert.Contains(t, string(out), "HOLA\n")
	assert.Contains(t, string(out), "--------------------------------\n")
	assert.True(t, bytes.HasSuffix(out, []byte{gs, 'V', 'A', 3}))
}

func TestBuilderImageRaster(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 2))
	for x := 0; x < 10; x++ {
		img.SetGray(x, 0, color.Gray{Y: 0})
		img.SetGray(x, 1, color.Gray{Y: 255})
	}

	out := NewBuilder(48).Image(img).Bytes()[2:]
	header := []byte{gs, 'v', '0', 0, 2, 0, 2, 0}
	require.True(t, bytes.HasPrefix(out, header))

	raster := out[len(header):]
	assert.Equal(t, []byte{0xff, 0xc0, 0x00, 0x00}, raster)
}

func TestLoadLogoScalesDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	img := image.NewRGBA(image.Rect(0, 0, 800, 200))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	logo, err := LoadLogo(path, 400)
	require.NoError(t, err)
	assert.Equal(t, 400, logo.Bounds().Dx())
	assert.Equal(t, 100, logo.Bounds().Dy())

	_, err = LoadLogo(filepath.Join(t.TempDir(), "missing.png"), 400)
	assert.Error(t, err)
}

func TestClientPrint(t *testing.T) {
	fp := newFakePrinter(t, nil)
	c := NewClient(fp.printerConfig(t))

	require.NoError(t, c.Print(context.Background(), []byte("ticket-bytes")))

	assert.Eventually(t, func() bool { return len(fp.jobs()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "ticket-bytes", string(fp.jobs()[0]))
}

func TestClientPrintUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	cfg := config.Defaults().Printer
	cfg.IP = "127.0.0.1"
	cfg.Port = addr.Port
	err = NewClient(cfg).Print(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrConnectionFailed)

	err = NewClient(config.Defaults().Printer).Print(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClientCheckStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   map[byte]byte
		online   bool
		canPrint bool
		problems []string
	}{
		{"ready", map[byte]byte{1: 0x12, 2: 0x12, 4: 0x12}, true, true, nil},
		{"paper out", map[byte]byte{1: 0x12, 2: 0x32, 4: 0x72}, true, false, []string{"paper_end"}},
		{"cover open offline", map[byte]byte{1: 0x1a, 2: 0x16, 4: 0x12}, false, false, []string{"cover_open"}},
		{"paper low", map[byte]byte{1: 0x12, 2: 0x12, 4: 0x1e}, true, true, []string{"paper_near_end"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakePrinter(t, tt.status)
			c := NewClient(fp.printerConfig(t))

			status, err := c.CheckStatus(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.online, status.Online)
			assert.Equal(t, tt.canPrint, status.CanPrint)
			assert.Equal(t, tt.problems, status.Problems)
			assert.Equal(t, status, c.LastStatus())
		})
	}
}

func TestClientCheckStatusInvalidByte(t *testing.T) {
	fp := newFakePrinter(t, map[byte]byte{1: 0xff})
	_, err := NewClient(fp.printerConfig(t)).CheckStatus(context.Background())
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestPing(t *testing.T) {
	fp := newFakePrinter(t, nil)
	cfg := fp.printerConfig(t)

	require.NoError(t, Ping(context.Background(), cfg.IP, cfg.Port, time.Second))
	assert.ErrorIs(t, Ping(context.Background(), "", 9100, time.Second), ErrNotConfigured)
}

func receiptPayload() map[string]any {
	return map[string]any{
		"detallePedido": []any{
			map[string]any{"nombre": "PIZZA muzzarella", "cantidad": float64(2), "precio": float64(1500), "aclaraciones": "sin aceitunas"},
		},
		"subTotal":   float64(3000),
		"envio":      float64(500),
		"total":      float64(3500),
		"metodoPago": "Efectivo",
		"telefono":   "1155550000",
		"direccion":  "Calle Falsa 123",
		"_templateInfo": map[string]any{
			"id":        templates.Receipt,
			"timestamp": "2024-03-01T12:00:00Z",
			"jobId":     "1709294400000-abcdefghi",
		},
	}
}

func TestRendererReceiptLayout(t *testing.T) {
	r := NewRenderer(nil, nil, config.Defaults().Printer, zerolog.Nop())

	out, err := r.Build(templates.Receipt, receiptPayload())
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "2x Pizza muzzarella: $3.000\n")
	assert.Contains(t, text, "   sin aceitunas\n")
	assert.Contains(t, text, "SUBTOTAL: $3000\n")
	assert.Contains(t, text, "ENVÍO: $500\n")
	assert.Contains(t, text, "TOTAL: $3.500\n")
	assert.Contains(t, text, "$3500 en Efectivo para el cliente: 1155550000\n")
	assert.Contains(t, text, "DIRECCIÓN:\nCalle Falsa 123\n")
	assert.Contains(t, text, "Impulsado por Absolute.\n")
	assert.True(t, bytes.HasSuffix(out, []byte{gs, 'V', 'A', 3}))
}

func TestRendererPriceTagLayout(t *testing.T) {
	r := NewRenderer(nil, nil, config.Defaults().Printer, zerolog.Nop())

	out, err := r.Build(templates.PriceTag, map[string]any{
		"productName": "widget",
		"price":       float64(12000),
		"offerPrice":  float64(9990),
		"barcode":     "7790001",
		"validUntil":  "31/03",
	})
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "PROMO\n")
	assert.Contains(t, text, "Widget\n")
	assert.Contains(t, text, "Antes: $12.000\n")
	assert.Contains(t, text, "$9.990\n")
	assert.Contains(t, text, string([]byte{gs, 'k', 73, 9, '{', 'B'})+"7790001")
	assert.Contains(t, text, "Válido hasta: 31/03\n")
}

func TestRendererUnsupportedTemplate(t *testing.T) {
	r := NewRenderer(nil, nil, config.Defaults().Printer, zerolog.Nop())
	_, err := r.Build("kitchen", map[string]any{})
	assert.ErrorIs(t, err, ErrUnsupportedTemplate)
}

func TestRenderJobSendsAndKeepsPayload(t *testing.T) {
	fp := newFakePrinter(t, nil)
	cfg := fp.printerConfig(t)
	r := NewRenderer(NewClient(cfg), templates.NewRegistry(nil), cfg, zerolog.Nop())

	payload := receiptPayload()
	before, err := json.Marshal(payload)
	require.NoError(t, err)

	require.NoError(t, r.RenderJob(context.Background(), payload))

	after, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	assert.Eventually(t, func() bool { return len(fp.jobs()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, string(fp.jobs()[0]), "TOTAL: $3.500")
}

func TestRenderJobRejectsInvalidPayload(t *testing.T) {
	fp := newFakePrinter(t, nil)
	cfg := fp.printerConfig(t)
	r := NewRenderer(NewClient(cfg), templates.NewRegistry(nil), cfg, zerolog.Nop())

	err := r.RenderJob(context.Background(), map[string]any{"templateId": templates.PriceTag, "productName": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price")
	assert.Empty(t, fp.jobs())
}

type captureSender struct{ data []byte }

func (c *captureSender) Print(_ context.Context, data []byte) error {
	c.data = append([]byte(nil), data...)
	return nil
}

func TestPrintConfirmation(t *testing.T) {
	s := &captureSender{}
	r := NewRenderer(s, nil, config.Defaults().Printer, zerolog.Nop())

	require.NoError(t, r.PrintConfirmation(context.Background()))
	assert.Contains(t, string(s.data), "Impresora conectada correctamente\n")
}

func TestTemplateID(t *testing.T) {
	assert.Equal(t, templates.PriceTag, TemplateID(map[string]any{"_templateInfo": map[string]any{"id": templates.PriceTag}}))
	assert.Equal(t, "kitchen", TemplateID(map[string]any{"templateId": "kitchen"}))
	assert.Equal(t, templates.Receipt, TemplateID(map[string]any{}))
}

func TestClientReady(t *testing.T) {
	assert.ErrorIs(t, NewClient(config.Defaults().Printer).Ready(), ErrNotConfigured)

	tests := []struct {
		name    string
		status  map[byte]byte
		wantErr error
	}{
		{"ready", map[byte]byte{1: 0x12, 2: 0x12, 4: 0x12}, nil},
		{"paper out", map[byte]byte{1: 0x12, 2: 0x32, 4: 0x72}, ErrPrinterCannotPrint},
		{"cover open offline", map[byte]byte{1: 0x1a, 2: 0x16, 4: 0x12}, ErrPrinterOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakePrinter(t, tt.status)
			c := NewClient(fp.printerConfig(t))

			// Not checked yet: assumed ready.
			require.NoError(t, c.Ready())

			_, err := c.CheckStatus(context.Background())
			require.NoError(t, err)

			err = c.Ready()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClientReadyAfterFailedCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	cfg := config.Defaults().Printer
	cfg.IP = "127.0.0.1"
	cfg.Port = addr.Port
	c := NewClient(cfg)

	_, err = c.CheckStatus(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, c.Ready(), ErrPrinterOffline)
}

func TestRendererReady(t *testing.T) {
	r := NewRenderer(NewClient(config.Defaults().Printer), nil, config.Defaults().Printer, zerolog.Nop())
	assert.ErrorIs(t, r.Ready(), ErrNotConfigured)

	r = NewRenderer(&captureSender{}, nil, config.Defaults().Printer, zerolog.Nop())
	assert.NoError(t, r.Ready())
}
