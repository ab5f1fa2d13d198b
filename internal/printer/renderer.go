package printer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/rs/zerolog"

	"github.com/orrn/ticketspool/internal/config"
	"github.com/orrn/ticketspool/internal/templates"
)

var ErrUnsupportedTemplate = errors.New("unsupported template")

// Validator re-checks a payload right before it is printed.
type Validator interface {
	Validate(ctx context.Context, templateID string, data map[string]any) (templates.Result, error)
}

// Sender delivers a finished command stream to the printer.
type Sender interface {
	Print(ctx context.Context, data []byte) error
}

// Renderer lays out queued jobs as ESC/POS tickets and sends them to the
// printer. It only reads the payload.
type Renderer struct {
	sender    Sender
	validator Validator
	config    config.PrinterConfig
	log       zerolog.Logger

	headerLogo image.Image
	footerLogo image.Image
}

func NewRenderer(sender Sender, validator Validator, cfg config.PrinterConfig, logger zerolog.Logger) *Renderer {
	r := &Renderer{
		sender:    sender,
		validator: validator,
		config:    cfg,
		log:       logger,
	}

	maxDots := cfg.TicketWidth * dotsPerColumn
	if cfg.HeaderLogo != "" {
		if img, err := LoadLogo(cfg.HeaderLogo, maxDots); err != nil {
			logger.Warn().Err(err).Msg("header logo disabled")
		} else {
			r.headerLogo = img
		}
	}
	if cfg.FooterLogo != "" {
		if img, err := LoadLogo(cfg.FooterLogo, maxDots/4); err != nil {
			logger.Warn().Err(err).Msg("footer logo disabled")
		} else {
			r.footerLogo = img
		}
	}

	return r
}

// TemplateID returns the template a payload was enqueued with. Payloads
// without template metadata are receipts.
func TemplateID(payload map[string]any) string {
	if info, ok := payload["_templateInfo"].(map[string]any); ok {
		if id, ok := info["id"].(string); ok && id != "" {
			return id
		}
	}
	if id, ok := payload["templateId"].(string); ok && id != "" {
		return id
	}
	return templates.Receipt
}

// Ready passes through the sender's readiness when it reports one.
func (r *Renderer) Ready() error {
	if rd, ok := r.sender.(interface{ Ready() error }); ok {
		return rd.Ready()
	}
	return nil
}

func (r *Renderer) RenderJob(ctx context.Context, payload map[string]any) error {
	templateID := TemplateID(payload)

	if r.validator != nil {
		result, err := r.validator.Validate(ctx, templateID, payload)
		if err != nil {
			return fmt.Errorf("failed to validate job: %w", err)
		}
		if !result.Valid {
			return fmt.Errorf("invalid data for template %s: %s", templateID, strings.Join(result.MissingFields, ", "))
		}
	}

	data, err := r.Build(templateID, payload)
	if err != nil {
		return err
	}

	if err := r.sender.Print(ctx, data); err != nil {
		return fmt.Errorf("failed to print %s: %w", templateID, err)
	}

	r.log.Debug().Str("template", templateID).Int("bytes", len(data)).Msg("ticket sent to printer")
	return nil
}

// Build renders the command stream for payload without sending it.
func (r *Renderer) Build(templateID string, payload map[string]any) ([]byte, error) {
	b := NewBuilder(r.config.TicketWidth)

	switch templateID {
	case templates.Receipt:
		r.buildReceipt(b, payload)
	case templates.PriceTag:
		r.buildPriceTag(b, payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTemplate, templateID)
	}

	return b.Bytes(), nil
}

// PrintConfirmation prints a short ticket confirming the printer is reachable.
func (r *Renderer) PrintConfirmation(ctx context.Context) error {
	b := NewBuilder(r.config.TicketWidth)
	b.Align(AlignCenter).Bold(true)
	if r.config.BusinessName != "" {
		b.Println(r.config.BusinessName)
	}
	b.Println("Impresora conectada correctamente").Bold(false)
	b.NewLine().Cut()

	return r.sender.Print(ctx, b.Bytes())
}

func (r *Renderer) buildReceipt(b *Builder, order map[string]any) {
	if r.headerLogo != nil {
		b.Align(AlignCenter).Image(r.headerLogo)
	}
	b.NewLine()

	if name := stringField(order, "businessName"); name != "" {
		b.Align(AlignCenter).Bold(true).Println(name).Bold(false)
	}

	if items, ok := order["detallePedido"].([]any); ok && len(items) > 0 {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}

			name := stringField(item, "name", "nombre")
			if name == "" {
				name = "Producto sin nombre"
			}
			qty, ok := numberField(item, "quantity", "cantidad")
			if !ok {
				qty = 1
			}
			price, _ := numberField(item, "price", "precio")

			b.Align(AlignCenter).Bold(true)
			b.Println(fmt.Sprintf("%gx %s: %s", qty, capitalize(name), FormatCurrency(price*qty)))
			b.Bold(false)

			if note := stringField(item, "aclaraciones"); note != "" {
				b.Println("   " + note)
			}
		}
		b.NewLine()
	}

	total, _ := toFloat(order["total"])

	b.Align(AlignRight)
	if sub, ok := numberField(order, "subTotal"); ok && sub != total {
		b.Println(fmt.Sprintf("SUBTOTAL: $%.0f", sub))
	}
	if shipping, ok := numberField(order, "envio"); ok && shipping > 0 {
		b.Println(fmt.Sprintf("ENVÍO: $%.0f", shipping))
	}

	b.Bold(true).Align(AlignCenter)
	b.Println("TOTAL: " + FormatCurrency(total))
	b.Println(fmt.Sprintf("$%.0f en %s para el cliente: %s",
		total, stringField(order, "metodoPago"), stringField(order, "telefono")))
	b.Bold(false)

	if address := stringField(order, "direccion"); address != "" {
		b.NewLine().DrawLine()
		b.Align(AlignLeft)
		b.Println("DIRECCIÓN:").Println(address)

		if ref := stringField(order, "aclaraciones"); ref != "" {
			b.Println("REFERENCIA:").Println(ref)
		}
	}

	r.buildFooter(b)
}

func (r *Renderer) buildPriceTag(b *Builder, tag map[string]any) {
	b.Align(AlignCenter)
	if r.headerLogo != nil {
		b.Image(r.headerLogo)
	}
	b.NewLine()

	header := stringField(tag, "header")
	if header == "" {
		header = "PROMO"
	}
	b.Align(AlignCenter).Bold(true).Println(header).Bold(false)

	lineWidth := b.Width() / 3
	if lineWidth < 1 {
		lineWidth = 10
	}
	b.Println(strings.Repeat("_", lineWidth))
	b.NewLine().NewLine().NewLine()

	name := stringField(tag, "productName")
	if name == "" {
		name = "Producto sin nombre"
	}
	b.Bold(true).Println(capitalize(name)).Bold(false)

	if category := stringField(tag, "category"); category != "" {
		b.Println(category)
	}
	b.NewLine()

	price, _ := toFloat(tag["price"])
	offer, hasOffer := numberField(tag, "offerPrice")

	if hasOffer && offer < price {
		b.Println("Antes: " + FormatCurrency(price))
		price = offer
	}
	b.Bold(true).TextSize(2, 2).Println(FormatCurrency(price)).TextSize(1, 1).Bold(false)

	if barcode := stringField(tag, "barcode"); barcode != "" {
		b.NewLine().Barcode(barcode)
	}
	if until := stringField(tag, "validUntil"); until != "" {
		b.Println("Válido hasta: " + until)
	}

	r.buildFooter(b)
}

func (r *Renderer) buildFooter(b *Builder) {
	b.NewLine().Align(AlignCenter)
	if r.footerLogo != nil {
		b.Image(r.footerLogo)
	}

	if r.config.FooterText != "" {
		b.Bold(true)
		for _, line := range strings.Split(r.config.FooterText, "\n") {
			b.Println(line)
		}
		b.Bold(false)
	}

	b.Cut()
}
