package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/orrn/ticketspool/internal/db"
)

const (
	Receipt  = "receipt"
	PriceTag = "price-tag"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrBaseTemplate     = errors.New("base templates cannot be deleted")
	ErrInvalidTemplate  = errors.New("invalid template")
)

type Template struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	RequiredFields []string `json:"requiredFields"`
	OptionalFields []string `json:"optionalFields"`
	Base           bool     `json:"base"`
}

var baseTemplates = map[string]Template{
	Receipt: {
		ID:             Receipt,
		Name:           "Ticket de Venta",
		Description:    "Plantilla estándar para tickets de venta",
		RequiredFields: []string{"detallePedido", "total", "metodoPago", "telefono"},
		OptionalFields: []string{"aclaraciones", "direccion", "envio", "subTotal", "fecha", "hora", "businessName", "id"},
		Base:           true,
	},
	PriceTag: {
		ID:             PriceTag,
		Name:           "Etiqueta de Precio",
		Description:    "Para imprimir precios en góndola",
		RequiredFields: []string{"productName", "price"},
		OptionalFields: []string{"barcode", "offerPrice", "validUntil", "category", "header", "businessName"},
		Base:           true,
	},
}

func IsBase(id string) bool {
	_, ok := baseTemplates[id]
	return ok
}

// Store persists customized and user-defined templates.
type Store interface {
	SaveTemplate(ctx context.Context, t *db.Template) error
	GetTemplate(ctx context.Context, id string) (*db.Template, error)
	ListTemplates(ctx context.Context) ([]*db.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// Registry resolves template ids against the built-in templates and the
// stored ones. A stored row with a base id overrides the base metadata.
type Registry struct {
	store Store
}

// NewRegistry returns a registry backed by store. A nil store serves only the
// built-in templates.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) Get(ctx context.Context, id string) (Template, error) {
	if r.store != nil {
		row, err := r.store.GetTemplate(ctx, id)
		if err == nil {
			return fromRow(row), nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Template{}, fmt.Errorf("failed to load template %s: %w", id, err)
		}
	}

	if base, ok := baseTemplates[id]; ok {
		return base, nil
	}
	return Template{}, ErrTemplateNotFound
}

func (r *Registry) List(ctx context.Context) ([]Template, error) {
	byID := make(map[string]Template, len(baseTemplates))
	for id, t := range baseTemplates {
		byID[id] = t
	}

	if r.store != nil {
		rows, err := r.store.ListTemplates(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list templates: %w", err)
		}
		for _, row := range rows {
			byID[row.ID] = fromRow(row)
		}
	}

	out := make([]Template, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save stores t, filling missing metadata from the base template of the same
// id when there is one.
func (r *Registry) Save(ctx context.Context, t Template) (Template, error) {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return Template{}, fmt.Errorf("%w: id is required", ErrInvalidTemplate)
	}
	if r.store == nil {
		return Template{}, fmt.Errorf("%w: no template store configured", ErrInvalidTemplate)
	}

	t = normalize(t)
	row := &db.Template{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		RequiredFields: t.RequiredFields,
		OptionalFields: t.OptionalFields,
	}
	if err := r.store.SaveTemplate(ctx, row); err != nil {
		return Template{}, err
	}
	return t, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	if IsBase(id) {
		return ErrBaseTemplate
	}
	if r.store == nil {
		return ErrTemplateNotFound
	}

	if err := r.store.DeleteTemplate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTemplateNotFound
		}
		return err
	}
	return nil
}

func fromRow(row *db.Template) Template {
	return normalize(Template{
		ID:             row.ID,
		Name:           row.Name,
		Description:    row.Description,
		RequiredFields: row.RequiredFields,
		OptionalFields: row.OptionalFields,
	})
}

func normalize(t Template) Template {
	base, isBase := baseTemplates[t.ID]
	t.Base = isBase

	if t.Name == "" {
		t.Name = base.Name
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.Description == "" {
		t.Description = base.Description
	}
	if t.RequiredFields == nil {
		t.RequiredFields = append([]string{}, base.RequiredFields...)
	}
	if t.OptionalFields == nil {
		t.OptionalFields = append([]string{}, base.OptionalFields...)
	}
	return t
}
