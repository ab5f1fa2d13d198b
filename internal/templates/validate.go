package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Result is the outcome of validating a payload against a template.
type Result struct {
	Valid         bool           `json:"valid"`
	MissingFields []string       `json:"missingFields"`
	Details       map[string]any `json:"details,omitempty"`
}

// Validate checks data against the template named templateID. Unknown ids
// produce an invalid result, not an error; errors are reserved for storage
// failures.
func (r *Registry) Validate(ctx context.Context, templateID string, data map[string]any) (Result, error) {
	tpl, err := r.Get(ctx, templateID)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return Result{
				Valid:         false,
				MissingFields: []string{":templateId inválido"},
				Details:       map[string]any{"message": fmt.Sprintf("No existe plantilla con id %q", templateID)},
			}, nil
		}
		return Result{}, err
	}

	return validateAgainst(tpl, data), nil
}

func validateAgainst(tpl Template, data map[string]any) Result {
	var missing []string
	checked := map[string]bool{}

	switch tpl.ID {
	case Receipt:
		missing = validateReceipt(data)
		for _, f := range baseTemplates[Receipt].RequiredFields {
			checked[f] = true
		}
	case PriceTag:
		missing = validatePriceTag(data)
		for _, f := range baseTemplates[PriceTag].RequiredFields {
			checked[f] = true
		}
	}

	for _, field := range tpl.RequiredFields {
		if checked[field] || contains(missing, field) {
			continue
		}
		if isBlank(data[field]) {
			missing = append(missing, field)
		}
	}

	if missing == nil {
		missing = []string{}
	}
	return Result{Valid: len(missing) == 0, MissingFields: missing}
}

func validateReceipt(data map[string]any) []string {
	var missing []string

	items, ok := data["detallePedido"].([]any)
	if !ok || len(items) == 0 {
		missing = append(missing, "detallePedido")
	} else {
		var invalid []string
		for i, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok || !isNonEmptyString(item["nombre"]) || !isNumber(item["cantidad"]) || !isNumber(item["precio"]) {
				invalid = append(invalid, strconv.Itoa(i))
			}
		}
		if len(invalid) > 0 {
			missing = append(missing, fmt.Sprintf("detallePedido.items(%s)", strings.Join(invalid, ",")))
		}
	}

	if !isNumber(data["total"]) {
		missing = append(missing, "total")
	}
	if !isNonEmptyString(data["metodoPago"]) {
		missing = append(missing, "metodoPago")
	}
	if !isNonEmptyString(data["telefono"]) {
		missing = append(missing, "telefono")
	}
	return missing
}

func validatePriceTag(data map[string]any) []string {
	var missing []string
	if !isNonEmptyString(data["productName"]) {
		missing = append(missing, "productName")
	}
	if !isNumber(data["price"]) {
		missing = append(missing, "price")
	}
	return missing
}

func isNonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case float64:
		return !math.IsNaN(n)
	case float32:
		return !math.IsNaN(float64(n))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := n.Float64()
		return err == nil
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
