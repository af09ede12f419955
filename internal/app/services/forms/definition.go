package forms

import (
	"fmt"
	"math"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/metric"
	"github.com/greenhospital/reporting/internal/app/domain/variable"
)

// Field sources.
const (
	SourceCatalog  = "catalog"
	SourceVariable = "variable"
)

// Field is one input on a hospital's monthly form.
type Field struct {
	Key      string          `json:"key"`
	Label    string          `json:"label"`
	Unit     string          `json:"unit,omitempty"`
	Category metric.Category `json:"category"`
	Required bool            `json:"required"`
	Min      *float64        `json:"min,omitempty"`
	Max      *float64        `json:"max,omitempty"`
	Source   string          `json:"source"`
}

// Definition is the full field list for one hospital.
type Definition struct {
	HospitalID string  `json:"hospital_id"`
	Fields     []Field `json:"fields"`
}

// BuildDefinition combines the catalog with a hospital's enabled
// variables. Variables never replace catalog fields.
func BuildDefinition(hospitalID string, catalog metric.Catalog, vars []variable.Variable) Definition {
	def := Definition{HospitalID: hospitalID, Fields: make([]Field, 0, len(catalog)+len(vars))}
	seen := make(map[string]bool, len(catalog)+len(vars))
	for _, d := range catalog {
		seen[d.Key] = true
		def.Fields = append(def.Fields, Field{
			Key:      d.Key,
			Label:    d.Label,
			Unit:     d.Unit,
			Category: d.Category,
			Required: d.Required,
			Min:      d.Min,
			Max:      d.Max,
			Source:   SourceCatalog,
		})
	}
	for _, v := range vars {
		if !v.Enabled || seen[v.Key] {
			continue
		}
		seen[v.Key] = true
		def.Fields = append(def.Fields, Field{
			Key:      v.Key,
			Label:    v.Label,
			Unit:     v.Unit,
			Category: metric.CategoryCustom,
			Required: v.Required,
			Min:      v.Min,
			Max:      v.Max,
			Source:   SourceVariable,
		})
	}
	return def
}

// Field looks up a field by key.
func (d Definition) Field(key string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks values against the definition. Required fields are only
// enforced when submitting; drafts may be partial.
func (d Definition) Validate(values map[string]float64, submit bool) error {
	verr := &apperr.ValidationError{}
	for key, v := range values {
		f, ok := d.Field(key)
		if !ok {
			verr.Add(key, "unknown field")
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			verr.Add(key, "must be a number")
			continue
		}
		if f.Min != nil && v < *f.Min {
			verr.Add(key, fmt.Sprintf("must be at least %g", *f.Min))
		}
		if f.Max != nil && v > *f.Max {
			verr.Add(key, fmt.Sprintf("must be at most %g", *f.Max))
		}
	}
	if submit {
		for _, f := range d.Fields {
			if _, ok := values[f.Key]; f.Required && !ok {
				verr.Add(f.Key, "is required")
			}
		}
	}
	return verr.OrNil()
}
