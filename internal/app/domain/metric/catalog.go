// Package metric defines the sustainability metrics collected every month.
package metric

// Category groups metrics on the form and dashboard.
type Category string

const (
	CategoryEnergy    Category = "energy"
	CategoryWater     Category = "water"
	CategoryWaste     Category = "waste"
	CategoryEmissions Category = "emissions"
	CategoryTransport Category = "transport"
	CategoryCustom    Category = "custom"
)

// Definition describes one form field.
type Definition struct {
	Key      string   `json:"key" yaml:"key"`
	Label    string   `json:"label" yaml:"label"`
	Unit     string   `json:"unit" yaml:"unit"`
	Category Category `json:"category" yaml:"category"`
	Required bool     `json:"required" yaml:"required"`
	Min      *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Catalog is an ordered list of definitions.
type Catalog []Definition

func bound(v float64) *float64 { return &v }

// Default returns the built-in metric catalog.
func Default() Catalog {
	return Catalog{
		{Key: "electricity_kwh", Label: "Electricity", Unit: "kWh", Category: CategoryEnergy, Required: true, Min: bound(0)},
		{Key: "gas_m3", Label: "Natural gas", Unit: "m³", Category: CategoryEnergy, Required: true, Min: bound(0)},
		{Key: "water_m3", Label: "Water", Unit: "m³", Category: CategoryWater, Required: true, Min: bound(0)},
		{Key: "general_waste_kg", Label: "General waste", Unit: "kg", Category: CategoryWaste, Required: true, Min: bound(0)},
		{Key: "recycled_waste_kg", Label: "Recycled waste", Unit: "kg", Category: CategoryWaste, Min: bound(0)},
		{Key: "clinical_waste_kg", Label: "Clinical waste", Unit: "kg", Category: CategoryWaste, Required: true, Min: bound(0)},
		{Key: "co2_tonnes", Label: "CO₂ emissions", Unit: "tCO₂e", Category: CategoryEmissions, Required: true, Min: bound(0)},
		{Key: "vehicle_km", Label: "Fleet distance", Unit: "km", Category: CategoryTransport, Min: bound(0)},
		{Key: "fuel_litres", Label: "Fleet fuel", Unit: "L", Category: CategoryTransport, Min: bound(0)},
	}
}

// Lookup finds a definition by key.
func (c Catalog) Lookup(key string) (Definition, bool) {
	for _, d := range c {
		if d.Key == key {
			return d, true
		}
	}
	return Definition{}, false
}

// Keys lists the keys in catalog order.
func (c Catalog) Keys() []string {
	keys := make([]string, len(c))
	for i, d := range c {
		keys[i] = d.Key
	}
	return keys
}

// Override replaces definitions with matching keys and appends new ones.
func (c Catalog) Override(defs []Definition) Catalog {
	out := make(Catalog, len(c))
	copy(out, c)
	for _, d := range defs {
		replaced := false
		for i := range out {
			if out[i].Key == d.Key {
				out[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, d)
		}
	}
	return out
}
