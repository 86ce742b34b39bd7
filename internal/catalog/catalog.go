package catalog

import (
	"errors"
	"fmt"

	"hgu-gateway/internal/model"
)

// ErrEmpty is returned when a catalog holds no usable sensors.
var ErrEmpty = errors.New("catalog has no sensors")

// Catalog is an ordered, read-only set of sensor definitions.
type Catalog struct {
	defs []model.SensorDefinition
	byID map[string]int
}

// New validates defs and builds a catalog preserving their order.
func New(defs []model.SensorDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, ErrEmpty
	}
	c := &Catalog{
		defs: make([]model.SensorDefinition, 0, len(defs)),
		byID: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("sensor #%d: id is required", i)
		}
		if d.Address == "" {
			return nil, fmt.Errorf("sensor %s: address is required", d.ID)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("sensor %s: duplicate id", d.ID)
		}
		if d.Digital {
			d.Min, d.Max = 0, 1
		}
		if d.Min > d.Max {
			return nil, fmt.Errorf("sensor %s: min %g greater than max %g", d.ID, d.Min, d.Max)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		c.byID[d.ID] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// All returns a copy of every definition in catalog order.
func (c *Catalog) All() []model.SensorDefinition {
	out := make([]model.SensorDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len returns the number of sensors.
func (c *Catalog) Len() int { return len(c.defs) }

// Lookup finds a sensor by id.
func (c *Catalog) Lookup(id string) (model.SensorDefinition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.SensorDefinition{}, false
	}
	return c.defs[i], true
}

// ByCategory returns the sensors of one category in catalog order.
func (c *Catalog) ByCategory(cat model.Category) []model.SensorDefinition {
	var out []model.SensorDefinition
	for _, d := range c.defs {
		if d.Category == cat {
			out = append(out, d)
		}
	}
	return out
}

// ValidateValue reports whether v is acceptable for sensor id.
// Unknown ids are never valid.
func (c *Catalog) ValidateValue(id string, v float64) bool {
	d, ok := c.Lookup(id)
	if !ok {
		return false
	}
	return d.InRange(v)
}
