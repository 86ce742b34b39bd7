package catalog

import (
	"fmt"
)

// ModbusLayout readdresses a catalog for a Modbus controller. Analog points
// are packed as float32 pairs into holding registers (ns=4) and digital
// points into coils (ns=0), both in catalog order.
func ModbusLayout(c *Catalog) *Catalog {
	defs := c.All()
	var reg, coil int
	for i := range defs {
		if defs[i].Digital {
			defs[i].Address = fmt.Sprintf("ns=0;i=%d", coil)
			coil++
			continue
		}
		defs[i].Address = fmt.Sprintf("ns=4;i=%d", reg)
		reg += 2
	}
	return &Catalog{defs: defs, byID: c.byID}
}
