// Package periphi2c opens host I2C buses through periph.io and hands them to
// chip drivers expecting the drivers.I2C contract. The two Tx signatures are
// identical, so a periph bus is returned as-is.
package periphi2c

import (
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// Compile-time check that a periph bus fulfils the driver contract.
var _ drivers.I2C = (i2c.BusCloser)(nil)

// Open initialises the host drivers and opens the named I2C bus. An empty
// name selects the first available bus. The returned close function releases
// the bus handle.
func Open(name string) (drivers.I2C, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, err
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return b, b.Close, nil
}
