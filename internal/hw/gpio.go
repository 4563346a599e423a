package hw

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// OutputPin drives one GPIO line.
type OutputPin struct {
	pin gpio.PinOut
}

// OpenOutput looks up name in the GPIO registry ("GPIO17", "17", ...) and drives it low.
func OpenOutput(name string) (*OutputPin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio %q: %w", name, err)
	}
	return &OutputPin{pin: p}, nil
}

func (o *OutputPin) Set(high bool) error {
	return o.pin.Out(gpio.Level(high))
}

func (o *OutputPin) String() string { return o.pin.String() }
