package hw

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
)

// ADS1115 samples one channel of an ADS1115 and reports it as a count on a
// reference/full-scale grid, so the node can keep its classic 10-bit battery math.
type ADS1115 struct {
	bus       i2c.BusCloser
	pin       ads1x15.PinADC
	reference physic.ElectricPotential
	fullScale int
}

type ADS1115Options struct {
	Bus        string
	Address    uint16
	Channel    int
	ReferenceV float64
	FullScale  int
}

var channels = [...]ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}

func OpenADS1115(opts ADS1115Options) (*ADS1115, error) {
	if opts.Channel < 0 || opts.Channel >= len(channels) {
		return nil, fmt.Errorf("ads1115 channel %d out of range", opts.Channel)
	}
	if opts.FullScale <= 0 || opts.ReferenceV <= 0 {
		return nil, fmt.Errorf("ads1115 needs positive reference and full scale")
	}

	bus, err := i2creg.Open(opts.Bus)
	if err != nil {
		return nil, fmt.Errorf("i2creg.Open: %w", err)
	}

	adsOpts := ads1x15.DefaultOpts
	adsOpts.I2cAddress = opts.Address
	dev, err := ads1x15.NewADS1115(bus, &adsOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ads1115 %#x: %w", opts.Address, err)
	}

	reference := physic.ElectricPotential(opts.ReferenceV * float64(physic.Volt))
	pin, err := dev.PinForChannel(channels[opts.Channel], reference, 8*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ads1115 channel %d: %w", opts.Channel, err)
	}

	return &ADS1115{bus: bus, pin: pin, reference: reference, fullScale: opts.FullScale}, nil
}

func (a *ADS1115) ReadAnalog() (int, error) {
	s, err := a.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("ads1115 read: %w", err)
	}
	return countFromSample(s, a.reference, a.fullScale), nil
}

func (a *ADS1115) Close() error {
	_ = a.pin.Halt()
	return a.bus.Close()
}

// countFromSample maps a voltage sample onto [0, fullScale-1].
func countFromSample(s analog.Sample, reference physic.ElectricPotential, fullScale int) int {
	if reference <= 0 {
		return 0
	}
	c := int(math.Round(float64(s.V) / float64(reference) * float64(fullScale)))
	switch {
	case c < 0:
		return 0
	case c > fullScale-1:
		return fullScale - 1
	}
	return c
}
