package hw

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/devices/v3/ds18b20"
)

const ds18b20Family = 0x28

// DS18B20 reads every probe found on one one-wire bus, in search order.
type DS18B20 struct {
	bus        onewire.BusCloser
	resolution int
	devs       []*ds18b20.Dev
}

// OpenDS18B20 opens the named one-wire bus; an empty name picks the first registered one.
func OpenDS18B20(busName string) (*DS18B20, error) {
	bus, err := onewirereg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("onewire open %q: %w", busName, err)
	}
	return &DS18B20{bus: bus, resolution: 12}, nil
}

// Begin enumerates the probes on the bus. It runs every cycle so that a probe
// plugged in late is picked up.
func (d *DS18B20) Begin() error {
	addrs, err := d.bus.Search(false)
	if err != nil {
		return fmt.Errorf("onewire search: %w", err)
	}
	d.devs = d.devs[:0]
	for _, a := range addrs {
		if byte(a) != ds18b20Family {
			continue
		}
		dev, err := ds18b20.New(d.bus, a, d.resolution)
		if err != nil {
			return fmt.Errorf("ds18b20 %#016x: %w", uint64(a), err)
		}
		d.devs = append(d.devs, dev)
	}
	if len(d.devs) == 0 {
		return errors.New("no ds18b20 on bus")
	}
	return nil
}

// RequestTemperatures starts a conversion on all probes at once and waits for it.
func (d *DS18B20) RequestTemperatures() error {
	return ds18b20.ConvertAll(d.bus, d.resolution)
}

func (d *DS18B20) TempC(index int) (float64, error) {
	if index < 0 || index >= len(d.devs) {
		return 0, fmt.Errorf("ds18b20 index %d out of range (%d found)", index, len(d.devs))
	}
	t, err := d.devs[index].LastTemp()
	if err != nil {
		return 0, err
	}
	return t.Celsius(), nil
}

func (d *DS18B20) Close() error {
	return d.bus.Close()
}
