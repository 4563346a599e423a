package hw

import (
	"fmt"
	"log/slog"
	"sync"
)

// SimThermometer reports a fixed temperature from a single virtual probe.
type SimThermometer struct {
	Celsius float64
}

func (s *SimThermometer) Begin() error               { return nil }
func (s *SimThermometer) RequestTemperatures() error { return nil }

func (s *SimThermometer) TempC(index int) (float64, error) {
	if index != 0 {
		return 0, fmt.Errorf("sim thermometer has no probe %d", index)
	}
	return s.Celsius, nil
}

// SimAnalog returns a fixed ADC count.
type SimAnalog struct {
	Count int
}

func (s *SimAnalog) ReadAnalog() (int, error) { return s.Count, nil }

// SimPin logs level changes instead of driving a line.
type SimPin struct {
	Name string

	mu    sync.Mutex
	level bool
}

func (p *SimPin) Set(high bool) error {
	p.mu.Lock()
	changed := p.level != high
	p.level = high
	p.mu.Unlock()
	if changed {
		slog.Debug("sim pin", "pin", p.Name, "high", high)
	}
	return nil
}

func (p *SimPin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}
