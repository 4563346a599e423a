package app

import (
	"errors"
	"fmt"
	"log/slog"

	"jimtransmit/internal/config"
	"jimtransmit/internal/hw"
	"jimtransmit/internal/node"
)

type devices struct {
	thermometer node.Thermometer
	battery     node.AnalogInput
	led         node.Output
	cutoff      node.Output
	closers     []func() error
}

func (d *devices) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func openDevices(cfg config.Config) (*devices, error) {
	if cfg.HWBackend == "sim" {
		slog.Info("using simulated hardware", "temp_c", cfg.SimTempC, "vbat_count", cfg.SimVBatCount)
		return &devices{
			thermometer: &hw.SimThermometer{Celsius: cfg.SimTempC},
			battery:     &hw.SimAnalog{Count: cfg.SimVBatCount},
			led:         &hw.SimPin{Name: cfg.LEDPin},
			cutoff:      &hw.SimPin{Name: cfg.CutoffPin},
		}, nil
	}

	if err := hw.Init(); err != nil {
		return nil, err
	}

	d := &devices{}
	led, err := hw.OpenOutput(cfg.LEDPin)
	if err != nil {
		return nil, fmt.Errorf("led: %w", err)
	}
	d.led = led

	cutoff, err := hw.OpenOutput(cfg.CutoffPin)
	if err != nil {
		return nil, fmt.Errorf("cutoff: %w", err)
	}
	d.cutoff = cutoff

	probe, err := hw.OpenDS18B20(cfg.OneWireBus)
	if err != nil {
		return nil, err
	}
	d.thermometer = probe
	d.closers = append(d.closers, probe.Close)

	adc, err := hw.OpenADS1115(hw.ADS1115Options{
		Address:    cfg.VBatADCAddress,
		Channel:    cfg.VBatADCChannel,
		ReferenceV: cfg.VBatReferenceV,
		FullScale:  cfg.VBatFullScale,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.battery = adc
	d.closers = append(d.closers, adc.Close)

	slog.Info("hardware ready",
		"led", cfg.LEDPin,
		"cutoff", cfg.CutoffPin,
		"onewire_bus", cfg.OneWireBus,
		"vbat_adc", fmt.Sprintf("0x%02X", cfg.VBatADCAddress),
		"vbat_channel", cfg.VBatADCChannel,
	)
	return d, nil
}

func loopConfig(cfg config.Config) node.Config {
	lc := node.DefaultConfig()
	lc.Address = node.Address(cfg.NodeAddress)
	lc.Peer = node.Address(cfg.PeerAddress)
	lc.SensorIndex = cfg.TempSensorIndex
	lc.Battery = node.BatteryScale{
		Divider:    cfg.VBatDivider,
		ReferenceV: cfg.VBatReferenceV,
		FullScale:  float64(cfg.VBatFullScale),
	}
	lc.LowBatteryV = cfg.LowBatteryV
	lc.ReplyTimeout = cfg.ReplyTimeout
	lc.LoopDelay = cfg.LoopDelay
	lc.PowerDownHold = cfg.PowerDownHold
	lc.FastBlink = node.BlinkDirective(cfg.BlinkFast)
	lc.SlowBlink = node.BlinkDirective(cfg.BlinkSlow)
	lc.StrictInit = cfg.StrictInit
	return lc
}
