// Package hw binds the node's collaborators to real devices through periph.io:
// GPIO output lines, a DS18B20 probe on the one-wire bus and an ADS1115 on I2C
// for the battery sense divider.
package hw

import (
	"fmt"
	"log/slog"

	"periph.io/x/host/v3"
)

// Init loads the periph host drivers. It must run before any device is opened.
func Init() error {
	state, err := host.Init()
	if err != nil {
		return fmt.Errorf("host.Init: %w", err)
	}
	for _, d := range state.Loaded {
		slog.Debug("periph driver loaded", "driver", d.String())
	}
	for _, f := range state.Failed {
		slog.Debug("periph driver failed", "driver", f.D.String(), "error", f.Err)
	}
	return nil
}
