package app

import (
	"context"
	"log/slog"

	"jimtransmit/internal/config"
	"jimtransmit/internal/journal"
	"jimtransmit/internal/mqtt"
	"jimtransmit/internal/node"
)

// RunNode runs the sensor node until it powers down or ctx is done. After power
// down the cutoff line stays high and RunNode blocks until ctx is done.
func RunNode(ctx context.Context, cfg config.Config) error {
	slog.Info("initializing node",
		"address", cfg.NodeAddress,
		"peer", cfg.PeerAddress,
		"hw_backend", cfg.HWBackend,
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"mqtt_client_id", cfg.MQTTClientID,
		"journal", cfg.JournalPath,
	)

	devs, err := openDevices(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := devs.Close(); err != nil {
			slog.Error("device close", "error", err)
		}
	}()

	transport, err := mqtt.NewClient(cfg, node.Address(cfg.NodeAddress), slog.Default())
	if err != nil {
		return err
	}
	defer transport.Disconnect()

	collab := node.Collaborators{
		Thermometer: devs.thermometer,
		Battery:     devs.battery,
		Transport:   transport,
		LED:         devs.led,
		Cutoff:      devs.cutoff,
		Logger:      slog.Default(),
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, journal.WithSQLTrace(slog.Default()))
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				slog.Error("journal close", "error", err)
			}
		}()
		slog.Info("journal open", "path", cfg.JournalPath, "boot_id", j.BootID())
		collab.Observer = j
	}

	loop, err := node.New(loopConfig(cfg), collab)
	if err != nil {
		return err
	}

	if err := loop.Run(ctx); err != nil {
		return err
	}

	slog.Info("powered down, holding cutoff until stopped")
	<-ctx.Done()
	return nil
}
