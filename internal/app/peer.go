package app

import (
	"context"
	"fmt"
	"log/slog"

	"jimtransmit/internal/config"
	"jimtransmit/internal/mqtt"
	"jimtransmit/internal/node"
	"jimtransmit/internal/peer"
)

// RunPeer serves nodes at cfg.PeerAddress until ctx is done.
func RunPeer(ctx context.Context, cfg config.Config) error {
	// Node and peer often share one env file; don't let them fight over a client id.
	if cfg.MQTTClientID == fmt.Sprintf("jimtransmit-node-%d", cfg.NodeAddress) {
		cfg.MQTTClientID = fmt.Sprintf("jimtransmit-peer-%d", cfg.PeerAddress)
	}

	slog.Info("initializing peer",
		"address", cfg.PeerAddress,
		"station_id", cfg.StationID,
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"mqtt_client_id", cfg.MQTTClientID,
	)

	client, err := mqtt.NewClient(cfg, node.Address(cfg.PeerAddress), slog.Default())
	if err != nil {
		return err
	}
	defer client.Disconnect()

	// The peer is useless without the broker, so keep trying until it is reachable.
	for {
		err := client.Init(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("mqtt not ready, retrying", "error", err)
	}

	return peer.NewHandler(client, client, cfg.StationID, slog.Default()).Run(ctx)
}
