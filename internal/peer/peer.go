// Package peer answers sensor nodes: every datagram is parsed, forwarded as
// station telemetry and acknowledged with a reply, which tells the node it may
// power down.
package peer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"jimtransmit/internal/node"
	"jimtransmit/internal/types"
)

// ReplyText is what the peer sends back to every node.
const ReplyText = "And hello back to you"

// Transport is the subset of node.Transport the peer needs.
type Transport interface {
	SendToWait(ctx context.Context, payload []byte, to node.Address) error
	RecvFromAckTimeout(ctx context.Context, timeout time.Duration) (node.Datagram, error)
}

// TelemetryPublisher forwards readings to the station telemetry topic.
type TelemetryPublisher interface {
	PublishTelemetry(t types.Telemetry) error
}

type Handler struct {
	transport Transport
	publisher TelemetryPublisher
	stationID string
	poll      time.Duration
	logger    *slog.Logger
	now       func() time.Time

	sequences map[node.Address]int
}

func NewHandler(t Transport, p TelemetryPublisher, stationID string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		transport: t,
		publisher: p,
		stationID: stationID,
		poll:      time.Second,
		logger:    logger,
		now:       time.Now,
		sequences: make(map[node.Address]int),
	}
}

// Run serves datagrams until ctx is done.
func (h *Handler) Run(ctx context.Context) error {
	h.logger.Info("peer serving", "station_id", h.stationID)
	for {
		d, err := h.transport.RecvFromAckTimeout(ctx, h.poll)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if !errors.Is(err, node.ErrNoReply) {
				h.logger.Warn("receive failed", "error", err)
			}
			continue
		}
		h.Handle(ctx, d)
	}
}

// Handle processes a single datagram. Unparseable payloads are still answered
// so the node does not keep retrying.
func (h *Handler) Handle(ctx context.Context, d node.Datagram) {
	h.logger.Info("got request", "from", d.From.String(), "payload", string(d.Payload))

	if r, err := node.ParsePayload(string(d.Payload)); err != nil {
		h.logger.Warn("ignoring unparseable payload", "from", d.From.String(), "error", err)
	} else if h.publisher != nil {
		h.sequences[d.From]++
		seq := h.sequences[d.From]
		temp := r.TemperatureC
		vbat := r.BatteryV
		from := uint8(d.From)
		telemetry := types.Telemetry{
			StationID:   h.stationID,
			Timestamp:   h.now(),
			Battery:     &vbat,
			Sequence:    &seq,
			NodeAddress: &from,
		}
		// -127 means the probe was not found; leave temperature out rather than report it.
		if temp != node.DisconnectedC {
			telemetry.Temperature = &temp
		}
		if err := h.publisher.PublishTelemetry(telemetry); err != nil {
			h.logger.Warn("failed to publish telemetry", "from", d.From.String(), "error", err)
		}
	}

	if err := h.transport.SendToWait(ctx, []byte(ReplyText), d.From); err != nil {
		h.logger.Warn("reply failed", "to", d.From.String(), "error", err)
	}
}
