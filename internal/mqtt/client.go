// Package mqtt carries node datagrams over an MQTT broker. Every address owns
// one topic. Receivers answer each datagram with an ack frame on the sender's
// topic, and senders resend until that ack arrives or the retries run out, so
// a delivered datagram means the peer itself has it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"jimtransmit/internal/config"
	"jimtransmit/internal/node"
	"jimtransmit/internal/types"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ackKey identifies the datagram an ack confirms: the address that acked it and its id.
type ackKey struct {
	from node.Address
	id   uint8
}

const (
	inboxSize          = 8
	initConnectTimeout = 5 * time.Second
	subscribeTimeout   = 5 * time.Second
)

type Client struct {
	client mqtt.Client
	cfg    config.Config
	addr   node.Address
	topic  string
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	nextID    uint8
	lastSeen  map[node.Address]uint8
	pending   map[ackKey]chan struct{}

	inbox      chan node.Datagram
	subscribed chan struct{}
	subOnce    sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient builds a transport for addr. Nothing touches the network until Init.
func NewClient(cfg config.Config, addr node.Address, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AckTimeout <= 0 {
		return nil, fmt.Errorf("mqtt: ack timeout must be > 0")
	}
	if cfg.AckRetries < 0 {
		return nil, fmt.Errorf("mqtt: ack retries must be >= 0")
	}
	c := &Client{
		cfg:        cfg,
		addr:       addr,
		topic:      DatagramTopic(cfg.RadioTopicPrefix, addr),
		logger:     logger.With("transport", "mqtt", "address", addr.String()),
		nextID:     uint8(rand.Intn(256)),
		lastSeen:   make(map[node.Address]uint8),
		pending:    make(map[ackKey]chan struct{}),
		inbox:      make(chan node.Datagram, inboxSize),
		subscribed: make(chan struct{}),
		stopCh:     make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Clean sessions drop subscriptions, so every (re)connect subscribes again.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		c.logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		go c.subscribe()
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Init connects to the broker and waits until the datagram topic is subscribed.
// If it gives up, paho keeps retrying in the background.
func (c *Client) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, initConnectTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	select {
	case <-c.subscribed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("subscribe %s: %w", c.topic, ctx.Err())
	}
}

// Connect establishes connection to the MQTT broker.
// This function waits for the initial connection, and respects ctx and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

func (c *Client) subscribe() {
	token := c.client.Subscribe(c.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		c.handleMessage(msg.Topic(), msg.Payload(), msg.Duplicate())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		c.logger.Error("subscribe timeout", "topic", c.topic)
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Error("subscribe failed", "topic", c.topic, "error", err)
		return
	}
	c.logger.Info("subscribed to datagram topic", "topic", c.topic)
	c.subOnce.Do(func() { close(c.subscribed) })
}

// SendToWait sends payload to the peer and waits up to AckTimeout for the
// peer's ack, resending up to AckRetries times. Any failure wraps node.ErrNoAck.
func (c *Client) SendToWait(ctx context.Context, payload []byte, to node.Address) error {
	if len(payload) > node.MaxMessageLen {
		return fmt.Errorf("%w: %w", node.ErrNoAck, node.ErrMessageTooLong)
	}
	if !c.IsConnected() {
		return fmt.Errorf("%w: mqtt client not connected", node.ErrNoAck)
	}

	id := c.takeID()
	key := ackKey{from: to, id: id}
	acked := make(chan struct{}, 1)
	c.mu.Lock()
	c.pending[key] = acked
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	topic := DatagramTopic(c.cfg.RadioTopicPrefix, to)
	attempts := c.cfg.AckRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		f := frame{
			Datagram: node.Datagram{From: c.addr, To: to, ID: id, Payload: payload},
			Retry:    attempt > 0,
		}
		data, err := encodeFrame(f)
		if err != nil {
			return fmt.Errorf("%w: %w", node.ErrNoAck, err)
		}
		if attempt > 0 {
			c.logger.Debug("resending datagram", "topic", topic, "id", id, "attempt", attempt+1)
		}
		token := c.client.Publish(topic, 1, false, data)

		timer := time.NewTimer(c.cfg.AckTimeout)
		select {
		case <-acked:
			timer.Stop()
			c.logger.Debug("datagram acknowledged", "to", to.String(), "id", id, "attempts", attempt+1)
			return nil
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				c.logger.Warn("failed to publish datagram", "topic", topic, "error", err)
				lastErr = err
			}
		default:
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %s after %d attempts: %w", node.ErrNoAck, to, attempts, lastErr)
	}
	return fmt.Errorf("%w: %s after %d attempts", node.ErrNoAck, to, attempts)
}

// RecvFromAckTimeout returns the next datagram addressed to us, waiting at most timeout.
func (c *Client) RecvFromAckTimeout(ctx context.Context, timeout time.Duration) (node.Datagram, error) {
	select {
	case d := <-c.inbox:
		return d, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-c.inbox:
		return d, nil
	case <-timer.C:
		return node.Datagram{}, fmt.Errorf("%w after %v", node.ErrNoReply, timeout)
	case <-ctx.Done():
		return node.Datagram{}, ctx.Err()
	}
}

// handleMessage runs on paho's goroutine. Acks wake the matching SendToWait
// and never reach the inbox. Every datagram for us is acked, resends included,
// but a resend of the last id from a sender is delivered only once.
func (c *Client) handleMessage(topic string, payload []byte, duplicate bool) {
	f, err := decodeFrame(payload)
	if err != nil {
		c.logger.Warn("failed to parse datagram", "topic", topic, "error", err)
		return
	}
	if topicAddr, ok := addressFromTopic(c.cfg.RadioTopicPrefix, topic); !ok || topicAddr != c.addr {
		c.logger.Warn("datagram on foreign topic", "topic", topic)
		return
	}
	if f.To != c.addr {
		c.logger.Debug("datagram not for us", "to", f.To.String())
		return
	}

	if f.Ack {
		c.ackReceived(f)
		return
	}
	c.sendAck(f)

	d := f.Datagram
	if c.seenBefore(d, f.Retry || duplicate) {
		c.logger.Debug("dropping duplicate datagram", "from", d.From.String(), "id", d.ID)
		return
	}

	for {
		select {
		case c.inbox <- d:
			return
		default:
		}
		select {
		case old := <-c.inbox:
			c.logger.Warn("inbox full, dropping oldest datagram", "from", old.From.String(), "id", old.ID)
		default:
		}
	}
}

func (c *Client) ackReceived(f frame) {
	c.mu.RLock()
	acked, ok := c.pending[ackKey{from: f.From, id: f.ID}]
	c.mu.RUnlock()
	if !ok {
		c.logger.Debug("unexpected ack", "from", f.From.String(), "id", f.ID)
		return
	}
	select {
	case acked <- struct{}{}:
	default:
	}
}

// sendAck publishes the ack without waiting: paho must not block in a message handler.
func (c *Client) sendAck(f frame) {
	if !c.IsConnected() {
		c.logger.Debug("not connected, ack dropped", "to", f.From.String(), "id", f.ID)
		return
	}
	data, err := encodeFrame(frame{
		Datagram: node.Datagram{From: c.addr, To: f.From, ID: f.ID},
		Ack:      true,
	})
	if err != nil {
		c.logger.Warn("failed to encode ack", "error", err)
		return
	}
	c.client.Publish(DatagramTopic(c.cfg.RadioTopicPrefix, f.From), 1, false, data)
}

// seenBefore reports a resend of the last datagram from the same sender.
// Only resends and broker redeliveries are candidates.
func (c *Client) seenBefore(d node.Datagram, resend bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastSeen[d.From]
	c.lastSeen[d.From] = d.ID
	return resend && ok && last == d.ID
}

func (c *Client) takeID() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

// PublishTelemetry publishes telemetry data to the station topic.
func (c *Client) PublishTelemetry(telemetry types.Telemetry) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	if telemetry.StationID == "" {
		return fmt.Errorf("telemetry without station id")
	}

	topic := fmt.Sprintf("stations/%s/telemetry", telemetry.StationID)

	if telemetry.Timestamp.IsZero() {
		telemetry.Timestamp = time.Now()
	}

	data, err := json.Marshal(telemetry)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	token := c.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if token.Error() != nil {
		c.logger.Error("failed to publish telemetry", "topic", topic, "error", token.Error())
		return fmt.Errorf("publish telemetry: %w", token.Error())
	}

	c.logger.Debug("published telemetry", "topic", topic, "station_id", telemetry.StationID)
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil && c.IsConnected() {
		token := c.client.Unsubscribe(c.topic)
		token.WaitTimeout(2 * time.Second)
	}

	// Paho Disconnect quiesces in-flight work for the given ms.
	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
