package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"jimtransmit/internal/node"
)

// envelope is the wire form of a frame. Payload is base64 in JSON.
type envelope struct {
	From    uint8  `json:"from"`
	To      uint8  `json:"to"`
	ID      uint8  `json:"id"`
	Ack     bool   `json:"ack,omitempty"`
	Retry   bool   `json:"retry,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// frame is a datagram plus the link flags. An ack frame echoes the ID of the
// datagram it confirms, comes From the receiver and carries no payload. Retry
// marks a resend of an ID that was not acknowledged.
type frame struct {
	node.Datagram
	Ack   bool
	Retry bool
}

// DatagramTopic is the topic an address listens on.
func DatagramTopic(prefix string, addr node.Address) string {
	return fmt.Sprintf("%s/%d/datagram", prefix, uint8(addr))
}

// addressFromTopic extracts the address segment of a datagram topic.
func addressFromTopic(prefix, topic string) (node.Address, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return 0, false
	}
	addr, ok := strings.CutSuffix(rest, "/datagram")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(addr, 10, 8)
	if err != nil {
		return 0, false
	}
	return node.Address(v), true
}

func encodeFrame(f frame) ([]byte, error) {
	if len(f.Payload) > node.MaxMessageLen {
		return nil, node.ErrMessageTooLong
	}
	return json.Marshal(envelope{
		From:    uint8(f.From),
		To:      uint8(f.To),
		ID:      f.ID,
		Ack:     f.Ack,
		Retry:   f.Retry,
		Payload: f.Payload,
	})
}

// decodeFrame parses an envelope and truncates oversize payloads the way a
// receive buffer of MaxMessageLen would.
func decodeFrame(b []byte) (frame, error) {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return frame{}, fmt.Errorf("decode datagram: %w", err)
	}
	if len(e.Payload) > node.MaxMessageLen {
		e.Payload = e.Payload[:node.MaxMessageLen]
	}
	return frame{
		Datagram: node.Datagram{
			From:    node.Address(e.From),
			To:      node.Address(e.To),
			ID:      e.ID,
			Payload: e.Payload,
		},
		Ack:   e.Ack,
		Retry: e.Retry,
	}, nil
}
