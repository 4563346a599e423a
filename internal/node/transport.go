package node

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxMessageLen is the largest datagram body a transport carries (RF95 limit).
const MaxMessageLen = 251

var (
	// ErrNoAck means the peer never acknowledged within the transport's retry budget.
	ErrNoAck = errors.New("no acknowledgement from peer")
	// ErrNoReply means the peer acknowledged but sent nothing back in time.
	ErrNoReply = errors.New("no reply from peer")
	// ErrMessageTooLong is returned for payloads above MaxMessageLen.
	ErrMessageTooLong = fmt.Errorf("message longer than %d bytes", MaxMessageLen)
)

// Address identifies a node on the datagram network.
type Address uint8

func (a Address) String() string { return fmt.Sprintf("0x%02X", uint8(a)) }

// Datagram is one addressed message.
type Datagram struct {
	From    Address
	To      Address
	ID      uint8
	Payload []byte
}

// Transport is a reliable addressed datagram service.
type Transport interface {
	// Init prepares the transport for use.
	Init(ctx context.Context) error
	// SendToWait blocks until the peer acknowledges payload or retries run out (ErrNoAck).
	SendToWait(ctx context.Context, payload []byte, to Address) error
	// RecvFromAckTimeout waits up to timeout for a datagram addressed to us (ErrNoReply).
	RecvFromAckTimeout(ctx context.Context, timeout time.Duration) (Datagram, error)
}

// Thermometer is a one-wire temperature probe bus.
type Thermometer interface {
	Begin() error
	RequestTemperatures() error
	TempC(index int) (float64, error)
}

// AnalogInput returns raw counts from the battery sense pin.
type AnalogInput interface {
	ReadAnalog() (int, error)
}
