// Package node runs the sense, report and indicate cycle of a battery powered sensor node.
//
// Each cycle reads the temperature probe and battery voltage, sends them to a fixed peer
// with SendToWait and waits for a reply. A reply means the duty cycle is done: the cutoff
// line is driven high and the loop stops for good. Anything else is shown on the status LED
// and the cycle repeats.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State is where the loop currently is.
type State int

const (
	StateIdle State = iota
	StateSensing
	StateTransmitting
	StateIndicating
	StatePoweredDown
	StateStartupFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSensing:
		return "sensing"
	case StateTransmitting:
		return "transmitting"
	case StateIndicating:
		return "indicating"
	case StatePoweredDown:
		return "powered-down"
	case StateStartupFailed:
		return "startup-failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is how the transmit step of a cycle ended.
type Result string

const (
	ResultNoAck   Result = "no-ack"
	ResultNoReply Result = "no-reply"
	ResultReplied Result = "replied"
)

// Outcome describes one finished cycle.
type Outcome struct {
	Seq     uint64
	At      time.Time
	Reading Reading
	Payload string
	Result  Result
	Blink   BlinkDirective
	Reply   *Datagram
	State   State
	// Degraded is set when the transport failed to initialize at startup.
	Degraded bool
}

// Observer receives every finished cycle. Errors are logged and otherwise ignored.
type Observer interface {
	Record(ctx context.Context, o Outcome) error
}

type Config struct {
	Address     Address
	Peer        Address
	SensorIndex int
	Battery     BatteryScale
	LowBatteryV float64

	SlowBlink     BlinkDirective
	FastBlink     BlinkDirective
	InitFailBlink BlinkDirective

	ReplyTimeout  time.Duration
	LoopDelay     time.Duration
	PowerDownHold time.Duration

	// StrictInit makes a transport init failure fatal instead of best effort.
	StrictInit bool
}

func DefaultConfig() Config {
	return Config{
		Address:       1,
		Peer:          2,
		SensorIndex:   0,
		Battery:       DefaultBatteryScale,
		LowBatteryV:   2.8,
		SlowBlink:     BlinkSlow,
		FastBlink:     BlinkFast,
		InitFailBlink: BlinkVeryFast,
		ReplyTimeout:  2000 * time.Millisecond,
		LoopDelay:     500 * time.Millisecond,
		PowerDownHold: 500 * time.Millisecond,
	}
}

// Collaborators are the devices and services the loop drives.
// Sleeper, Observer, Logger and Now are optional.
type Collaborators struct {
	Thermometer Thermometer
	Battery     AnalogInput
	Transport   Transport
	LED         Output
	Cutoff      Output

	Sleeper  Sleeper
	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Loop is the sense/report/indicate state machine. It is not safe for concurrent use.
type Loop struct {
	cfg   Config
	c     Collaborators
	log   *slog.Logger
	state State
	seq   uint64

	initErr error
}

func New(cfg Config, c Collaborators) (*Loop, error) {
	switch {
	case c.Thermometer == nil:
		return nil, errors.New("node: thermometer required")
	case c.Battery == nil:
		return nil, errors.New("node: battery input required")
	case c.Transport == nil:
		return nil, errors.New("node: transport required")
	case c.LED == nil:
		return nil, errors.New("node: led output required")
	case c.Cutoff == nil:
		return nil, errors.New("node: cutoff output required")
	}
	if cfg.Address == cfg.Peer {
		return nil, fmt.Errorf("node: address and peer are both %s", cfg.Address)
	}
	if cfg.Battery.FullScale <= 0 {
		return nil, errors.New("node: battery full scale must be > 0")
	}
	if c.Sleeper == nil {
		c.Sleeper = TimerSleeper
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Loop{
		cfg: cfg,
		c:   c,
		log: c.Logger.With("node", cfg.Address.String()),
	}, nil
}

func (l *Loop) State() State { return l.state }

// InitErr is the transport init error seen by Start, if any.
func (l *Loop) InitErr() error { return l.initErr }

// Start sets the outputs to their boot levels and initializes the transport.
// An init failure is only logged and the loop carries on, unless StrictInit is
// set, in which case the LED blinks InitFailBlink and the error is returned.
func (l *Loop) Start(ctx context.Context) error {
	if err := l.c.LED.Set(true); err != nil {
		l.log.Warn("led init failed", "error", err)
	}
	if err := l.c.Cutoff.Set(false); err != nil {
		l.log.Warn("cutoff init failed", "error", err)
	}

	l.log.Info("welcome to another day", "peer", l.cfg.Peer.String())

	err := l.c.Transport.Init(ctx)
	if err == nil {
		l.initErr = nil
		l.state = StateIdle
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	l.initErr = err
	l.state = StateStartupFailed
	l.log.Error("transport init failed", "error", err, "strict", l.cfg.StrictInit)
	if !l.cfg.StrictInit {
		return nil
	}
	// Last sign of life before the process exits.
	if bErr := Blink(ctx, l.c.LED, l.c.Sleeper, l.cfg.InitFailBlink); bErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("transport init: %w", err)
}

// Run starts the loop and cycles until power down or ctx is done.
// It returns nil once the node has powered down.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	for {
		out, err := l.RunOnce(ctx)
		if err != nil {
			return err
		}
		if out.State == StatePoweredDown {
			return nil
		}
	}
}

// RunOnce executes a single cycle. After power down it does nothing and
// reports StatePoweredDown.
func (l *Loop) RunOnce(ctx context.Context) (Outcome, error) {
	if l.state == StatePoweredDown {
		return Outcome{State: StatePoweredDown}, nil
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	l.seq++
	out := Outcome{
		Seq:      l.seq,
		At:       l.c.Now(),
		Degraded: l.initErr != nil,
	}

	l.state = StateSensing
	out.Reading = Reading{
		TemperatureC: l.readTemperature(),
		BatteryV:     l.readBattery(),
	}

	blink := BlinkNone
	if out.Reading.BatteryV < l.cfg.LowBatteryV {
		blink = l.cfg.SlowBlink
	}
	out.Payload = FormatPayload(out.Reading)

	l.state = StateTransmitting
	l.log.Info("sending", "to", l.cfg.Peer.String(), "payload", out.Payload)
	reply, err := l.exchange(ctx, []byte(out.Payload))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	switch {
	case err == nil:
		out.Result = ResultReplied
		out.Reply = &reply
		out.Blink = blink
		l.log.Info("got reply", "from", reply.From.String(), "reply", string(reply.Payload))
		pdErr := l.powerDown(ctx)
		out.State = l.state
		l.observe(ctx, out)
		return out, pdErr
	case errors.Is(err, ErrNoReply):
		out.Result = ResultNoReply
		blink = l.cfg.FastBlink
		l.log.Warn("no reply, is the peer running?", "peer", l.cfg.Peer.String(), "error", err)
	default:
		out.Result = ResultNoAck
		blink = l.cfg.FastBlink
		l.log.Warn("send failed", "peer", l.cfg.Peer.String(), "error", err)
	}
	out.Blink = blink

	l.state = StateIndicating
	if err := Blink(ctx, l.c.LED, l.c.Sleeper, blink); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		l.log.Warn("indicator failed", "blink", blink.String(), "error", err)
	}
	out.State = l.state
	l.observe(ctx, out)

	if err := l.c.Sleeper.Sleep(ctx, l.cfg.LoopDelay); err != nil {
		return out, err
	}
	return out, nil
}

// exchange sends payload to the peer and waits for its reply. Errors always
// wrap ErrNoAck or ErrNoReply.
func (l *Loop) exchange(ctx context.Context, payload []byte) (Datagram, error) {
	if err := l.c.Transport.SendToWait(ctx, payload, l.cfg.Peer); err != nil {
		if !errors.Is(err, ErrNoAck) {
			err = fmt.Errorf("%w: %w", ErrNoAck, err)
		}
		return Datagram{}, err
	}
	d, err := l.c.Transport.RecvFromAckTimeout(ctx, l.cfg.ReplyTimeout)
	if err != nil {
		if !errors.Is(err, ErrNoReply) {
			err = fmt.Errorf("%w: %w", ErrNoReply, err)
		}
		return Datagram{}, err
	}
	return d, nil
}

// powerDown raises the cutoff line and enters the absorbing state. The
// external circuit is expected to remove power during the hold.
func (l *Loop) powerDown(ctx context.Context) error {
	l.state = StatePoweredDown
	l.log.Info("system power down")
	if err := l.c.Cutoff.Set(true); err != nil {
		return fmt.Errorf("power down: %w", err)
	}
	if err := l.c.Sleeper.Sleep(ctx, l.cfg.PowerDownHold); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (l *Loop) readTemperature() float64 {
	th := l.c.Thermometer
	l.log.Debug("requesting temperatures")
	if err := th.Begin(); err != nil {
		l.log.Warn("temperature bus init failed", "error", err)
		return DisconnectedC
	}
	if err := th.RequestTemperatures(); err != nil {
		l.log.Warn("temperature conversion failed", "error", err)
		return DisconnectedC
	}
	t, err := th.TempC(l.cfg.SensorIndex)
	if err != nil {
		l.log.Warn("temperature read failed", "index", l.cfg.SensorIndex, "error", err)
		return DisconnectedC
	}
	l.log.Info("temperature", "index", l.cfg.SensorIndex, "celsius", t)
	return t
}

func (l *Loop) readBattery() float64 {
	count, err := l.c.Battery.ReadAnalog()
	if err != nil {
		l.log.Warn("battery read failed", "error", err)
		count = 0
	}
	v := l.cfg.Battery.Volts(count)
	l.log.Info("vbat", "count", count, "volts", v)
	return v
}

func (l *Loop) observe(ctx context.Context, o Outcome) {
	if l.c.Observer == nil {
		return
	}
	if err := l.c.Observer.Record(ctx, o); err != nil {
		l.log.Warn("record outcome failed", "seq", o.Seq, "error", err)
	}
}
