package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

type fakeThermometer struct {
	temp     float64
	readErr  error
	beginErr error
	indexes  []int
}

func (f *fakeThermometer) Begin() error               { return f.beginErr }
func (f *fakeThermometer) RequestTemperatures() error { return nil }
func (f *fakeThermometer) TempC(index int) (float64, error) {
	f.indexes = append(f.indexes, index)
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.temp, nil
}

type fakeADC struct {
	count int
	err   error
}

func (f *fakeADC) ReadAnalog() (int, error) { return f.count, f.err }

type fakeTransport struct {
	initErr error
	sendErr error
	recvErr error
	reply   Datagram

	sent      [][]byte
	sentTo    []Address
	recvCalls int
	timeouts  []time.Duration
}

func (f *fakeTransport) Init(context.Context) error { return f.initErr }

func (f *fakeTransport) SendToWait(_ context.Context, payload []byte, to Address) error {
	f.sent = append(f.sent, append([]byte(nil), payload...))
	f.sentTo = append(f.sentTo, to)
	return f.sendErr
}

func (f *fakeTransport) RecvFromAckTimeout(_ context.Context, timeout time.Duration) (Datagram, error) {
	f.recvCalls++
	f.timeouts = append(f.timeouts, timeout)
	if f.recvErr != nil {
		return Datagram{}, f.recvErr
	}
	return f.reply, nil
}

type recordingOutput struct {
	writes []bool
	err    error
}

func (o *recordingOutput) Set(high bool) error {
	if o.err != nil {
		return o.err
	}
	o.writes = append(o.writes, high)
	return nil
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

type recordingObserver struct {
	outcomes []Outcome
	err      error
}

func (o *recordingObserver) Record(_ context.Context, out Outcome) error {
	o.outcomes = append(o.outcomes, out)
	return o.err
}

var errBoom = errors.New("boom")

type rig struct {
	thermo    *fakeThermometer
	adc       *fakeADC
	transport *fakeTransport
	led       *recordingOutput
	cutoff    *recordingOutput
	sleeper   *recordingSleeper
	observer  *recordingObserver
}

func newRig() *rig {
	return &rig{
		thermo:    &fakeThermometer{temp: 19.99},
		adc:       &fakeADC{count: 600},
		transport: &fakeTransport{},
		led:       &recordingOutput{},
		cutoff:    &recordingOutput{},
		sleeper:   &recordingSleeper{},
		observer:  &recordingObserver{},
	}
}

func (r *rig) collaborators() Collaborators {
	return Collaborators{
		Thermometer: r.thermo,
		Battery:     r.adc,
		Transport:   r.transport,
		LED:         r.led,
		Cutoff:      r.cutoff,
		Sleeper:     r.sleeper,
		Observer:    r.observer,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (r *rig) loop(cfg Config) (*Loop, error) {
	return New(cfg, r.collaborators())
}
