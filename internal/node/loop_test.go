package node

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	r := newRig()
	c := r.collaborators()
	c.Transport = nil
	if _, err := New(DefaultConfig(), c); err == nil {
		t.Fatal("New() without transport: error = nil, want non-nil")
	}

	cfg := DefaultConfig()
	cfg.Peer = cfg.Address
	if _, err := r.loop(cfg); err == nil {
		t.Fatal("New() with peer == address: error = nil, want non-nil")
	}
}

func TestRunOnce_PreSendSlowBlink(t *testing.T) {
	// Volts = count * 0.01, so counts map directly to centivolts.
	scale := BatteryScale{Divider: 1, ReferenceV: 0.01, FullScale: 1}

	tests := []struct {
		name  string
		count int
		want  BlinkDirective
	}{
		{name: "well below threshold", count: 220, want: BlinkSlow},
		{name: "just below threshold", count: 279, want: BlinkSlow},
		{name: "at threshold", count: 280, want: BlinkNone},
		{name: "healthy", count: 387, want: BlinkNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig()
			r.adc.count = tt.count
			r.transport.reply = Datagram{From: 2, To: 1, Payload: []byte("ok")}

			cfg := DefaultConfig()
			cfg.Battery = scale
			l, err := r.loop(cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			out, err := l.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce() error = %v", err)
			}
			if out.Blink != tt.want {
				t.Errorf("Blink = %v, want %v (vbat %.4f)", out.Blink, tt.want, out.Reading.BatteryV)
			}
		})
	}
}

func TestRunOnce_SendFailure(t *testing.T) {
	r := newRig()
	r.transport.sendErr = ErrNoAck

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if out.Result != ResultNoAck {
		t.Errorf("Result = %q, want %q", out.Result, ResultNoAck)
	}
	if out.Blink != BlinkFast {
		t.Errorf("Blink = %v, want %v", out.Blink, BlinkFast)
	}
	if r.transport.recvCalls != 0 {
		t.Errorf("recvCalls = %d, want 0", r.transport.recvCalls)
	}
	if len(r.cutoff.writes) != 0 {
		t.Errorf("cutoff writes = %v, want none", r.cutoff.writes)
	}
	if got := r.sleeper.slept[len(r.sleeper.slept)-1]; got != 500*time.Millisecond {
		t.Errorf("last sleep = %v, want 500ms", got)
	}
	if l.State() != StateIndicating {
		t.Errorf("State() = %v, want %v", l.State(), StateIndicating)
	}
}

func TestRunOnce_ReplyTimeout(t *testing.T) {
	r := newRig()
	r.transport.recvErr = ErrNoReply

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if out.Result != ResultNoReply {
		t.Errorf("Result = %q, want %q", out.Result, ResultNoReply)
	}
	if out.Blink != BlinkFast {
		t.Errorf("Blink = %v, want %v", out.Blink, BlinkFast)
	}
	if len(r.transport.timeouts) != 1 || r.transport.timeouts[0] != 2000*time.Millisecond {
		t.Errorf("recv timeouts = %v, want [2s]", r.transport.timeouts)
	}
}

func TestRunOnce_UnclassifiedErrorsAreWrapped(t *testing.T) {
	r := newRig()
	r.transport.sendErr = errBoom

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if out.Result != ResultNoAck || out.Blink != BlinkFast {
		t.Errorf("outcome = %+v, want no-ack with fast blink", out)
	}

	_, err = l.exchange(context.Background(), []byte("x"))
	if !errors.Is(err, ErrNoAck) || !errors.Is(err, errBoom) {
		t.Errorf("exchange() error = %v, want ErrNoAck wrapping errBoom", err)
	}
}

func TestRun_ReplyPowersDown(t *testing.T) {
	r := newRig()
	r.transport.reply = Datagram{From: 2, To: 1, Payload: []byte("And hello back to you")}

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if l.State() != StatePoweredDown {
		t.Errorf("State() = %v, want %v", l.State(), StatePoweredDown)
	}
	if want := []bool{false, true}; !equalBools(r.cutoff.writes, want) {
		t.Errorf("cutoff writes = %v, want %v", r.cutoff.writes, want)
	}
	if len(r.transport.sent) != 1 {
		t.Errorf("sent %d datagrams, want 1", len(r.transport.sent))
	}

	out, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() after power down error = %v", err)
	}
	if out.State != StatePoweredDown {
		t.Errorf("RunOnce() after power down state = %v", out.State)
	}
	if len(r.transport.sent) != 1 {
		t.Errorf("powered down loop sent again: %d datagrams", len(r.transport.sent))
	}

	if len(r.observer.outcomes) != 1 || r.observer.outcomes[0].Result != ResultReplied {
		t.Fatalf("observed outcomes = %+v, want one replied", r.observer.outcomes)
	}
	if got := string(r.observer.outcomes[0].Reply.Payload); got != "And hello back to you" {
		t.Errorf("reply payload = %q", got)
	}
}

func TestRunOnce_EndToEndScenario(t *testing.T) {
	r := newRig()
	r.thermo.temp = 19.99
	r.adc.count = 600
	r.transport.sendErr = ErrNoAck

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if out.Payload != "19.99; 3.87" {
		t.Errorf("Payload = %q, want %q", out.Payload, "19.99; 3.87")
	}
	if string(r.transport.sent[0]) != "19.99; 3.87" || r.transport.sentTo[0] != 2 {
		t.Errorf("sent %q to %v", r.transport.sent[0], r.transport.sentTo[0])
	}
	if out.Blink != BlinkFast {
		t.Errorf("Blink = %v, want fast", out.Blink)
	}
	if r.thermo.indexes[0] != 0 {
		t.Errorf("sensor index = %d, want 0", r.thermo.indexes[0])
	}

	wantSleeps := make([]time.Duration, 0, 11)
	for i := 0; i < 10; i++ {
		wantSleeps = append(wantSleeps, 200*time.Millisecond)
	}
	wantSleeps = append(wantSleeps, 500*time.Millisecond)
	if !equalDurations(r.sleeper.slept, wantSleeps) {
		t.Errorf("sleeps = %v, want %v", r.sleeper.slept, wantSleeps)
	}
}

func TestRunOnce_TemperatureFailureUsesSentinel(t *testing.T) {
	r := newRig()
	r.thermo.readErr = errBoom
	r.transport.sendErr = ErrNoAck

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if out.Reading.TemperatureC != DisconnectedC {
		t.Errorf("TemperatureC = %v, want %v", out.Reading.TemperatureC, DisconnectedC)
	}
	if out.Payload != "-127.00; 3.87" {
		t.Errorf("Payload = %q", out.Payload)
	}
}

func TestRunOnce_BatteryFailureCountsAsEmpty(t *testing.T) {
	r := newRig()
	r.adc.err = errBoom
	r.transport.reply = Datagram{From: 2}

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if out.Reading.BatteryV != 0 || out.Blink != BlinkSlow {
		t.Errorf("outcome = %+v, want 0 V and slow blink", out)
	}
}

func TestStart_InitFailureIsBestEffort(t *testing.T) {
	r := newRig()
	r.transport.initErr = errBoom
	r.transport.sendErr = ErrNoAck

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if l.State() != StateStartupFailed {
		t.Errorf("State() = %v, want %v", l.State(), StateStartupFailed)
	}
	if !errors.Is(l.InitErr(), errBoom) {
		t.Errorf("InitErr() = %v", l.InitErr())
	}
	// boot level only, the failure is not signalled
	if len(r.led.writes) != 1 {
		t.Errorf("led writes = %d, want 1", len(r.led.writes))
	}
	if len(r.sleeper.slept) != 0 {
		t.Errorf("slept %v during Start, want nothing", r.sleeper.slept)
	}

	out, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !out.Degraded {
		t.Error("Degraded = false, want true")
	}
	if len(r.transport.sent) != 1 {
		t.Errorf("sent %d datagrams, want 1", len(r.transport.sent))
	}
}

func TestStart_StrictInit(t *testing.T) {
	r := newRig()
	r.transport.initErr = errBoom

	cfg := DefaultConfig()
	cfg.StrictInit = true
	l, err := r.loop(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = l.Run(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("Run() error = %v, want errBoom", err)
	}
	if len(r.transport.sent) != 0 {
		t.Errorf("sent %d datagrams, want 0", len(r.transport.sent))
	}
	// boot level plus five very fast pairs
	if len(r.led.writes) != 1+2*blinkCycles {
		t.Errorf("led writes = %d, want %d", len(r.led.writes), 1+2*blinkCycles)
	}
	for _, d := range r.sleeper.slept {
		if d != BlinkVeryFast.Duration() {
			t.Errorf("slept %v, want %v", d, BlinkVeryFast.Duration())
		}
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	r := newRig()
	r.transport.sendErr = ErrNoAck

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunOnce_ObserverErrorIgnored(t *testing.T) {
	r := newRig()
	r.transport.sendErr = ErrNoAck
	r.observer.err = errBoom

	l, err := r.loop(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 1; i <= 3; i++ {
		out, err := l.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() #%d error = %v", i, err)
		}
		if out.Seq != uint64(i) {
			t.Errorf("Seq = %d, want %d", out.Seq, i)
		}
	}
	if len(r.observer.outcomes) != 3 {
		t.Errorf("observed %d outcomes, want 3", len(r.observer.outcomes))
	}
}

func TestBlink(t *testing.T) {
	t.Run("zero directive writes nothing", func(t *testing.T) {
		led := &recordingOutput{}
		s := &recordingSleeper{}
		if err := Blink(context.Background(), led, s, BlinkNone); err != nil {
			t.Fatalf("Blink() error = %v", err)
		}
		if len(led.writes) != 0 || len(s.slept) != 0 {
			t.Errorf("writes = %v, sleeps = %v, want none", led.writes, s.slept)
		}
	})

	for _, b := range []BlinkDirective{BlinkVeryFast, BlinkFast, BlinkSlow} {
		t.Run(b.String(), func(t *testing.T) {
			led := &recordingOutput{}
			s := &recordingSleeper{}
			if err := Blink(context.Background(), led, s, b); err != nil {
				t.Fatalf("Blink() error = %v", err)
			}
			if len(led.writes) != 10 {
				t.Fatalf("writes = %d, want 10", len(led.writes))
			}
			for i, w := range led.writes {
				if w != (i%2 == 0) {
					t.Errorf("write %d = %v", i, w)
				}
			}
			for i, d := range s.slept {
				if d != b.Duration() {
					t.Errorf("sleep %d = %v, want %v", i, d, b.Duration())
				}
			}
		})
	}

	t.Run("led error", func(t *testing.T) {
		led := &recordingOutput{err: errBoom}
		if err := Blink(context.Background(), led, &recordingSleeper{}, BlinkFast); !errors.Is(err, errBoom) {
			t.Errorf("Blink() error = %v, want errBoom", err)
		}
	})
}

func TestTimerSleeper_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := TimerSleeper.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
