package anim_test

import (
	"testing"
	"time"

	"github.com/lumenkind/sona/pkg/anim"
)

// fakeClock is a manually advanced clock for machine tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func newTestMachine(t *testing.T) (*anim.Machine, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	cfg := anim.DefaultConfig()
	cfg.Now = clk.Now
	m, err := anim.NewMachine(cfg)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	t.Cleanup(m.Close)
	return m, clk
}

func TestConfigValidation(t *testing.T) {
	cfg := anim.DefaultConfig()
	cfg.MinTransition = 100 * time.Millisecond
	if _, err := anim.NewMachine(cfg); err == nil {
		t.Fatal("expected error for MinTransition below 500ms")
	}

	cfg = anim.DefaultConfig()
	cfg.Buffer = 0
	if _, err := anim.NewMachine(cfg); err == nil {
		t.Fatal("expected error for zero buffer")
	}
}

func TestStateStringRoundTrip(t *testing.T) {
	states := []anim.State{
		anim.StateIdle, anim.StateListening, anim.StateProcessing,
		anim.StateSpeaking, anim.StateError,
	}
	for _, s := range states {
		b, err := s.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var back anim.State
		if err := back.UnmarshalJSON(b); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back != s {
			t.Fatalf("round trip %v -> %s -> %v", s, b, back)
		}
	}
}

func TestConversationFlow(t *testing.T) {
	m, _ := newTestMachine(t)

	steps := []struct {
		name  string
		event func() bool
		want  anim.State
	}{
		{"voice activity", m.VoiceActivity, anim.StateListening},
		{"processing started", m.ProcessingStarted, anim.StateProcessing},
		{"model audio started", m.ModelAudioStarted, anim.StateSpeaking},
		{"model audio ended", m.ModelAudioEnded, anim.StateIdle},
		{"model audio from idle", m.ModelAudioStarted, anim.StateSpeaking},
		{"barge-in while speaking", m.VoiceActivity, anim.StateListening},
		{"voice ceased", m.VoiceCeased, anim.StateIdle},
	}
	for _, s := range steps {
		if !s.event() {
			t.Fatalf("%s: transition rejected in state %v", s.name, m.State())
		}
		if got := m.State(); got != s.want {
			t.Fatalf("%s: state = %v, want %v", s.name, got, s.want)
		}
	}
}

func TestInvalidTransitionsIgnored(t *testing.T) {
	m, _ := newTestMachine(t)

	// From Idle, only voice activity and model audio are meaningful.
	if m.VoiceCeased() || m.ProcessingStarted() || m.ModelAudioEnded() {
		t.Fatal("idle state accepted an invalid event")
	}
	if got := m.State(); got != anim.StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}

	// Voice activity while already listening is a no-op.
	m.VoiceActivity()
	if m.VoiceActivity() {
		t.Fatal("repeated voice activity produced a transition")
	}
}

func TestErrorFromAnyState(t *testing.T) {
	for _, setup := range []func(m *anim.Machine){
		func(m *anim.Machine) {},
		func(m *anim.Machine) { m.VoiceActivity() },
		func(m *anim.Machine) { m.VoiceActivity(); m.ProcessingStarted() },
		func(m *anim.Machine) { m.ModelAudioStarted() },
	} {
		m, _ := newTestMachine(t)
		setup(m)
		if !m.Fail() {
			t.Fatalf("Fail rejected in state %v", m.State())
		}
		if got := m.State(); got != anim.StateError {
			t.Fatalf("state after Fail = %v, want error", got)
		}
		// A second failure does not re-transition.
		if m.Fail() {
			t.Fatal("repeated Fail produced a transition")
		}
	}
}

func TestErrorRecoversOnHealthy(t *testing.T) {
	m, _ := newTestMachine(t)
	m.Fail()
	if !m.Healthy() {
		t.Fatal("Healthy rejected in error state")
	}
	if got := m.State(); got != anim.StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestErrorRecoversAfterTimeout(t *testing.T) {
	m, clk := newTestMachine(t)
	m.Fail()

	clk.Advance(4 * time.Second)
	if m.Poll() {
		t.Fatal("recovered before the timeout elapsed")
	}
	if got := m.State(); got != anim.StateError {
		t.Fatalf("state = %v, want error", got)
	}

	clk.Advance(2 * time.Second)
	if !m.Poll() {
		t.Fatal("Poll did not recover after the timeout")
	}
	if got := m.State(); got != anim.StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestRenewedErrorRestartsRecoveryClock(t *testing.T) {
	m, clk := newTestMachine(t)
	m.Fail()
	clk.Advance(6 * time.Second)
	m.Poll() // recovered
	m.Fail() // new failure at the advanced time
	clk.Advance(1 * time.Second)
	if m.Poll() {
		t.Fatal("new error recovered on the old error's clock")
	}
}

func TestTransitionNotifications(t *testing.T) {
	m, clk := newTestMachine(t)

	m.VoiceActivity()
	clk.Advance(time.Second)
	m.ProcessingStarted()

	want := []anim.Transition{
		{From: anim.StateIdle, To: anim.StateListening},
		{From: anim.StateListening, To: anim.StateProcessing},
	}
	for i, w := range want {
		got := <-m.Transitions()
		if got.From != w.From || got.To != w.To {
			t.Fatalf("transition %d = %v->%v, want %v->%v", i, got.From, got.To, w.From, w.To)
		}
		if got.At.IsZero() {
			t.Fatalf("transition %d has zero timestamp", i)
		}
	}
}

func TestLaggingConsumerDropsOldest(t *testing.T) {
	clk := newFakeClock()
	cfg := anim.DefaultConfig()
	cfg.Now = clk.Now
	cfg.Buffer = 1
	m, err := anim.NewMachine(cfg)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	defer m.Close()

	m.VoiceActivity()     // idle -> listening, buffered
	m.ProcessingStarted() // listening -> processing, displaces the first
	if m.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", m.Dropped())
	}
	got := <-m.Transitions()
	if got.To != anim.StateProcessing {
		t.Fatalf("delivered transition to %v, want the newest (processing)", got.To)
	}
}

func TestMinTransitionExposed(t *testing.T) {
	m, _ := newTestMachine(t)
	if m.MinTransition() < 500*time.Millisecond {
		t.Fatalf("MinTransition = %s, want >= 500ms", m.MinTransition())
	}
}

func TestEventsAfterCloseIgnored(t *testing.T) {
	m, _ := newTestMachine(t)
	m.Close()
	if m.VoiceActivity() {
		t.Fatal("event accepted after Close")
	}
	m.Close() // double close is safe
}
