package anim

import (
	"fmt"
	"sync"
	"time"
)

// Transition is a completed state change notification.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Config controls machine behavior.
type Config struct {
	// MinTransition is the minimum visual duration consumers must spread a
	// transition over. Must be at least 500 ms; faster changes read as
	// jarring to the product's user population.
	MinTransition time.Duration

	// ErrorRecovery bounds how long the machine stays in StateError
	// without a healthy signal before Poll returns it to StateIdle.
	ErrorRecovery time.Duration

	// Buffer is the transition channel capacity. When the consumer lags
	// behind, the oldest pending transition is dropped to keep event
	// publication non-blocking.
	Buffer int

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns standard machine parameters.
func DefaultConfig() Config {
	return Config{
		MinTransition: 500 * time.Millisecond,
		ErrorRecovery: 5 * time.Second,
		Buffer:        16,
		Now:           time.Now,
	}
}

func (c Config) validate() error {
	if c.MinTransition < 500*time.Millisecond {
		return fmt.Errorf("anim: MinTransition %s below 500ms floor", c.MinTransition)
	}
	if c.ErrorRecovery <= 0 {
		return fmt.Errorf("anim: ErrorRecovery must be positive, got %s", c.ErrorRecovery)
	}
	if c.Buffer <= 0 {
		return fmt.Errorf("anim: Buffer must be positive, got %d", c.Buffer)
	}
	return nil
}

// Machine is the per-connection animation state machine. Transition events
// may arrive from multiple asynchronous sources (local audio, remote model,
// transport errors); the machine serializes them internally so exactly one
// state is current at any time.
type Machine struct {
	cfg Config

	mu        sync.Mutex
	state     State
	erroredAt time.Time
	closed    bool

	ch      chan Transition
	dropped int
}

// NewMachine creates a Machine starting in StateIdle.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Machine{
		cfg:   cfg,
		state: StateIdle,
		ch:    make(chan Transition, cfg.Buffer),
	}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MinTransition returns the minimum visual transition duration consumers
// must honor when interpolating between states.
func (m *Machine) MinTransition() time.Duration { return m.cfg.MinTransition }

// Transitions returns the notification channel. The machine supports one
// consumer; transitions are dropped (oldest first) if it falls behind.
func (m *Machine) Transitions() <-chan Transition { return m.ch }

// Dropped returns how many transitions were discarded because the consumer
// lagged behind the buffer.
func (m *Machine) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// VoiceActivity signals that user speech was detected (amplitude above the
// gate). Moves Idle or Speaking to Listening.
func (m *Machine) VoiceActivity() bool {
	return m.apply(func(s State) (State, bool) {
		if s == StateIdle || s == StateSpeaking {
			return StateListening, true
		}
		return s, false
	})
}

// VoiceCeased signals that the gate's debounce window elapsed with no
// speech. Moves Listening to Idle.
func (m *Machine) VoiceCeased() bool {
	return m.apply(func(s State) (State, bool) {
		if s == StateListening {
			return StateIdle, true
		}
		return s, false
	})
}

// ProcessingStarted signals that the remote model began processing the
// user's turn. Moves Listening to Processing.
func (m *Machine) ProcessingStarted() bool {
	return m.apply(func(s State) (State, bool) {
		if s == StateListening {
			return StateProcessing, true
		}
		return s, false
	})
}

// ModelAudioStarted signals that remote-model audio arrived. Moves
// Processing or Idle to Speaking.
func (m *Machine) ModelAudioStarted() bool {
	return m.apply(func(s State) (State, bool) {
		if s == StateProcessing || s == StateIdle {
			return StateSpeaking, true
		}
		return s, false
	})
}

// ModelAudioEnded signals that remote-model audio finished. Moves Speaking
// to Idle.
func (m *Machine) ModelAudioEnded() bool {
	return m.apply(func(s State) (State, bool) {
		if s == StateSpeaking {
			return StateIdle, true
		}
		return s, false
	})
}

// Fail signals a transport or render error. Moves any state to StateError
// and starts the recovery clock.
func (m *Machine) Fail() bool {
	return m.apply(func(s State) (State, bool) {
		return StateError, s != StateError
	})
}

// Healthy signals that the failing subsystem recovered. Moves StateError
// back to StateIdle.
func (m *Machine) Healthy() bool {
	return m.apply(func(s State) (State, bool) {
		if s == StateError {
			return StateIdle, true
		}
		return s, false
	})
}

// Poll advances time-based behavior and is expected at the rendering
// cadence. If the machine has sat in StateError past ErrorRecovery with no
// healthy signal, it recovers to StateIdle; the machine never sticks in
// StateError.
func (m *Machine) Poll() bool {
	now := m.cfg.Now()
	return m.apply(func(s State) (State, bool) {
		if s == StateError && now.Sub(m.erroredAt) >= m.cfg.ErrorRecovery {
			return StateIdle, true
		}
		return s, false
	})
}

// Close releases the transition channel. Subsequent events are ignored.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// apply evaluates one transition under the lock and publishes it if the
// state changed. Returns whether a transition occurred.
func (m *Machine) apply(fn func(State) (State, bool)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}

	next, changed := fn(m.state)
	if !changed {
		return false
	}

	tr := Transition{From: m.state, To: next, At: m.cfg.Now()}
	m.state = next
	if next == StateError {
		m.erroredAt = tr.At
	}

	select {
	case m.ch <- tr:
	default:
		// Consumer lagging: drop the oldest pending transition so the
		// newest state is always delivered.
		select {
		case <-m.ch:
			m.dropped++
		default:
		}
		select {
		case m.ch <- tr:
		default:
			m.dropped++
		}
	}
	return true
}
