// Package slider drives the captcha widget interaction: it owns the
// drag state machine, talks to the server through the SDK client, and
// surfaces the minted token to the embedding form.
//
// States: idle → dragging → verifying → success | fail. A failed
// verification abandons the challenge, loads a fresh one and re-arms;
// success is terminal for the machine instance.
package slider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hotelhub/slidegate/pkg/client"
)

// State is the widget interaction state.
type State string

const (
	StateIdle      State = "idle"
	StateDragging  State = "dragging"
	StateVerifying State = "verifying"
	StateSuccess   State = "success"
	StateFail      State = "fail"
)

// ErrBadState is returned when an event arrives in a state that does
// not accept it — e.g. a pointer-up without a preceding pointer-down.
var ErrBadState = errors.New("event not valid in current state")

// Backend is the server API the machine drives. *client.Client
// satisfies this interface.
type Backend interface {
	Generate(ctx context.Context) (*client.Challenge, error)
	Verify(ctx context.Context, captchaID string, x int, trace *client.Trace) (*client.VerifyResult, error)
}

// Config holds widget geometry and behavior knobs.
type Config struct {
	TrackWidth   int           // width of the slider track in px
	PieceWidth   int           // width of the handle/piece in px
	MinDragPx    int           // releases below this offset are taps, not attempts
	FailCooldown time.Duration // delay before a failed machine re-arms; 0 = immediately
}

func (c Config) withDefaults() Config {
	if c.TrackWidth == 0 {
		c.TrackWidth = 320
	}
	if c.PieceWidth == 0 {
		c.PieceWidth = 48
	}
	if c.MinDragPx == 0 {
		c.MinDragPx = 10
	}
	return c
}

// Machine is one widget instance. All event methods are safe for
// concurrent use, though a real widget drives them from one goroutine.
type Machine struct {
	cfg Config
	api Backend

	// OnToken, when set, receives the captcha token on success.
	OnToken func(token string)

	mu        sync.Mutex
	state     State
	challenge *client.Challenge
	offset    int
	offsets   []int
	dragStart time.Time
	token     string
}

// New creates a Machine in the idle state. Call Load before the first
// drag.
func New(cfg Config, api Backend) *Machine {
	return &Machine{cfg: cfg.withDefaults(), api: api, state: StateIdle}
}

// Load fetches a fresh challenge for an idle machine.
func (m *Machine) Load(ctx context.Context) (*client.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return nil, fmt.Errorf("%w: load in %s", ErrBadState, m.state)
	}
	ch, err := m.api.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	m.challenge = ch
	m.offset = 0
	m.offsets = m.offsets[:0]
	return ch, nil
}

// PointerDown starts a drag. Valid only when idle with a loaded
// challenge.
func (m *Machine) PointerDown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle || m.challenge == nil {
		return fmt.Errorf("%w: pointer down in %s", ErrBadState, m.state)
	}
	m.state = StateDragging
	m.dragStart = time.Now()
	m.offset = 0
	m.offsets = append(m.offsets[:0], 0)
	return nil
}

// PointerMove updates the handle offset, clamped to the track. The
// pointer leaving the widget area is not a cancel; the drag continues
// until an explicit up or cancel event.
func (m *Machine) PointerMove(offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDragging {
		return fmt.Errorf("%w: pointer move in %s", ErrBadState, m.state)
	}
	max := m.cfg.TrackWidth - m.cfg.PieceWidth
	if offset < 0 {
		offset = 0
	} else if offset > max {
		offset = max
	}
	m.offset = offset
	m.offsets = append(m.offsets, offset)
	return nil
}

// PointerCancel aborts the drag without a server call; the challenge
// and its attempt budget are untouched.
func (m *Machine) PointerCancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDragging {
		return fmt.Errorf("%w: pointer cancel in %s", ErrBadState, m.state)
	}
	m.state = StateIdle
	m.offset = 0
	return nil
}

// PointerUp releases the handle. A release under the minimal-drag
// threshold is an accidental tap: the machine returns to idle and no
// attempt is spent server-side. Otherwise the offset is submitted; on
// success the machine is terminal and the token flows to OnToken, on
// failure the challenge is abandoned, a fresh one is loaded and the
// machine re-arms.
func (m *Machine) PointerUp(ctx context.Context) (State, error) {
	m.mu.Lock()
	if m.state != StateDragging {
		m.mu.Unlock()
		return m.state, fmt.Errorf("%w: pointer up in %s", ErrBadState, m.state)
	}

	if m.offset < m.cfg.MinDragPx {
		m.state = StateIdle
		m.offset = 0
		m.mu.Unlock()
		return StateIdle, nil
	}

	m.state = StateVerifying
	id := m.challenge.CaptchaID
	x := m.offset
	trace := &client.Trace{
		DurationMillis: time.Since(m.dragStart).Milliseconds(),
		Offsets:        append([]int(nil), m.offsets...),
	}
	m.mu.Unlock()

	result, err := m.api.Verify(ctx, id, x, trace)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil && result.Success {
		m.state = StateSuccess
		m.token = result.CaptchaToken
		if m.OnToken != nil {
			m.OnToken(result.CaptchaToken)
		}
		return StateSuccess, nil
	}

	// Any failure reason is handled the same way: drop the puzzle and
	// fetch a new one. The previous challenge id is never retried.
	m.state = StateFail
	m.challenge = nil
	if m.cfg.FailCooldown == 0 {
		m.rearmLocked(ctx)
	} else {
		time.AfterFunc(m.cfg.FailCooldown, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.state == StateFail {
				m.rearmLocked(context.Background())
			}
		})
	}

	if err != nil {
		return StateFail, fmt.Errorf("verify: %w", err)
	}
	return StateFail, nil
}

// rearmLocked moves a failed machine back to idle with a fresh
// challenge. Called with m.mu held. A reload failure leaves the machine
// idle without a challenge; the next Load retries.
func (m *Machine) rearmLocked(ctx context.Context) {
	m.state = StateIdle
	m.offset = 0
	m.offsets = m.offsets[:0]
	if ch, err := m.api.Generate(ctx); err == nil {
		m.challenge = ch
	}
}

// State returns the current interaction state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Offset returns the current clamped handle offset.
func (m *Machine) Offset() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// Token returns the captcha token after a successful verification.
func (m *Machine) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Challenge returns the currently loaded challenge, or nil.
func (m *Machine) Challenge() *client.Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenge
}
