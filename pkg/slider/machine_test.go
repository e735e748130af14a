package slider_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hotelhub/slidegate/pkg/client"
	"github.com/hotelhub/slidegate/pkg/slider"
)

// stubBackend fakes the server: challenges are numbered and a verify
// succeeds when the submitted offset matches target.
type stubBackend struct {
	mu        sync.Mutex
	target    int
	generated int
	verifies  []verifyCall
}

type verifyCall struct {
	id    string
	x     int
	trace *client.Trace
}

func (b *stubBackend) Generate(context.Context) (*client.Challenge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generated++
	return &client.Challenge{
		CaptchaID:  "ch-" + string(rune('0'+b.generated)),
		BgImage:    "data:image/png;base64,YmFja2dyb3VuZA==",
		PieceImage: "data:image/png;base64,cGllY2U=",
		Y:          51,
	}, nil
}

func (b *stubBackend) Verify(_ context.Context, id string, x int, trace *client.Trace) (*client.VerifyResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifies = append(b.verifies, verifyCall{id: id, x: x, trace: trace})
	if x == b.target {
		return &client.VerifyResult{Success: true, CaptchaToken: "tok-1"}, nil
	}
	return &client.VerifyResult{Success: false, Msg: "position_mismatch"}, nil
}

func (b *stubBackend) verifyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.verifies)
}

func newMachine(t *testing.T, backend *stubBackend) *slider.Machine {
	t.Helper()
	m := slider.New(slider.Config{TrackWidth: 320, PieceWidth: 48, MinDragPx: 10}, backend)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func drag(t *testing.T, m *slider.Machine, offsets ...int) {
	t.Helper()
	if err := m.PointerDown(); err != nil {
		t.Fatalf("PointerDown: %v", err)
	}
	for _, o := range offsets {
		if err := m.PointerMove(o); err != nil {
			t.Fatalf("PointerMove(%d): %v", o, err)
		}
	}
}

func TestSuccessfulDrag(t *testing.T) {
	backend := &stubBackend{target: 150}
	m := newMachine(t, backend)

	var gotToken string
	m.OnToken = func(tok string) { gotToken = tok }

	drag(t, m, 40, 90, 140, 150)
	state, err := m.PointerUp(context.Background())
	if err != nil {
		t.Fatalf("PointerUp: %v", err)
	}
	if state != slider.StateSuccess {
		t.Fatalf("state = %s, want success", state)
	}
	if gotToken != "tok-1" || m.Token() != "tok-1" {
		t.Fatalf("token callback got %q, accessor %q", gotToken, m.Token())
	}

	// Success is terminal: no further drags on this machine.
	if err := m.PointerDown(); !errors.Is(err, slider.ErrBadState) {
		t.Fatalf("PointerDown after success err = %v, want ErrBadState", err)
	}
}

func TestFailedDragReloadsChallenge(t *testing.T) {
	backend := &stubBackend{target: 150}
	m := newMachine(t, backend)
	firstID := m.Challenge().CaptchaID

	drag(t, m, 60)
	state, err := m.PointerUp(context.Background())
	if err != nil {
		t.Fatalf("PointerUp: %v", err)
	}
	if state != slider.StateFail {
		t.Fatalf("state = %s, want fail", state)
	}

	// Zero cooldown: the machine re-armed inline with a new challenge.
	if m.State() != slider.StateIdle {
		t.Fatalf("state after re-arm = %s, want idle", m.State())
	}
	if m.Challenge() == nil || m.Challenge().CaptchaID == firstID {
		t.Fatal("expected a fresh challenge after failure")
	}

	// The next attempt works against the new challenge.
	drag(t, m, 150)
	if state, err := m.PointerUp(context.Background()); err != nil || state != slider.StateSuccess {
		t.Fatalf("retry: state = %s, err = %v", state, err)
	}
}

func TestSubThresholdReleaseIsNotAnAttempt(t *testing.T) {
	backend := &stubBackend{target: 150}
	m := newMachine(t, backend)

	drag(t, m, 4)
	state, err := m.PointerUp(context.Background())
	if err != nil {
		t.Fatalf("PointerUp: %v", err)
	}
	if state != slider.StateIdle {
		t.Fatalf("state = %s, want idle", state)
	}
	if backend.verifyCount() != 0 {
		t.Fatalf("server saw %d verify calls for an accidental tap, want 0", backend.verifyCount())
	}
}

func TestOffsetClamping(t *testing.T) {
	m := newMachine(t, &stubBackend{target: 150})

	drag(t, m, -30)
	if m.Offset() != 0 {
		t.Errorf("offset after negative move = %d, want 0", m.Offset())
	}
	if err := m.PointerMove(10_000); err != nil {
		t.Fatalf("PointerMove: %v", err)
	}
	if m.Offset() != 320-48 {
		t.Errorf("offset after overshoot = %d, want %d", m.Offset(), 320-48)
	}
}

func TestPointerCancelKeepsChallenge(t *testing.T) {
	backend := &stubBackend{target: 150}
	m := newMachine(t, backend)
	id := m.Challenge().CaptchaID

	drag(t, m, 80)
	if err := m.PointerCancel(); err != nil {
		t.Fatalf("PointerCancel: %v", err)
	}
	if m.State() != slider.StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}
	if backend.verifyCount() != 0 {
		t.Fatal("cancel must not contact the server")
	}
	if m.Challenge().CaptchaID != id {
		t.Fatal("cancel must keep the loaded challenge")
	}
}

func TestTraceAccompaniesVerify(t *testing.T) {
	backend := &stubBackend{target: 150}
	m := newMachine(t, backend)

	drag(t, m, 30, 80, 120, 150)
	if _, err := m.PointerUp(context.Background()); err != nil {
		t.Fatalf("PointerUp: %v", err)
	}

	if len(backend.verifies) != 1 {
		t.Fatalf("verify calls = %d, want 1", len(backend.verifies))
	}
	call := backend.verifies[0]
	if call.x != 150 {
		t.Errorf("submitted x = %d, want 150", call.x)
	}
	if call.trace == nil || len(call.trace.Offsets) != 5 {
		t.Fatalf("trace = %+v, want 5 offset samples (down + 4 moves)", call.trace)
	}
}

func TestEventsOutOfOrder(t *testing.T) {
	m := newMachine(t, &stubBackend{target: 150})

	if err := m.PointerMove(50); !errors.Is(err, slider.ErrBadState) {
		t.Errorf("move before down err = %v, want ErrBadState", err)
	}
	if _, err := m.PointerUp(context.Background()); !errors.Is(err, slider.ErrBadState) {
		t.Errorf("up before down err = %v, want ErrBadState", err)
	}
	if err := m.PointerDown(); err != nil {
		t.Fatalf("PointerDown: %v", err)
	}
	if err := m.PointerDown(); !errors.Is(err, slider.ErrBadState) {
		t.Errorf("double down err = %v, want ErrBadState", err)
	}
}
