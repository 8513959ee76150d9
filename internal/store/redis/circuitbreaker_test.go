package redis

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, reset)
	cb.now = clk.now
	return cb, clk
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	errFail := errors.New("fail")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Errorf("expected Open after 3 failures, got %v", cb.CurrentState())
	}

	called := false
	if err := cb.Execute(func() error { called = true; return nil }); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Second)
	var transitions []State
	cb.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	errFail := errors.New("fail")
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	clk.advance(2 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed after a successful trial write, got %v", cb.CurrentState())
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)
	errFail := errors.New("fail")
	cb.Execute(func() error { return errFail })

	clk.advance(2 * time.Second)
	cb.Execute(func() error { return errFail })
	if cb.CurrentState() != StateOpen {
		t.Errorf("expected Open after a failed trial write, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_FailedTrialRestartsCooldown(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)
	errFail := errors.New("fail")
	cb.Execute(func() error { return errFail })

	clk.advance(2 * time.Second)
	cb.Execute(func() error { return errFail })

	clk.advance(500 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected refusal within the new cooldown, got %v", err)
	}
	clk.advance(time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("expected trial write after cooldown, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", cb.CurrentState())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
