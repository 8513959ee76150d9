package redis

import (
	"errors"
	"sync"
	"time"
)

// State is the position of a CircuitBreaker.
type State int

const (
	StateClosed   State = iota // writes reach Redis
	StateOpen                  // writes are refused until the cool-down ends
	StateHalfOpen              // the next write decides between closed and open
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned by Execute while the breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards the trade-log mirror. maxFailures consecutive write
// errors open it; once cooldown has passed a single trial write is allowed.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time

	// OnStateChange observes transitions. It runs with the breaker locked
	// and must not call back into it.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker returns a closed breaker. maxFailures below 1 means 1.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute calls fn unless the breaker is open and returns fn's error.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) <= cb.cooldown {
		return false
	}
	cb.setState(StateHalfOpen)
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.openedAt = cb.now()
		cb.setState(StateOpen)
	}
}

// CurrentState returns the breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
