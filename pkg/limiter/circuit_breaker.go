package limiter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig holds circuit breaker configuration for one
// external tool.
type CircuitBreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// DefaultCircuitBreakerConfig returns a default circuit breaker
// configuration: open after >=5 calls with >=50% failures.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	}
}

// CircuitBreakerManager manages circuit breakers keyed by tool name, so a
// repeatedly failing external tool stops being invoked for a while
// instead of burning the global time budget.
type CircuitBreakerManager struct {
	breakers map[string]*gobreaker.CircuitBreaker
	mu       sync.Mutex

	// OnOpen is invoked when any breaker transitions to open.
	OnOpen func(tool string)
}

// NewCircuitBreakerManager creates a new circuit breaker manager.
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// GetBreaker returns or creates a circuit breaker for a tool.
func (m *CircuitBreakerManager) GetBreaker(tool string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[tool]; exists {
		return breaker
	}

	cfg := DefaultCircuitBreakerConfig(tool)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.ReadyToTrip,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "tool", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen && m.OnOpen != nil {
				m.OnOpen(name)
			}
		},
	})
	m.breakers[tool] = breaker
	return breaker
}

// Execute runs fn through the tool's circuit breaker.
func (m *CircuitBreakerManager) Execute(tool string, fn func() (any, error)) (any, error) {
	return m.GetBreaker(tool).Execute(fn)
}

// IsOpen checks if the circuit breaker is open for a tool.
func (m *CircuitBreakerManager) IsOpen(tool string) bool {
	return m.GetBreaker(tool).State() == gobreaker.StateOpen
}
