package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrBreakerOpen is returned without contacting the endpoint while the
// breaker for its host is open or probing.
var ErrBreakerOpen = errors.New("transport: circuit breaker open")

// errServerStatus marks 5xx responses as breaker failures. It never leaves
// the package; the caller still receives the response.
var errServerStatus = errors.New("transport: server error status")

type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures int
	// Timeout is how long the breaker stays open before a probe request.
	Timeout time.Duration
}

// BreakerRegistry keeps one gobreaker per endpoint host so a failing
// receiver only sheds its own traffic.
type BreakerRegistry struct {
	mu       sync.RWMutex
	config   BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerRegistry(config BreakerConfig) (*BreakerRegistry, error) {
	if config.Failures <= 0 {
		return nil, fmt.Errorf("transport: breaker failures must be positive")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &BreakerRegistry{
		config:   config,
		breakers: map[string]*gobreaker.CircuitBreaker{},
	}, nil
}

func (r *BreakerRegistry) For(host string) *gobreaker.CircuitBreaker {
	host = normalizeHost(host)

	r.mu.RLock()
	breaker, ok := r.breakers[host]
	r.mu.RUnlock()
	if ok {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if breaker, ok = r.breakers[host]; ok {
		return breaker
	}
	failures := uint32(r.config.Failures)
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "hooks:" + host,
		MaxRequests: 1,
		Timeout:     r.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	r.breakers[host] = breaker
	return breaker
}

// State reports the breaker state for host, or closed when none exists yet.
func (r *BreakerRegistry) State(host string) gobreaker.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	breaker, ok := r.breakers[normalizeHost(host)]
	if !ok {
		return gobreaker.StateClosed
	}
	return breaker.State()
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
