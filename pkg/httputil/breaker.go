package httputil

import (
	"errors"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// ErrCircuitOpen is returned without a request when a host's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// breakerSet holds one breaker per host.
type breakerSet struct {
	threshold int64
	mu        sync.RWMutex
	breakers  map[string]*circuit.Breaker
}

func newBreakerSet(threshold int) *breakerSet {
	return &breakerSet{
		threshold: int64(threshold),
		breakers:  make(map[string]*circuit.Breaker),
	}
}

func (s *breakerSet) get(host string) *circuit.Breaker {
	s.mu.RLock()
	b, ok := s.breakers[host]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[host]; ok {
		return b
	}

	// Half-open trial requests start after 30s and back off to 5m.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(s.threshold),
	})
	s.breakers[host] = b
	return b
}

func (s *breakerSet) state() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make(map[string]string, len(s.breakers))
	for host, b := range s.breakers {
		if b.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}
