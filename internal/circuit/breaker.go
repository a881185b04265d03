package circuit

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Analysis halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled             bool          `json:"enabled"`
	MaxConsecutiveFails int           `json:"max_consecutive_fails"`
	Cooldown            time.Duration `json:"cooldown"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MaxConsecutiveFails: 5,
		Cooldown:            2 * time.Minute,
	}
}

// Breaker opens after consecutive broker failures and closes again on
// the first success after its cooldown
type Breaker struct {
	config           Config
	state            BreakerState
	consecutiveFails int
	totalTrips       int
	lastTripTime     time.Time
	tripReason       string
	mu               sync.Mutex
	onTrip           func(reason string)
	onReset          func()

	now func() time.Time
}

// NewBreaker creates a new circuit breaker
func NewBreaker(config Config) *Breaker {
	if config.MaxConsecutiveFails <= 0 {
		config.MaxConsecutiveFails = DefaultConfig().MaxConsecutiveFails
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// OnTrip sets callback for when breaker trips
func (cb *Breaker) OnTrip(handler func(reason string)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = handler
}

// OnReset sets callback for when breaker resets
func (cb *Breaker) OnReset(handler func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onReset = handler
}

// Allow checks whether a cycle may run. After the cooldown the breaker
// goes half-open and lets one cycle through.
func (cb *Breaker) Allow() (bool, string) {
	if !cb.config.Enabled {
		return true, ""
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		elapsed := cb.now().Sub(cb.lastTripTime)
		if elapsed < cb.config.Cooldown {
			remaining := cb.config.Cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), cb.tripReason)
		}
		cb.state = StateHalfOpen
	}
	return true, ""
}

// RecordSuccess resets the failure count and closes a half-open breaker
func (cb *Breaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	cb.consecutiveFails = 0
	var onReset func()
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.tripReason = ""
		onReset = cb.onReset
	}
	cb.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}

// RecordFailure counts a broker failure. A failure while half-open trips
// the breaker again immediately.
func (cb *Breaker) RecordFailure(err error) {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.config.MaxConsecutiveFails {
		reason := fmt.Sprintf("consecutive broker failures: %d", cb.consecutiveFails)
		if err != nil {
			reason = fmt.Sprintf("%s (last: %v)", reason, err)
		}
		cb.trip(reason)
	}
}

// trip opens the circuit breaker
func (cb *Breaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTripTime = cb.now()
	cb.tripReason = reason
	cb.totalTrips++

	if cb.onTrip != nil {
		go cb.onTrip(reason)
	}
}

// ForceReset closes the breaker at once, skipping any remaining cooldown
func (cb *Breaker) ForceReset() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.tripReason = ""
	onReset := cb.onReset
	cb.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}

// GetState returns current breaker state
func (cb *Breaker) GetState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns current statistics
func (cb *Breaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"enabled":           cb.config.Enabled,
		"state":             string(cb.state),
		"consecutive_fails": cb.consecutiveFails,
		"total_trips":       cb.totalTrips,
		"trip_reason":       cb.tripReason,
		"last_trip_time":    cb.lastTripTime,
	}
}
