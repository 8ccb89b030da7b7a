package circuitbreaker

import (
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/clubpicks/subsbot/internal/config"
)

// Service identifies a gateway endpoint class for breaker isolation, so a
// failing identity provider cannot trip the payment-link breaker and vice versa.
type Service string

const (
	ServiceWompiIdentity Service = "wompi_identity"
	ServiceWompiAPI      Service = "wompi_api"
)

// Manager holds one circuit breaker per gateway endpoint class.
// When disabled, every call passes straight through.
type Manager struct {
	enabled  bool
	breakers map[Service]*gobreaker.CircuitBreaker
}

// NewManager builds breakers from application config.
func NewManager(cfg config.BreakerConfig) *Manager {
	m := &Manager{enabled: cfg.Enabled, breakers: make(map[Service]*gobreaker.CircuitBreaker)}
	if !cfg.Enabled {
		return m
	}
	for _, svc := range []Service{ServiceWompiIdentity, ServiceWompiAPI} {
		m.breakers[svc] = gobreaker.NewCircuitBreaker(settings(svc, cfg))
	}
	return m
}

// Execute wraps a call with breaker protection for the given service.
func (m *Manager) Execute(service Service, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State returns the breaker state name for diagnostics.
func (m *Manager) State(service Service) string {
	if !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

func settings(svc Service, cfg config.BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        string(svc),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval.Duration,
		Timeout:     cfg.Timeout.Duration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
}
