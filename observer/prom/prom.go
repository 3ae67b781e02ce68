// Package prom exports session lifecycle transitions as Prometheus
// metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/carelinkhealth/go-session-client/observer"
)

// Config configures the Prometheus monitor.
type Config struct {
	// Namespace is the metrics namespace (default: "carelink").
	Namespace string

	// Subsystem is the metrics subsystem (default: "session").
	Subsystem string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

var _ observer.Monitor = (*Monitor)(nil)

// Monitor is an observer.Monitor backed by Prometheus counters.
type Monitor struct {
	logins        *prometheus.CounterVec
	loginFailures *prometheus.CounterVec
	challenges    prometheus.Counter
	refreshes     prometheus.Counter
	refreshFails  prometheus.Counter
	idleWarnings  prometheus.Counter
	signOuts      *prometheus.CounterVec
}

// New registers the session metrics and returns the monitor. Register each
// registry at most once; duplicate registration panics inside promauto.
func New(options ...Option) *Monitor {
	cfg := Config{
		Namespace: "carelink",
		Subsystem: "session",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Monitor{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "logins_total",
			Help:      "Successful credential exchanges.",
		}, []string{"user_id"}),
		loginFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "login_failures_total",
			Help:      "Failed credential exchanges by reason.",
		}, []string{"reason"}),
		challenges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "two_factor_challenges_total",
			Help:      "Logins that required a second factor.",
		}),
		refreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "token_refreshes_total",
			Help:      "Successful access-token refreshes.",
		}),
		refreshFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "refresh_failures_total",
			Help:      "Refreshes that ended the session.",
		}),
		idleWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "inactivity_warnings_total",
			Help:      "Inactivity warnings shown.",
		}),
		signOuts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sign_outs_total",
			Help:      "Session teardowns by reason.",
		}, []string{"reason"}),
	}
}

func (m *Monitor) LoginSucceeded(userID string) {
	m.logins.WithLabelValues(userID).Inc()
}

func (m *Monitor) LoginFailed(reason string) {
	m.loginFailures.WithLabelValues(reason).Inc()
}

func (m *Monitor) TwoFactorChallenged() {
	m.challenges.Inc()
}

func (m *Monitor) TokenRefreshed() {
	m.refreshes.Inc()
}

func (m *Monitor) RefreshFailed() {
	m.refreshFails.Inc()
}

func (m *Monitor) InactivityWarning() {
	m.idleWarnings.Inc()
}

func (m *Monitor) SignedOut(reason string) {
	m.signOuts.WithLabelValues(reason).Inc()
}
