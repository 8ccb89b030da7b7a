package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the subscription workflow.
type Metrics struct {
	// Purchase metrics
	LinksCreatedTotal     *prometheus.CounterVec
	LinkCreationFailures  prometheus.Counter
	DiscountsAppliedTotal *prometheus.CounterVec

	// Validation metrics
	ValidationsTotal *prometheus.CounterVec

	// Gateway call metrics
	GatewayRequestDuration *prometheus.HistogramVec

	// Access lifecycle metrics
	SubscriptionsGrantedTotal *prometheus.CounterVec
	RemindersFiredTotal       prometheus.Counter
	RevocationsFiredTotal     prometheus.Counter
}

// New creates and registers all collectors.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		LinksCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subsbot_payment_links_created_total",
			Help: "Payment links created, by plan kind.",
		}, []string{"plan"}),
		LinkCreationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "subsbot_payment_link_failures_total",
			Help: "Payment link creations that failed at the gateway.",
		}),
		DiscountsAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subsbot_discounts_applied_total",
			Help: "Discount codes successfully applied, by code.",
		}, []string{"code"}),
		ValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subsbot_validations_total",
			Help: "Payment validations, by interpreted outcome.",
		}, []string{"outcome"}),
		GatewayRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subsbot_gateway_request_duration_seconds",
			Help:    "Wompi API call latency, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		SubscriptionsGrantedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subsbot_subscriptions_granted_total",
			Help: "Subscriptions granted after approved payments, by plan kind.",
		}, []string{"plan"}),
		RemindersFiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "subsbot_reminders_fired_total",
			Help: "Near-expiry reminder notifications sent.",
		}),
		RevocationsFiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "subsbot_revocations_fired_total",
			Help: "Channel revocations executed at expiry.",
		}),
	}
}

// ObserveGatewayRequest records a gateway call duration.
func (m *Metrics) ObserveGatewayRequest(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.GatewayRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
