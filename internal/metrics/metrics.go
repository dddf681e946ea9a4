package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderhook_webhook_events_total",
			Help: "Webhook deliveries by verification result",
		},
		[]string{"result"},
	)

	OrdersWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderhook_orders_written_total",
			Help: "Order writes by outcome (created, duplicate, failed)",
		},
		[]string{"outcome"},
	)

	ProvisionSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderhook_provision_steps_total",
			Help: "Namespace provisioning steps by outcome",
		},
		[]string{"step", "outcome"},
	)

	CheckoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderhook_checkout_sessions_total",
			Help: "Checkout session attempts by result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderhook_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderhook_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		WebhookEventsTotal,
		OrdersWrittenTotal,
		ProvisionSteps,
		CheckoutSessionsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
