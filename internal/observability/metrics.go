package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shopnotify_http_requests_total", Help: "HTTP requests by route and status"},
		[]string{"route", "status"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shopnotify_shopify_webhooks_total", Help: "Shopify webhook deliveries"},
		[]string{"topic", "result"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shopnotify_dispatch_total", Help: "Notification dispatch outcomes"},
		[]string{"type", "result"},
	)
	NoOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shopnotify_noop_total", Help: "Policy no-ops by reason"},
		[]string{"reason"},
	)
	ProviderSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shopnotify_whatsapp_send_total", Help: "WhatsApp send outcomes"},
		[]string{"result", "http_status"},
	)
	ProviderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "shopnotify_whatsapp_send_latency_seconds", Help: "WhatsApp send latency"},
	)
	StatusCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shopnotify_status_callbacks_total", Help: "Provider delivery-status callbacks"},
		[]string{"status"},
	)
	InboundCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shopnotify_inbound_commands_total", Help: "Inbound WhatsApp commands"},
		[]string{"command"},
	)
	SchedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shopnotify_scheduler_runs_total", Help: "Scheduler task runs"},
		[]string{"task"},
	)
	SchedulerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shopnotify_scheduler_errors_total", Help: "Scheduler item errors"},
		[]string{"task"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(HTTPRequests, WebhookEvents, Dispatches, NoOps, ProviderSend, ProviderLatency,
		StatusCallbacks, InboundCommands, SchedulerRuns, SchedulerErrors)
}
