package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_message_transitions_total",
			Help: "Total number of message status transitions.",
		},
		[]string{"from", "to"},
	)
	sendAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_send_attempts_total",
			Help: "Total number of send attempts by path and resulting status.",
		},
		[]string{"path", "status"},
	)
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatline_send_duration_seconds",
			Help:    "Latency of calls to the send collaborator in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
	resendSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_resend_sweeps_total",
			Help: "Total number of resend sweeps by outcome.",
		},
		[]string{"outcome"},
	)
	historyLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_history_loads_total",
			Help: "Total number of history page loads by outcome.",
		},
		[]string{"outcome"},
	)
	policyRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatline_policy_rejections_total",
			Help: "Total number of revoke/delete requests rejected before reaching the transport.",
		},
		[]string{"op"},
	)
	timelineMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatline_timeline_messages",
			Help: "Number of messages held in the timeline.",
		},
	)
	networkOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatline_network_online",
			Help: "1 when the network monitor considers the link online.",
		},
	)
	reconnectSignalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatline_reconnect_signals_total",
			Help: "Total number of reconnection signals emitted.",
		},
	)
	reconnectAttempts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatline_reconnect_attempts",
			Help: "Current reconnect attempt counter.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		messageTransitionsTotal,
		sendAttemptsTotal,
		sendDuration,
		resendSweepsTotal,
		historyLoadsTotal,
		policyRejectionsTotal,
		timelineMessages,
		networkOnline,
		reconnectSignalsTotal,
		reconnectAttempts,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncTransition(from, to string) {
	messageTransitionsTotal.WithLabelValues(from, to).Inc()
}

func ObserveSend(path, status string, took time.Duration) {
	sendAttemptsTotal.WithLabelValues(path, status).Inc()
	sendDuration.WithLabelValues(path).Observe(took.Seconds())
}

func IncSweep(outcome string) {
	resendSweepsTotal.WithLabelValues(outcome).Inc()
}

func IncHistoryLoad(outcome string) {
	historyLoadsTotal.WithLabelValues(outcome).Inc()
}

func IncPolicyRejection(op string) {
	policyRejectionsTotal.WithLabelValues(op).Inc()
}

func SetTimelineSize(n int) {
	timelineMessages.Set(float64(n))
}

func SetOnline(online bool) {
	if online {
		networkOnline.Set(1)
		return
	}
	networkOnline.Set(0)
}

func IncReconnectSignal() {
	reconnectSignalsTotal.Inc()
}

func SetReconnectAttempts(n int) {
	reconnectAttempts.Set(float64(n))
}
