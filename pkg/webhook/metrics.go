package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linedesk_webhook_deliveries_total",
		Help: "Webhook deliveries by outcome.",
	}, []string{"outcome"})
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linedesk_webhook_events_total",
		Help: "Webhook events by type and result.",
	}, []string{"type", "result"})
	autoReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linedesk_auto_replies_total",
		Help: "Automatic acknowledgement replies by result.",
	}, []string{"result"})
	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linedesk_webhook_ingest_seconds",
		Help:    "Time spent verifying and storing one delivery.",
		Buckets: prometheus.DefBuckets,
	})
)
