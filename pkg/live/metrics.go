package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linedesk_live_events_published_total",
		Help: "Events published to live subscribers, by type.",
	}, []string{"type"})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linedesk_live_events_dropped_total",
		Help: "Events not delivered because a subscriber buffer was full.",
	})
	kafkaForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linedesk_live_kafka_forwarded_total",
		Help: "Events handed to kafka, by result (sent, failed, dropped).",
	}, []string{"result"})
	streamsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linedesk_live_streams_open",
		Help: "Currently connected event streams.",
	})
)
