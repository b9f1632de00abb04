package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PublishedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_bridge_messages_total",
		Help: "Messages received by the mqtt bridge, by outcome",
	}, []string{"result"})

	PublishLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_bridge_publish_latency_seconds",
		Help:    "Time spent waiting for the broker to accept a publish",
		Buckets: prometheus.DefBuckets,
	})

	DedupEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_bridge_dedup_entries",
		Help: "Keys held by the in-memory deduplicator",
	})
)
