package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/round-cube/parking-gate/shared"
	log "github.com/sirupsen/logrus"
)

type Settings struct {
	listenAddr     string
	mqtt           shared.MQTTSettings
	publishTopic   string
	redisURL       string
	dedupEnabled   bool
	dedupWindowS   int
	rmqURL         string
	exitsQueueName string
	promPort       int
	promPath       string
}

func newSettings() (Settings, error) {
	var s Settings
	var err error

	s.mqtt.BrokerURL, err = shared.GetEnv("MQTT_BROKER_URL")
	if err != nil {
		return s, err
	}

	qos := shared.GetEnvInt("MQTT_QOS", 1)
	if qos < 0 || qos > 2 {
		return s, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos)
	}
	s.mqtt.QoS = byte(qos)
	s.mqtt.ClientID = shared.GetEnvDefault("MQTT_CLIENT_ID", "parking-gate-bridge")
	s.mqtt.Username = shared.GetEnvDefault("MQTT_USERNAME", "")
	s.mqtt.Password = shared.GetEnvDefault("MQTT_PASSWORD", "")
	s.mqtt.Retained = shared.GetEnvBool("MQTT_RETAINED", false)

	s.listenAddr = shared.GetEnvDefault("LISTEN_ADDR", ":8080")
	s.publishTopic = shared.GetEnvDefault("MQTT_PUBLISH_TOPIC", "parking/0001/camera")
	s.redisURL = shared.GetEnvDefault("REDIS_URL", "")
	s.dedupEnabled = shared.GetEnvBool("DEDUP_ENABLED", false)
	s.dedupWindowS = shared.GetEnvInt("DEDUP_WINDOW_S", 180)
	s.rmqURL = shared.GetEnvDefault("RMQ_URL", "")
	s.exitsQueueName = shared.GetEnvDefault("EXITS_QUEUE_NAME", "exits")
	s.promPath = shared.GetEnvDefault("PROM_PATH", "/metrics")
	s.promPort = shared.GetEnvInt("PROM_PORT", 2112)

	return s, nil
}

func main() {
	shared.InitLog()
	settings, err := newSettings()
	shared.PanicOnError(err, "failed to read settings")

	promMux := http.NewServeMux()
	promMux.Handle(settings.promPath, promhttp.Handler())
	go http.ListenAndServe(fmt.Sprintf(":%d", settings.promPort), promMux)
	fmt.Printf("prometheus metrics available at http://localhost:%d%s\n", settings.promPort, settings.promPath)

	mqttClient, err := shared.NewMQTTClient(settings.mqtt)
	shared.PanicOnError(err, "failed to connect to MQTT broker")
	defer mqttClient.Close()

	dedup, closeDedup, err := newDeduplicator(settings)
	shared.PanicOnError(err, "failed to set up deduplication")
	defer closeDedup()

	bridge := &Bridge{
		Publisher:    mqttClient,
		Dedup:        dedup,
		DefaultTopic: settings.publishTopic,
		Now:          time.Now,
	}

	if settings.rmqURL != "" {
		rmq, err := shared.NewRMQueue(settings.rmqURL, settings.exitsQueueName)
		shared.PanicOnError(err, "failed to connect to RMQ")
		defer rmq.Close()
		bridge.Mirror = rmq
	}

	log.WithFields(log.Fields{
		"listen_addr":   settings.listenAddr,
		"broker":        settings.mqtt.BrokerURL,
		"default_topic": settings.publishTopic,
		"dedup":         settings.dedupEnabled,
		"redis_dedup":   settings.dedupEnabled && settings.redisURL != "",
		"rmq_mirror":    settings.rmqURL != "",
	}).Info("mqtt bridge started")

	err = http.ListenAndServe(settings.listenAddr, bridge.Routes())
	shared.PanicOnError(err, "http server stopped")
}

// newDeduplicator returns nil when dedup is disabled, so the bridge forwards
// every message unchanged.
func newDeduplicator(s Settings) (Deduplicator, func(), error) {
	if !s.dedupEnabled {
		return nil, func() {}, nil
	}
	window := time.Duration(s.dedupWindowS) * time.Second
	if s.redisURL == "" {
		return NewMemoryDeduplicator(window), func() {}, nil
	}

	opt, err := redis.ParseURL(s.redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rds := redis.NewClient(opt)
	return &RedisDeduplicator{
		Redis:  rds,
		Locker: redislock.New(rds),
		LockOpts: &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 3),
		},
		Window: window,
	}, func() { rds.Close() }, nil
}
