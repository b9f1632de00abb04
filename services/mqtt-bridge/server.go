package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/round-cube/parking-gate/shared"
	log "github.com/sirupsen/logrus"
)

type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

type Mirror interface {
	Publish(topic string, body []byte) error
}

// Bridge republishes messages received over HTTP onto the MQTT broker.
type Bridge struct {
	Publisher    Publisher
	Dedup        Deduplicator // nil forwards every message
	Mirror       Mirror
	DefaultTopic string
	Now          func() time.Time
}

type result map[string]any

func (b *Bridge) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mqtt/publish", b.handlePublish)
	mux.HandleFunc("POST /mqtt/publish/{topic}", b.handlePublish)
	mux.HandleFunc("GET /mqtt/status", b.handleStatus)
	mux.HandleFunc("GET /mqtt/test", b.handleTest)
	return mux
}

func (b *Bridge) handlePublish(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	explicitTopic := topic != ""
	if !explicitTopic {
		topic = b.DefaultTopic
	}

	message := r.FormValue("message")
	log.WithFields(log.Fields{"topic": topic, "content": message}).Info("publish request received")

	if message == "" {
		b.writeJSON(w, http.StatusBadRequest, result{
			"success":   false,
			"message":   "message is required",
			"timestamp": b.timestamp(),
		})
		return
	}

	res := b.publish(r, topic, message)
	if explicitTopic {
		res["topic"] = topic
	}
	b.writeJSON(w, http.StatusOK, res)
}

func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	connected := b.Publisher.IsConnected()
	status := "disconnected"
	if connected {
		status = "connected"
	}
	log.WithField("connected", connected).Info("mqtt status checked")
	b.writeJSON(w, http.StatusOK, result{
		"connected": connected,
		"status":    status,
		"timestamp": b.timestamp(),
	})
}

func (b *Bridge) handleTest(w http.ResponseWriter, r *http.Request) {
	message := fmt.Sprintf("test message - time: %s", b.timestamp())
	b.writeJSON(w, http.StatusOK, b.publish(r, b.DefaultTopic, message))
}

func (b *Bridge) publish(r *http.Request, topic, message string) result {
	ctx := r.Context()
	key, ts, dedup := b.dedupKey(topic, message)
	if dedup {
		unlock, err := b.Dedup.Lock(ctx, key)
		if err != nil {
			log.Warnf("dedup lock failed, publishing anyway: %s", err)
			dedup = false
		} else {
			defer unlock()
		}
	}

	if dedup {
		if dup, err := b.Dedup.Seen(ctx, key, ts); err != nil {
			log.Warnf("dedup check failed, publishing anyway: %s", err)
		} else if dup {
			PublishedMessages.WithLabelValues("duplicate").Inc()
			return result{
				"success":   false,
				"message":   "duplicate message ignored",
				"content":   message,
				"timestamp": b.timestamp(),
			}
		}
	}

	start := time.Now()
	err := b.Publisher.Publish(topic, []byte(message))
	PublishLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		PublishedMessages.WithLabelValues("failed").Inc()
		log.WithField("topic", topic).Errorf("failed to publish message: %s", err)
		return result{
			"success":   false,
			"message":   fmt.Sprintf("publish failed: %s", err),
			"timestamp": b.timestamp(),
		}
	}
	PublishedMessages.WithLabelValues("published").Inc()

	if dedup {
		if err := b.Dedup.Mark(ctx, key, ts); err != nil {
			log.Warnf("failed to record published message: %s", err)
		}
	}

	if b.Mirror != nil {
		if err := b.Mirror.Publish(topic, []byte(message)); err != nil {
			log.WithField("topic", topic).Errorf("failed to mirror message to RMQ: %s", err)
		}
	}

	log.WithField("topic", topic).Info("message published")
	return result{
		"success":   true,
		"message":   "message published",
		"content":   message,
		"timestamp": b.timestamp(),
	}
}

// dedupKey only accepts payloads that look like vehicle events; other
// messages are always published. It reports false when dedup is disabled.
func (b *Bridge) dedupKey(topic, message string) (string, time.Time, bool) {
	if b.Dedup == nil {
		return "", time.Time{}, false
	}
	var event shared.VehicleEvent
	if err := json.Unmarshal([]byte(message), &event); err != nil {
		return "", time.Time{}, false
	}
	if event.EventType == "" || event.Plate() == "" || event.Timestamp == "" {
		return "", time.Time{}, false
	}
	ts, err := shared.ParseEventTime(event.Timestamp)
	if err != nil {
		log.Warnf("unparseable event timestamp %q, skipping dedup", event.Timestamp)
		return "", time.Time{}, false
	}
	key := fmt.Sprintf("dedup:%s:%s:%s", topic, shared.NormalizePlate(event.Plate()), event.EventType)
	return key, ts, true
}

func (b *Bridge) timestamp() string {
	return shared.FormatEventTime(b.Now())
}

func (b *Bridge) writeJSON(w http.ResponseWriter, status int, res result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.Errorf("failed to write response: %s", err)
	}
}
