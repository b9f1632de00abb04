package shared

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RMQueue mirrors published gate messages onto a durable RabbitMQ queue so
// downstream recorders can replay them.
type RMQueue struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
	Queue      amqp.Queue
	Timeout    time.Duration
}

func NewRMQueue(url string, queueName string) (*RMQueue, error) {
	q := &RMQueue{Timeout: 5 * time.Second}
	var err error
	q.Connection, err = amqp.Dial(url)
	if err != nil {
		return q, err
	}
	q.Channel, err = q.Connection.Channel()
	if err != nil {
		q.Connection.Close()
		return q, err
	}
	q.Queue, err = q.Channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		q.Close()
		return q, err
	}
	return q, nil
}

func (q *RMQueue) Close() {
	if q.Channel != nil {
		q.Channel.Close()
	}
	if q.Connection != nil {
		q.Connection.Close()
	}
}

// Publish pushes body to the queue, tagging it with the MQTT topic it was
// sent to.
func (q *RMQueue) Publish(topic string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.Timeout)
	defer cancel()
	return q.Channel.PublishWithContext(ctx, "", q.Queue.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"mqtt_topic": topic},
		Body:         body,
	})
}
