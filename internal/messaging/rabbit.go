// internal/messaging/rabbit.go
package messaging

import (
	"fmt"
	"log"

	"github.com/streadway/amqp"

	"notifcast/internal/metrics"
)

// BroadcastKey receives messages that carry neither a topic nor properties.
// Every device queue is bound to it at sign-up.
const BroadcastKey = "broadcast"

// QueueName derives the broker queue name for a device queue identity.
func QueueName(queueID string) string {
	return "id/" + queueID
}

// ClassKey derives the destination key shared by all devices of one class.
func ClassKey(deviceClass string) string {
	return "device/" + deviceClass
}

type RabbitClient struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	URL      string
	Exchange string
}

// NewRabbitClient dials the broker and declares the routing exchange
// (direct, durable). Declaring an existing exchange with the same
// parameters is a no-op on the broker side.
func NewRabbitClient(url, exchange string) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &RabbitClient{
		conn:     conn,
		channel:  ch,
		URL:      url,
		Exchange: exchange,
	}, nil
}

func (r *RabbitClient) GetChannel() *amqp.Channel {
	return r.channel
}

func (r *RabbitClient) GetConnection() *amqp.Connection {
	return r.conn
}

// DeclareQueue creates a durable, non-exclusive, non-auto-delete queue.
// Safe to repeat for an existing queue.
func (r *RabbitClient) DeclareQueue(name string) error {
	_, err := r.channel.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// BindQueue binds a queue to a destination key on the routing exchange.
// Re-binding an already-bound key is a no-op.
func (r *RabbitClient) BindQueue(queue, key string) error {
	if err := r.channel.QueueBind(queue, key, r.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queue, key, err)
	}
	return nil
}

// UnbindQueue removes a binding between a queue and a destination key.
func (r *RabbitClient) UnbindQueue(queue, key string) error {
	if err := r.channel.QueueUnbind(queue, key, r.Exchange, nil); err != nil {
		return fmt.Errorf("unbind queue %s from %s: %w", queue, key, err)
	}
	return nil
}

// Publish sends a message body to every queue bound to the destination key.
func (r *RabbitClient) Publish(key string, body []byte) error {
	err := r.channel.Publish(
		r.Exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to key %s: %w", key, err)
	}
	return nil
}

// Close cleans up connection and channel
func (r *RabbitClient) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	if err := r.conn.Close(); err != nil {
		return err
	}
	return nil
}

func (r *RabbitClient) UpdateQueueDepth(queue string) {
	q, err := r.channel.QueueInspect(queue)
	if err != nil {
		log.Printf("[Rabbit] Failed to inspect queue %s: %v", queue, err)
		return
	}

	metrics.QueueDepth.WithLabelValues(queue).Set(float64(q.Messages))
}
