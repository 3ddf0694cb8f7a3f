package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/mahirjain10/brainscan-workers/internal/types"
	"github.com/mahirjain10/brainscan-workers/internal/utils"
)

const (
	StatusRoutingKey      = "status"
	defaultPublishTimeout = 5 * time.Second
)

// publishChannel is the part of *amqp.Channel the publishers need.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch      publishChannel
	timeout time.Duration
}

func NewPublisher(ch publishChannel) *Publisher {
	return &Publisher{ch: ch, timeout: defaultPublishTimeout}
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, message any) error {
	if p.ch == nil {
		return ErrNotConnected
	}
	body, err := utils.SerializeJSON(message)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.ch.PublishWithContext(ctx,
		exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishDispatch sends msg to queue through the default exchange.
func (p *Publisher) PublishDispatch(ctx context.Context, queue string, msg types.DispatchMessage) error {
	if err := p.publish(ctx, "", queue, msg); err != nil {
		return fmt.Errorf("dispatch job %s: %w", msg.JobID, err)
	}
	log.Debug().Str("job_id", msg.JobID).Str("queue", queue).Msg("Dispatch message published")
	return nil
}

// StatusNotifier publishes job status events on the status exchange.
type StatusNotifier struct {
	publisher *Publisher
	exchange  string
}

func NewStatusNotifier(p *Publisher, exchange string) *StatusNotifier {
	return &StatusNotifier{publisher: p, exchange: exchange}
}

func (n *StatusNotifier) Notify(ctx context.Context, event types.StatusEvent) error {
	if err := n.publisher.publish(ctx, n.exchange, StatusRoutingKey, event); err != nil {
		return fmt.Errorf("status for job %s: %w", event.Data.JobID, err)
	}
	log.Debug().Str("job_id", event.Data.JobID).Str("state", string(event.Data.State)).Msg("Pushed to status queue")
	return nil
}

// SetupStatusExchange declares the status exchange and binds statusQueue to
// it under the status routing key.
func SetupStatusExchange(ch *amqp.Channel, exchange, statusQueue string) error {
	if err := NewExchange(ch, exchange); err != nil {
		return err
	}
	if statusQueue == "" {
		return nil
	}
	return BindQueue(ch, statusQueue, StatusRoutingKey, exchange)
}
