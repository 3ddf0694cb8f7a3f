package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/mahirjain10/brainscan-workers/internal/pipeline"
	"github.com/mahirjain10/brainscan-workers/internal/queue/models"
	"github.com/mahirjain10/brainscan-workers/internal/types"
	"github.com/mahirjain10/brainscan-workers/internal/utils"
)

// Handler processes one dispatch message to a terminal outcome.
type Handler interface {
	Handle(ctx context.Context, msg types.DispatchMessage) (pipeline.Result, error)
}

type ConsumerConfig struct {
	URL               string
	Queue             string
	Workers           int
	Prefetch          int
	ReconnectInterval time.Duration
	// ShutdownGrace bounds how long in-flight messages may run after
	// shutdown begins.
	ShutdownGrace time.Duration
}

// RabbitMqService runs Workers consumer goroutines against the dispatch
// queue. Each worker owns its channel and recreates it when it drops.
type RabbitMqService struct {
	config  ConsumerConfig
	handler Handler

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewRabbitMqService(cfg ConsumerConfig, handler Handler) *RabbitMqService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &RabbitMqService{config: cfg, handler: handler}
}

// connection returns the shared connection, dialing a new one if it closed.
func (s *RabbitMqService) connection() (*amqp.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	conn, err := NewRabbitMQClient(s.config.URL)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

func (s *RabbitMqService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}

// ProcessMessage decodes and handles one delivery body. A nil return means
// the delivery should be acked.
func (s *RabbitMqService) ProcessMessage(ctx context.Context, body []byte, redelivered bool) error {
	var envelope models.DispatchEnvelope
	if err := utils.ParseJSON(body, &envelope); err != nil {
		return models.ProcessingError{Err: fmt.Errorf("%w: %w", ErrMalformedMessage, err), Requeue: false}
	}
	msg := envelope.Message()

	res, err := s.handler.Handle(ctx, msg)
	if err != nil {
		// Handler errors happen before any terminal write, so the message is
		// always requeued.
		log.Debug().Str("job_id", msg.JobID).Bool("redelivered", redelivered).Msg("Requeueing unfinished job")
		return models.ProcessingError{Err: fmt.Errorf("job %s: %w", msg.JobID, err), Requeue: true}
	}
	log.Info().
		Str("job_id", res.JobID).
		Str("state", string(res.State)).
		Str("error_code", string(res.Code)).
		Bool("skipped", res.Skipped).
		Msg("Message processed")
	return nil
}

// settle acks or nacks d according to the outcome of ProcessMessage.
func (s *RabbitMqService) settle(d amqp.Delivery, err error) {
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error().Err(ackErr).Msg("Failed to ack message")
		}
		return
	}

	requeue := false
	var procErr models.ProcessingError
	if errors.As(err, &procErr) {
		requeue = procErr.Requeue
	} else {
		requeue = utils.IsTransientError(err)
	}
	if utils.IsFatalError(err) {
		log.Error().Err(err).Bool("requeue", requeue).Msg("Infrastructure failure while processing message")
	} else {
		log.Warn().Err(err).Bool("requeue", requeue).Msg("Error processing message")
	}
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		log.Error().Err(nackErr).Msg("Failed to nack message")
	}
}

func (s *RabbitMqService) handleDelivery(ctx context.Context, d amqp.Delivery) {
	s.settle(d, s.ProcessMessage(ctx, d.Body, d.Redelivered))
}

// Start runs the workers until ctx is cancelled and waits for in-flight
// messages to settle.
func (s *RabbitMqService) Start(ctx context.Context) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	ch, err := NewChannel(conn)
	if err != nil {
		return err
	}
	if _, err := NewQueue(ch, s.config.Queue); err != nil {
		ch.Close()
		return err
	}
	ch.Close()
	log.Info().Str("queue", s.config.Queue).Int("workers", s.config.Workers).Msg("Queue declared, starting workers")

	// In-flight messages keep running past shutdown until the grace period
	// ends, so a job is not cut off between two store writes.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var wg sync.WaitGroup
	for i := range s.config.Workers {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.runWorker(ctx, workCtx, worker)
		}(i + 1)
	}

	<-ctx.Done()
	log.Info().Dur("grace", s.config.ShutdownGrace).Msg("Shutting down all consumers gracefully...")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.config.ShutdownGrace):
		log.Warn().Msg("Grace period over, cancelling in-flight messages")
		cancelWork()
		<-done
	}
	return nil
}

func (s *RabbitMqService) runWorker(ctx, workCtx context.Context, worker int) {
	logger := log.With().Str("queue", s.config.Queue).Int("worker", worker).Logger()
	var consumerCh *amqp.Channel
	defer func() {
		if consumerCh != nil {
			consumerCh.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down...")
			return
		default:
		}

		if consumerCh == nil || consumerCh.IsClosed() {
			conn, err := s.connection()
			if err != nil {
				logger.Error().Err(err).Msg("Failed to connect to RabbitMQ")
				s.wait(ctx)
				continue
			}
			newCh, err := NewChannel(conn)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to create channel")
				s.wait(ctx)
				continue
			}
			consumerCh = newCh
			logger.Debug().Msg("Channel created")
		}

		msgs, err := NewQueueConsumer(consumerCh, s.config.Queue, s.config.Prefetch)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to start consumer")
			consumerCh.Close()
			consumerCh = nil
			s.wait(ctx)
			continue
		}
		logger.Info().Msg("Worker started, waiting for messages...")

		channelClosed := false
		for !channelClosed {
			select {
			case <-ctx.Done():
				logger.Info().Msg("Shutting down...")
				return
			case d, ok := <-msgs:
				if !ok {
					logger.Warn().Msg("Channel closed, will recreate")
					consumerCh = nil
					channelClosed = true
					s.wait(ctx)
					break
				}
				s.handleDelivery(workCtx, d)
			}
		}
	}
}

func (s *RabbitMqService) wait(ctx context.Context) {
	t := time.NewTimer(s.config.ReconnectInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
