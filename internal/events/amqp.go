package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	applog "ledger/internal/log"
)

// ErrDeliveriesClosed is returned by Consume when the broker closes the
// delivery channel.
var ErrDeliveriesClosed = errors.New("message channel closed")

const publishTimeout = 5 * time.Second

// Publisher ships ledger events to a durable direct exchange.
type Publisher struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
	logger       *applog.Logger
}

func NewPublisher(url, exchangeName, queueName string, logger *applog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = applog.Default()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := &Publisher{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.WithComponent(applog.ComponentAMQP),
	}

	if err := p.setup(); err != nil {
		p.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return p, nil
}

func (p *Publisher) setup() error {
	err := p.channel.ExchangeDeclare(
		p.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = p.channel.QueueDeclare(
		p.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// routing key is the queue name on a direct exchange
	err = p.channel.QueueBind(p.queueName, p.queueName, p.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// Emit publishes the event as a persistent JSON message.
func (p *Publisher) Emit(ctx context.Context, e Event) error {
	body, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchangeName, // exchange
		p.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    e.Timestamp,
			Type:         string(e.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}

	p.logger.DebugContext(ctx, "Published ledger event",
		applog.FieldOperation, applog.OpPublish,
		applog.FieldEvent, string(e.Type),
		"exchange", p.exchangeName,
		"queue", p.queueName)

	return nil
}

// Consume delivers events from the queue to handler until ctx is done.
// Undecodable messages are dropped; handler failures are requeued.
func (p *Publisher) Consume(ctx context.Context, handler func(context.Context, Event) error) error {
	msgs, err := p.channel.Consume(
		p.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	p.logger.InfoContext(ctx, "Started consuming ledger events",
		applog.FieldOperation, applog.OpConsume,
		"queue", p.queueName)

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Stopping event consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			if err := handleDelivery(ctx, delivery, handler); err != nil {
				p.logger.ErrorContext(ctx, "Failed to handle ledger event",
					applog.FieldOperation, applog.OpConsume,
					applog.FieldError, err)
			}
		}
	}
}

// acknowledger is the part of amqp091.Delivery that handleDelivery needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type delivery interface {
	acknowledger
	body() []byte
}

type amqpDelivery struct{ amqp091.Delivery }

func (d amqpDelivery) body() []byte { return d.Body }

func handleDelivery(ctx context.Context, d amqp091.Delivery, handler func(context.Context, Event) error) error {
	return dispatch(ctx, amqpDelivery{d}, handler)
}

func dispatch(ctx context.Context, d delivery, handler func(context.Context, Event) error) error {
	e, err := FromJSON(d.body())
	if err != nil {
		_ = d.Nack(false, false)
		return fmt.Errorf("decode event: %w", err)
	}
	if err := handler(ctx, e); err != nil {
		_ = d.Nack(false, true)
		return fmt.Errorf("handle %s: %w", e.Type, err)
	}
	return d.Ack(false)
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
