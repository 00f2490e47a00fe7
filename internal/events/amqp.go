package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type amqpPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// NewAMQP connects to the broker and declares a durable topic exchange.
func NewAMQP(url, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "events: dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "events: open channel")
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "events: declare exchange")
	}
	return &amqpPublisher{conn: conn, exchange: exchange}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return eris.Wrap(err, "events: open channel")
	}
	defer ch.Close()

	if msg.Meta.ID == "" {
		msg.Meta.ID = uuid.NewString()
	}
	if msg.Meta.OccurredAt.IsZero() {
		msg.Meta.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "events: marshal envelope")
	}

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msg.Meta.ID,
			CorrelationId: msg.Meta.CorrelationID,
			Timestamp:     msg.Meta.OccurredAt,
			Body:          body,
		})
	if err != nil {
		return eris.Wrap(err, "events: publish")
	}
	zap.L().Debug("event published",
		zap.String("key", key),
		zap.String("exchange", p.exchange),
		zap.String("event_id", msg.Meta.ID))
	return nil
}

func (p *amqpPublisher) Close() error {
	return p.conn.Close()
}
