package delivery

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange receives delivery events
const DefaultExchange = "einvoice.delivery"

// publisher is the part of *amqp.Channel the sink uses
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes each entry as JSON to a topic exchange with routing key
// delivery.<operation>.
type AMQPSink struct {
	ch       publisher
	conn     *amqp.Connection
	exchange string
}

// NewAMQPSink publishes through an already open channel
func NewAMQPSink(ch publisher, exchange string) *AMQPSink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPSink{ch: ch, exchange: exchange}
}

// DialAMQPSink connects, opens a channel and declares the exchange as a
// durable topic.
func DialAMQPSink(rawURL, exchange string) (*AMQPSink, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, errors.Wrap(err, "parse AMQP URL")
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return nil, errors.Errorf("AMQP URL scheme must be amqp or amqps, got %q", u.Scheme)
	}

	conn, err := amqp.DialConfig(u.String(), amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, errors.Wrap(err, "dial AMQP")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open AMQP channel")
	}
	sink := NewAMQPSink(ch, exchange)
	if err := ch.ExchangeDeclare(sink.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", sink.exchange)
	}
	sink.conn = conn
	return sink, nil
}

func (s *AMQPSink) Append(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}
	err = s.ch.PublishWithContext(ctx, s.exchange, "delivery."+string(e.Operation), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.Timestamp,
		Body:         body,
	})
	if err != nil {
		return errors.Wrapf(err, "publish to %s", s.exchange)
	}
	return nil
}

// Close closes the connection opened by DialAMQPSink
func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
