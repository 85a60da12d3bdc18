// Package events publishes order lifecycle messages to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/xenking/bazaar/internal/domain/order"
)

const (
	TypeOrderPlaced = "order.placed"
	TypeOrderPaid   = "order.paid"
)

// Producer writes messages to Kafka.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter returns a kafka.Writer for brokers.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Publisher emits one message per order, keyed by order id so that all
// events of an order land on the same partition.
type Publisher struct {
	producer Producer
	topic    string
	timeout  time.Duration
	now      func() time.Time
}

// NewPublisher creates a Publisher writing to topic.
func NewPublisher(producer Producer, topic string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{producer: producer, topic: topic, timeout: timeout, now: time.Now}
}

// OrdersPlaced announces newly recorded orders.
func (p *Publisher) OrdersPlaced(ctx context.Context, orders []*order.Order) error {
	msgs := make([]kafka.Message, 0, len(orders))
	for _, o := range orders {
		msgs = append(msgs, p.message(ctx, TypeOrderPlaced, o.ID, encodePlaced(o, p.now())))
	}
	return p.write(ctx, msgs)
}

// OrdersPaid announces settled orders.
func (p *Publisher) OrdersPaid(ctx context.Context, userID string, orderIDs []string) error {
	msgs := make([]kafka.Message, 0, len(orderIDs))
	for _, id := range orderIDs {
		msgs = append(msgs, p.message(ctx, TypeOrderPaid, id, encodePaid(id, userID, p.now())))
	}
	return p.write(ctx, msgs)
}

func (p *Publisher) write(ctx context.Context, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.producer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}

func (p *Publisher) message(ctx context.Context, typ, key string, payload []byte) kafka.Message {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier)+1)
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(typ)})
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   p.topic,
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	}
}

func encodePlaced(o *order.Order, at time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(TypeOrderPlaced)
	e.FieldStart("orderId")
	e.Str(o.ID)
	e.FieldStart("storeId")
	e.Str(o.StoreID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	e.FieldStart("total")
	e.Str(o.Total.StringFixed(2))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("at")
	e.Str(at.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

func encodePaid(orderID, userID string, at time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(TypeOrderPaid)
	e.FieldStart("orderId")
	e.Str(orderID)
	e.FieldStart("userId")
	e.Str(userID)
	e.FieldStart("at")
	e.Str(at.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

// Nop discards events. It is used when no brokers are configured.
type Nop struct{}

// OrdersPlaced implements the publisher contract.
func (Nop) OrdersPlaced(context.Context, []*order.Order) error { return nil }

// OrdersPaid implements the publisher contract.
func (Nop) OrdersPaid(context.Context, string, []string) error { return nil }

// BrokerCheck succeeds when any of brokers accepts a connection.
func BrokerCheck(brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		lastErr := errors.New("no brokers configured")
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = err
				continue
			}
			_ = conn.Close()
			return nil
		}
		return errors.Wrap(lastErr, "dial kafka")
	}
}
