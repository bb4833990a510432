package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys used on the exchange.
const (
	RoutingBidPlaced      = "bid.placed"
	RoutingWalletCredited = "wallet.credited"
)

// publishBuffer is how many events may wait for the broker before new ones
// are dropped.
const publishBuffer = 1024

// AMQPPublisher publishes events as persistent JSON messages to a durable
// topic exchange. Publish only queues the event; a single worker delivers
// them in order, so a slow broker never delays the caller.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	timeout  time.Duration

	send     func(context.Context, Event) error
	queue    chan Event
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAMQPPublisher dials url, declares the exchange and starts the delivery
// worker.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		timeout:  2 * time.Second,
	}
	p.send = p.publish
	p.start()
	return p, nil
}

func (p *AMQPPublisher) start() {
	p.queue = make(chan Event, publishBuffer)
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.run()
}

func (p *AMQPPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ev)
		case <-p.stop:
			for {
				select {
				case ev := <-p.queue:
					p.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *AMQPPublisher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.send(ctx, ev); err != nil {
		slog.Warn("event publish failed", "type", ev.Type, "err", err)
	}
}

// Publish queues ev for delivery and returns immediately. Events are
// dropped when the queue is full or the publisher is closed.
func (p *AMQPPublisher) Publish(_ context.Context, ev Event) {
	select {
	case <-p.stop:
		return
	default:
	}
	select {
	case p.queue <- ev:
	default:
		slog.Warn("event queue full, dropping event", "type", ev.Type, "auction", ev.AuctionID)
	}
}

// publish sends ev with a routing key derived from its type.
func (p *AMQPPublisher) publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,     // exchange
		routingKey(ev), // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.Timestamp,
			Body:         body,
		})
}

// Close stops accepting events, delivers those already queued, then closes
// the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()

	if p.channel == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func routingKey(ev Event) string {
	switch ev.Type {
	case TypeBidPlaced:
		return RoutingBidPlaced
	case TypeWalletCredited:
		return RoutingWalletCredited
	}
	return ev.Type
}
