package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "salonsync_appointments"

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("amqp notifier closed")

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// session is one connection and its publishing channel. lost fires when the
// broker closes either of them.
type session struct {
	pub      publisher
	close    func() error
	chLost   <-chan *amqp.Error
	connLost <-chan *amqp.Error
}

func (s *session) alive() bool {
	select {
	case <-s.chLost:
		return false
	case <-s.connLost:
		return false
	default:
		return true
	}
}

// AMQP publishes events to a durable queue through the default exchange.
// A connection or channel dropped by the broker is redialed on the next
// Notify.
type AMQP struct {
	mu     sync.Mutex
	url    string
	queue  string
	dial   func(url, queue string) (*session, error)
	s      *session
	closed bool
}

// DialAMQP connects, opens a channel and declares the queue.
func DialAMQP(url, queue string) (*AMQP, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	a := &AMQP{url: url, queue: queue, dial: dialSession}
	s, err := a.dial(url, queue)
	if err != nil {
		return nil, err
	}
	a.s = s
	return a, nil
}

func dialSession(url, queue string) (*session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &session{
		pub: ch,
		close: func() error {
			ch.Close()
			return conn.Close()
		},
		chLost:   ch.NotifyClose(make(chan *amqp.Error, 1)),
		connLost: conn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

// Queue returns the declared queue name.
func (a *AMQP) Queue() string { return a.queue }

// live returns a live session, redialing when the broker dropped the last
// one. Callers hold a.mu.
func (a *AMQP) live() (*session, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.s != nil && a.s.alive() {
		return a.s, nil
	}
	if a.s != nil {
		a.s.close()
		a.s = nil
	}
	s, err := a.dial(a.url, a.queue)
	if err != nil {
		return nil, fmt.Errorf("reconnect: %w", err)
	}
	a.s = s
	return s, nil
}

func (a *AMQP) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// Channels are not safe for concurrent publishing.
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.live()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", a.queue, err)
	}
	err = s.pub.PublishWithContext(ctx,
		"",      // default exchange
		a.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.IdempotencyKey,
			Type:         string(ev.Kind),
			Timestamp:    ev.At,
			Body:         body,
		},
	)
	if errors.Is(err, amqp.ErrClosed) {
		s.close()
		a.s = nil
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", a.queue, err)
	}
	return nil
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.s == nil {
		return nil
	}
	err := a.s.close()
	a.s = nil
	return err
}
