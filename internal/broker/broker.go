// internal/broker/broker.go

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orgoj/amqpgelf/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned when a connection or channel has been shut down.
var ErrClosed = amqp.ErrClosed

// Connection is a broker connection able to open channels.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Channel publishes message bodies to exchanges. Channels are not safe for
// concurrent use; a single goroutine must own each one.
type Channel interface {
	ExchangeDeclare(spec config.ExchangeSpec) error
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	Close() error
}

// Dialer opens a connection to the broker at url.
type Dialer func(ctx context.Context, url string) (Connection, error)

// DialAMQP returns a Dialer backed by amqp091-go. A zero timeout uses the
// library's default dial timeout.
func DialAMQP(connectionName string, timeout time.Duration) Dialer {
	return func(ctx context.Context, url string) (Connection, error) {
		cfg := amqp.Config{
			Properties: amqp.NewConnectionProperties(),
		}
		if connectionName != "" {
			cfg.Properties.SetClientConnectionName(connectionName)
		}
		if timeout > 0 {
			cfg.Dial = amqp.DefaultDial(timeout)
		}

		type result struct {
			conn *amqp.Connection
			err  error
		}
		done := make(chan result, 1)
		go func() {
			conn, err := amqp.DialConfig(url, cfg)
			done <- result{conn, err}
		}()

		select {
		case r := <-done:
			if r.err != nil {
				return nil, fmt.Errorf("failed to connect to AMQP broker: %w", r.err)
			}
			return &amqpConnection{conn: r.conn}, nil
		case <-ctx.Done():
			// Close the connection if the dial completes after we gave up.
			go func() {
				if r := <-done; r.conn != nil {
					_ = r.conn.Close()
				}
			}()
			return nil, fmt.Errorf("failed to connect to AMQP broker: %w", ctx.Err())
		}
	}
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConnection) Close() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) ExchangeDeclare(spec config.ExchangeSpec) error {
	err := c.ch.ExchangeDeclare(
		spec.Name,
		spec.Type,
		spec.Durable,
		spec.AutoDelete,
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", spec.Name, err)
	}
	return nil
}

// Publish sends body as-is: no headers and no content type are set.
func (c *amqpChannel) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	return c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		Body: body,
	})
}

func (c *amqpChannel) Close() error {
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
