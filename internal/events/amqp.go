package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const relayExchange = "swarmfuzz.discoveries"

// AMQPRelay forwards discoveries between brokers on different machines
// through a fanout exchange. Stats stay machine-local; only NewTestcase
// and Objective events cross the wire. Incoming remote discoveries are
// injected into the local broker's rebroadcast set.
type AMQPRelay struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	logger   *zap.Logger
	brokerID string
}

func NewAMQPRelay(url, brokerID string, logger *zap.Logger) (*AMQPRelay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(relayExchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	return &AMQPRelay{conn: conn, ch: ch, logger: logger.Named("relay"), brokerID: brokerID}, nil
}

// Forward publishes a local discovery for remote brokers.
func (r *AMQPRelay) Forward(ev *Event) {
	if ev.Kind != KindNewTestcase && ev.Kind != KindObjective {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("failed to marshal relay event", zap.Error(err))
		return
	}
	err = r.ch.PublishWithContext(context.Background(), relayExchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		AppId:       r.brokerID,
		Body:        body,
	})
	if err != nil {
		r.logger.Warn("failed to relay event", zap.Error(err))
	}
}

// Consume injects discoveries from remote brokers into the local broker
// until ctx is done.
func (r *AMQPRelay) Consume(ctx context.Context, broker *Broker) error {
	q, err := r.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("events: declare relay queue: %w", err)
	}
	if err := r.ch.QueueBind(q.Name, "", relayExchange, false, nil); err != nil {
		return fmt.Errorf("events: bind relay queue: %w", err)
	}
	deliveries, err := r.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("events: consume relay queue: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("events: relay delivery channel closed")
			}
			if d.AppId == r.brokerID {
				continue // our own publication echoed back
			}
			ev := &Event{}
			if err := json.Unmarshal(d.Body, ev); err != nil {
				r.logger.Warn("dropping malformed relay event", zap.Error(err))
				continue
			}
			broker.Inject(ev)
		}
	}
}

func (r *AMQPRelay) Close() {
	r.ch.Close()
	r.conn.Close()
}
