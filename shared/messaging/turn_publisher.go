package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vnml-server/shared/interfaces"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// DefaultTurnsExchange - имя fanout exchange для событий ходов.
const DefaultTurnsExchange = "vnml.turns"

var _ interfaces.TurnEventPublisher = (*RabbitMQTurnPublisher)(nil)

// RabbitMQTurnPublisher публикует события ходов в fanout exchange RabbitMQ.
// Подписчики (аналитика, озвучка, архив) привязывают свои очереди к exchange сами.
type RabbitMQTurnPublisher struct {
	ch       *amqp091.Channel
	exchange string
}

// NewRabbitMQTurnPublisher открывает канал и объявляет exchange.
// Соединение conn принадлежит вызывающему коду.
func NewRabbitMQTurnPublisher(conn *amqp091.Connection, exchange string) (*RabbitMQTurnPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	if exchange == "" {
		exchange = DefaultTurnsExchange
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open a channel")
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		log.Error().Err(err).Str("exchange", exchange).Msg("Failed to declare exchange")
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("Turn events exchange declared successfully")
	return &RabbitMQTurnPublisher{ch: ch, exchange: exchange}, nil
}

// PublishTurnEvent публикует событие хода.
func (p *RabbitMQTurnPublisher) PublishTurnEvent(ctx context.Context, event interfaces.TurnEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("Failed to marshal turn event")
		return fmt.Errorf("failed to marshal turn event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		"",         // routing key (не используется для fanout)
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Type:         string(event.EventType),
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Int("seq", event.Seq).Msg("Failed to publish turn event")
		return fmt.Errorf("failed to publish turn event: %w", err)
	}

	log.Debug().
		Str("event_type", string(event.EventType)).
		Str("session_id", event.SessionID).
		Int("seq", event.Seq).
		Msg("Turn event published")
	return nil
}

// Close закрывает канал RabbitMQ.
func (p *RabbitMQTurnPublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
