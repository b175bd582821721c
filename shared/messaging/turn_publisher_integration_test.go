package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"vnml-server/shared/interfaces"
	"vnml-server/shared/messaging"
	"vnml-server/shared/models"

	"github.com/docker/docker/client"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestRabbitMQTurnPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		t.Skipf("Docker client init error: %v", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Skipf("Docker daemon is not running or accessible: %v", err)
	}
	cli.Close()

	ctx := context.Background()
	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)
	conn, err := amqp091.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	publisher, err := messaging.NewRabbitMQTurnPublisher(conn, "vnml.turns.test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = publisher.Close() })

	// Подписчик: временная очередь, привязанная к exchange.
	ch, err := conn.Channel()
	require.NoError(t, err)
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "", "vnml.turns.test", false, nil))
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	turn := models.Turn{Seq: 2, Options: models.OptionsBlock{Title: "Now?", Options: []models.Option{{Text: "Leave"}}}}
	require.NoError(t, publisher.PublishTurnEvent(ctx, interfaces.TurnEvent{
		EventType: interfaces.TurnEventCommitted,
		SessionID: "s-1",
		Seq:       2,
		Turn:      &turn,
	}))

	select {
	case d := <-deliveries:
		assert.Equal(t, "application/json", d.ContentType)
		assert.Equal(t, string(interfaces.TurnEventCommitted), d.Type)
		var got interfaces.TurnEvent
		require.NoError(t, json.Unmarshal(d.Body, &got))
		assert.Equal(t, "s-1", got.SessionID)
		assert.Equal(t, 2, got.Seq)
		require.NotNil(t, got.Turn)
		assert.Equal(t, "Leave", got.Turn.Options.Options[0].Text)
		assert.False(t, got.Timestamp.IsZero())
	case <-time.After(10 * time.Second):
		t.Fatal("turn event was not delivered")
	}
}
