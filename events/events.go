package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/furdarius/rabbitroutine"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// DispatchEvent is published after a successful send so downstream consumers
// (reporting, billing) can account for the message.
//
//	{
//		  "message_id": "msg-123",
//		  "request_id": "4421a2a5-91f8-4b6c-9077-b51ec00dbb1e",
//		  "channel_registration_id": "4bce1aca-81cc-48fd-b78d-5bc19a9a37a7",
//		  "to": "+972501234567",
//		  "template_name": "order_update",
//		  "sent_on": "2024-03-08T16:08:19Z"
//	 }
type DispatchEvent struct {
	MessageID             string `json:"message_id,omitempty"`
	RequestID             string `json:"request_id,omitempty"`
	ChannelDefinitionID   string `json:"channel_definition_id,omitempty"`
	ChannelRegistrationID string `json:"channel_registration_id,omitempty"`
	From                  string `json:"from,omitempty"`
	To                    string `json:"to,omitempty"`
	TemplateName          string `json:"template_name,omitempty"`
	SentOn                string `json:"sent_on,omitempty"`
}

// Client represents a client interface for the dispatch events exchange
type Client interface {
	Publish(event DispatchEvent) error
	PublishAsync(event DispatchEvent, pre func(), post func())
}

// rabbitmqRetryClient implements Client over RabbitMQ with publish retry and
// reconnect features
type rabbitmqRetryClient struct {
	publisher rabbitroutine.Publisher
	conn      *rabbitroutine.Connector
	queueName string
}

// NewRMQDispatchEventsClient creates a dispatch events client publishing to the
// named queue, verifying the broker is reachable before returning
func NewRMQDispatchEventsClient(url string, retryAttempts int, retryDelay int, queueName string) (Client, error) {
	cconn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	defer cconn.Close()

	ch, err := cconn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open a channel to rabbitmq")
	}
	defer ch.Close()
	_, err = ch.QueueDeclare(
		queueName,
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to declare a queue for dispatch events")
	}

	conn := rabbitroutine.NewConnector(rabbitroutine.Config{
		ReconnectAttempts: 1000,
		Wait:              2 * time.Second,
	})

	conn.AddRetriedListener(func(r rabbitroutine.Retried) {
		logrus.Infof("try to connect to RabbitMQ: attempt=%d, error=\"%v\"",
			r.ReconnectAttempt, r.Error)
	})

	conn.AddDialedListener(func(_ rabbitroutine.Dialed) {
		logrus.Info("RabbitMQ connection successfully established")
	})

	conn.AddAMQPNotifiedListener(func(n rabbitroutine.AMQPNotified) {
		logrus.Errorf("RabbitMQ error received: %v", n.Error)
	})

	pool := rabbitroutine.NewPool(conn)
	ensurePub := rabbitroutine.NewEnsurePublisher(pool)
	pub := rabbitroutine.NewRetryPublisher(
		ensurePub,
		rabbitroutine.PublishMaxAttemptsSetup(uint(retryAttempts)),
		rabbitroutine.PublishDelaySetup(
			rabbitroutine.LinearDelay(time.Duration(retryDelay)*time.Millisecond),
		),
	)

	go func() {
		err := conn.Dial(context.Background(), url)
		if err != nil {
			logrus.Error("failed to establish RabbitMQ connection")
		}
	}()

	return &rabbitmqRetryClient{
		publisher: pub,
		conn:      conn,
		queueName: queueName,
	}, nil
}

func (c *rabbitmqRetryClient) Publish(event DispatchEvent) error {
	marshalled, _ := json.Marshal(event)
	ctx := context.Background()
	err := c.publisher.Publish(
		ctx,
		"",
		c.queueName,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        marshalled,
		},
	)
	if err != nil {
		return errors.Wrap(err, "failed to publish dispatch event")
	}
	return nil
}

func (c *rabbitmqRetryClient) PublishAsync(event DispatchEvent, pre func(), post func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.Error(fmt.Sprintf("Recovering from: %v", r))
			}
		}()
		if pre != nil {
			pre()
		}
		err := c.Publish(event)
		if err != nil {
			logrus.WithError(err).Error("fail to publish dispatch event")
		}
		if post != nil {
			post()
		}
	}()
}

// NullClient drops all events, used when no broker is configured.
type NullClient struct{}

func (c NullClient) Publish(event DispatchEvent) error { return nil }

func (c NullClient) PublishAsync(event DispatchEvent, pre func(), post func()) {
	if pre != nil {
		pre()
	}
	if post != nil {
		post()
	}
}
