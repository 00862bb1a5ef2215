package main

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/ryansname/bmsbridge/src/telemetry"
)

// maxQueuedMessages bounds the backlog kept while the broker is unreachable
const maxQueuedMessages = 1000

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps the outgoing channel and publishes update batches as Signal K deltas
type MQTTSender struct {
	ch    chan<- MQTTMessage
	topic string
	now   func() time.Time
}

// NewMQTTSender creates a sender publishing deltas to topic
func NewMQTTSender(ch chan<- MQTTMessage, topic string) *MQTTSender {
	return &MQTTSender{ch: ch, topic: topic, now: time.Now}
}

// Send queues a raw MQTTMessage for the sender worker
func (s *MQTTSender) Send(ctx context.Context, msg MQTTMessage) error {
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish encodes one batch of updates as a single delta
func (s *MQTTSender) Publish(ctx context.Context, updates []telemetry.Update) error {
	payload, err := telemetry.MarshalDelta(updates, s.now())
	if err != nil {
		return errors.Wrap(err, "marshal delta")
	}

	return s.Send(ctx, MQTTMessage{
		Topic:   s.topic,
		Payload: payload,
		QoS:     0,
		Retain:  false,
	})
}

func publishMessage(client mqtt.Client, msg MQTTMessage) {
	token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	token.Wait()
	if token.Error() != nil {
		log.Error().Err(token.Error()).Str("topic", msg.Topic).Msg("Failed to publish")
	}
}

// mqttSenderWorker handles outgoing MQTT messages, queuing them until a client is connected
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Info().Msg("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	for {
		select {
		case newClient := <-clientChan:
			log.Debug().Msg("MQTT sender worker received new client")
			client = newClient

			// Flush the backlog now that we have a client
			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					publishMessage(client, msg)
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Info().Int("count", queuedCount).Msg("MQTT sender worker flushed queued messages")
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publishMessage(client, msg)
				continue
			}

			if len(messageQueue) >= maxQueuedMessages {
				messageQueue = messageQueue[1:]
				log.Warn().Str("topic", msg.Topic).Msg("MQTT queue full, dropping oldest message")
			}
			messageQueue = append(messageQueue, msg)
			log.Debug().Int("queued", len(messageQueue)).Msg("MQTT sender worker queued message")

		case <-ctx.Done():
			log.Info().Int("unsent", len(messageQueue)).Msg("MQTT sender worker stopped")
			return
		}
	}
}
