package main

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ryansname/bmsbridge/src/config"
)

// statusTopic carries the retained online/offline state of the bridge
func statusTopic(cfg config.MQTTConfig) string {
	return cfg.Topic + "/status"
}

// clientID makes the configured id unique per run so two bridges never kick each other off
func clientID(cfg config.MQTTConfig) string {
	return cfg.ClientID + "-" + uuid.NewString()[:8]
}

// mqttWorker manages the MQTT connection and hands connected clients to the sender worker
func mqttWorker(
	ctx context.Context,
	cfg config.MQTTConfig,
	clientChan chan<- mqtt.Client,
) {
	broker := cfg.BrokerURL()
	status := statusTopic(cfg)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID(cfg))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWill(status, "offline", 1, true)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", broker).Msg("Connected to MQTT broker")
		client.Publish(status, 1, true, "online")

		select {
		case clientChan <- client:
		case <-ctx.Done():
		}
	})

	client := mqtt.NewClient(opts)

	log.Info().Str("broker", broker).Msg("Connecting to MQTT broker")
	// With ConnectRetry the token only completes once connected, keep going meanwhile
	client.Connect()

	<-ctx.Done()

	if client.IsConnected() {
		client.Publish(status, 1, true, "offline").WaitTimeout(time.Second)
		client.Disconnect(250)
		log.Info().Msg("Disconnected from MQTT broker")
	}
}
