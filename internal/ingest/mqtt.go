package ingest

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttSubscribeGrace = 2 * time.Second
)

// mqttAdapter holds one broker connection per connection entity and
// subscribes at QoS 0. Reconnection and backoff are delegated to the client;
// every reconnect replays the subscription set.
type mqttAdapter struct {
	client mqtt.Client
	emit   emitFunc
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]struct{}
}

func openMQTT(cfg Config, emit emitFunc, logger *slog.Logger) (*mqttAdapter, error) {
	a := &mqttAdapter{
		emit:   emit,
		logger: logger,
		topics: map[string]struct{}{cfg.Topic: {}},
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "edahub-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(func(mqtt.Client) { a.resubscribe() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
		})
	a.client = mqtt.NewClient(opts)
	token := a.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		a.client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: timeout", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		a.client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: %w", cfg.BrokerURL, err)
	}
	return a, nil
}

// Subscribe adds a topic to the subscription set, attaching it on the broker
// right away when connected. The connect handler can race topic additions,
// so a missed attach is retried once after a short grace delay.
func (a *mqttAdapter) Subscribe(topic string) {
	a.mu.Lock()
	if _, ok := a.topics[topic]; ok {
		a.mu.Unlock()
		return
	}
	a.topics[topic] = struct{}{}
	a.mu.Unlock()

	if a.client.IsConnected() {
		a.attach(topic)
		return
	}
	time.AfterFunc(mqttSubscribeGrace, func() {
		if a.client.IsConnected() {
			a.attach(topic)
		}
	})
}

func (a *mqttAdapter) resubscribe() {
	a.mu.Lock()
	topics := make([]string, 0, len(a.topics))
	for topic := range a.topics {
		topics = append(topics, topic)
	}
	a.mu.Unlock()
	for _, topic := range topics {
		a.attach(topic)
	}
}

func (a *mqttAdapter) attach(topic string) {
	token := a.client.Subscribe(topic, 0, a.onMessage)
	go func() {
		if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
			a.logger.Warn("mqtt subscribe failed", slog.String("topic", topic), slog.String("error", token.Error().Error()))
		}
	}()
}

func (a *mqttAdapter) onMessage(_ mqtt.Client, msg mqtt.Message) {
	a.emit(msg.Topic(), msg.Payload())
}

func (a *mqttAdapter) Close() error {
	a.client.Disconnect(250)
	return nil
}
