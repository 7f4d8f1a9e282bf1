// Package notify is the change-notification collaborator: row-change events
// published as JSON envelopes over MQTT, one topic per table and key.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// EventType mirrors the row-change kinds delivered by the storage backend.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Envelope is the wire format of one change event.
type Envelope struct {
	EventType EventType       `json:"event_type"`
	NewRow    json.RawMessage `json:"new_row,omitempty"`
}

// StatusTopic carries per-subject status-row changes.
func StatusTopic(subjectID string) string { return "companion/status/" + subjectID }

// WarningTopic carries per-subject warning inserts.
func WarningTopic(subjectID string) string { return "companion/warnings/" + subjectID }

// LinkTopic carries relationship changes scoped to one observer.
func LinkTopic(observerID string) string { return "companion/links/" + observerID }

// WarningTopicWildcard matches warning inserts across all subjects.
const WarningTopicWildcard = "companion/warnings/+"

// Client is the slice of the paho client the broker needs. It exists so
// tests can substitute a fake; *mqtt.Client satisfies it.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Broker publishes and subscribes change-event envelopes.
type Broker struct {
	client Client
	qos    byte
}

// NewBroker wraps an already-connected client.
func NewBroker(client Client) *Broker {
	return &Broker{client: client, qos: 1}
}

// Connect dials the MQTT broker and returns a ready Broker.
func Connect(brokerURL, clientID string) (*Broker, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("timed out connecting to mqtt broker")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker: %w", err)
	}
	return NewBroker(client), nil
}

// Publish marshals row into an envelope and sends it on topic.
func (b *Broker) Publish(topic string, eventType EventType, row interface{}) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshaling change event row: %w", err)
	}
	data, err := json.Marshal(Envelope{EventType: eventType, NewRow: payload})
	if err != nil {
		return fmt.Errorf("marshaling change event envelope: %w", err)
	}

	token := b.client.Publish(topic, b.qos, false, data)
	token.Wait()
	return token.Error()
}

// Subscribe delivers decoded envelopes on topic to fn and returns a
// disposable handle. Malformed payloads are logged and dropped.
func (b *Broker) Subscribe(topic string, fn func(Envelope)) (*Subscription, error) {
	token := b.client.Subscribe(topic, b.qos, func(_ mqtt.Client, msg mqtt.Message) {
		var env Envelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil {
			log.WithError(err).WithField("topic", msg.Topic()).Warn("Dropping malformed change event")
			return
		}
		fn(env)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return &Subscription{broker: b, topic: topic}, nil
}

// Close disconnects from the broker.
func (b *Broker) Close() {
	b.client.Disconnect(250)
}

// Subscription is a live change-event subscription. Close is idempotent and
// synchronous: after it returns no further callbacks fire.
type Subscription struct {
	broker *Broker
	topic  string
	once   sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Close tears the subscription down.
func (s *Subscription) Close() {
	s.once.Do(func() {
		token := s.broker.client.Unsubscribe(s.topic)
		token.Wait()
		if err := token.Error(); err != nil {
			log.WithError(err).WithField("topic", s.topic).Warn("Failed to unsubscribe")
		}
	})
}
