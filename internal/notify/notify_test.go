package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
)

type stubToken struct{ err error }

func (t *stubToken) Wait() bool                     { return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *stubToken) Error() error { return t.err }

type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

type stubClient struct {
	mu             sync.Mutex
	published      map[string][]byte
	handlers       map[string]mqtt.MessageHandler
	unsubscribes   int
	publishErr     error
	subscribeErr   error
	unsubscribeErr error
}

func newStubClient() *stubClient {
	return &stubClient{
		published: map[string][]byte{},
		handlers:  map[string]mqtt.MessageHandler{},
	}
}

func (c *stubClient) Connect() mqtt.Token     { return &stubToken{} }
func (c *stubClient) Disconnect(quiesce uint) {}

func (c *stubClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &stubToken{err: c.publishErr}
	}
	c.published[topic] = payload.([]byte)
	return &stubToken{}
}

func (c *stubClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return &stubToken{err: c.subscribeErr}
	}
	c.handlers[topic] = callback
	return &stubToken{}
}

func (c *stubClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribes++
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &stubToken{err: c.unsubscribeErr}
}

func (c *stubClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	handler := c.handlers[topic]
	c.mu.Unlock()
	if handler != nil {
		handler(nil, stubMessage{topic: topic, payload: payload})
	}
}

func TestPublish_WrapsRowInEnvelope(t *testing.T) {
	client := newStubClient()
	broker := NewBroker(client)

	row := map[string]string{"subject_id": "subj-1"}
	assert.NoError(t, broker.Publish(StatusTopic("subj-1"), EventUpdate, row))

	payload, ok := client.published["companion/status/subj-1"]
	if !assert.True(t, ok) {
		return
	}

	var env Envelope
	assert.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, EventUpdate, env.EventType)

	var got map[string]string
	assert.NoError(t, json.Unmarshal(env.NewRow, &got))
	assert.Equal(t, row, got)
}

func TestPublish_UnmarshalableRow(t *testing.T) {
	broker := NewBroker(newStubClient())
	assert.Error(t, broker.Publish("t", EventInsert, func() {}))
}

func TestPublish_TokenError(t *testing.T) {
	client := newStubClient()
	client.publishErr = errors.New("broker gone")
	broker := NewBroker(client)

	assert.Error(t, broker.Publish("t", EventInsert, map[string]int{"a": 1}))
}

func TestSubscribe_DeliversDecodedEnvelopes(t *testing.T) {
	client := newStubClient()
	broker := NewBroker(client)

	var mu sync.Mutex
	var received []Envelope
	sub, err := broker.Subscribe(WarningTopicWildcard, func(env Envelope) {
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
	})
	assert.NoError(t, err)
	defer sub.Close()

	client.deliver(WarningTopicWildcard, []byte(`{"event_type":"INSERT","new_row":{"level":3}}`))
	// Malformed payloads are dropped without reaching the callback.
	client.deliver(WarningTopicWildcard, []byte(`{not json`))

	mu.Lock()
	defer mu.Unlock()
	if assert.Len(t, received, 1) {
		assert.Equal(t, EventInsert, received[0].EventType)
	}
}

func TestSubscribe_SetupError(t *testing.T) {
	client := newStubClient()
	client.subscribeErr = errors.New("not authorized")
	broker := NewBroker(client)

	sub, err := broker.Subscribe("t", func(Envelope) {})
	assert.Error(t, err)
	assert.Nil(t, sub)
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	client := newStubClient()
	broker := NewBroker(client)

	sub, err := broker.Subscribe("t", func(Envelope) {})
	assert.NoError(t, err)
	assert.Equal(t, "t", sub.Topic())

	sub.Close()
	sub.Close()
	assert.Equal(t, 1, client.unsubscribes)

	// No callbacks after teardown.
	client.deliver("t", []byte(`{"event_type":"UPDATE"}`))
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "companion/status/s1", StatusTopic("s1"))
	assert.Equal(t, "companion/warnings/s1", WarningTopic("s1"))
	assert.Equal(t, "companion/links/o1", LinkTopic("o1"))
}
