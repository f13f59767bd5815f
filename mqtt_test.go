package main

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken 立即完成的 token
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                       { return !t.timeout }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                     { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type publishedMessage struct {
	topic   string
	qos     byte
	payload []byte
}

// fakePublisher 記錄發布的訊息
type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	token    *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{topic: topic, qos: qos, payload: payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return &fakeToken{}
}

func (p *fakePublisher) last() publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[len(p.messages)-1]
}

func newTestLink(cache *TopicCache) (*MQTTLink, *fakePublisher) {
	cfg := DefaultConfig().MQTT
	link := NewMQTTLink(cfg, cache, nil)
	pub := &fakePublisher{}
	link.publisher = pub
	return link, pub
}

func TestMQTTLink_HandleMessage(t *testing.T) {
	cache := DefaultTopicCache()
	link, _ := newTestLink(cache)

	link.handleMessage("panasonic_heat_pump/main/Outside_Temp", []byte("4.5"))
	link.handleMessage("panasonic_heat_pump/extra/Heat_Power_Production_Extra", []byte("3100"))
	link.handleMessage("panasonic_heat_pump/optional/Alarm_State", []byte("1"))

	text, ok := cache.TopicText(SourceMain, 14)
	assert.True(t, ok)
	assert.Equal(t, "4.5", text)

	text, ok = cache.TopicText(SourceExtra, 3)
	assert.True(t, ok)
	assert.Equal(t, "3100", text)

	text, ok = cache.TopicText(SourceOptional, 6)
	assert.True(t, ok)
	assert.Equal(t, "1", text)

	received, ignored := link.Received()
	assert.Equal(t, uint64(3), received)
	assert.Zero(t, ignored)
}

func TestMQTTLink_HandleMessageIgnored(t *testing.T) {
	cache := DefaultTopicCache()
	link, _ := newTestLink(cache)

	for _, topic := range []string{
		"other/main/Outside_Temp",
		"panasonic_heat_pump/main",
		"panasonic_heat_pump/main/",
		"panasonic_heat_pump/weather/Outside_Temp",
		"panasonic_heat_pump/main/No_Such_Topic",
		"panasonic_heat_pump/main/Outside_Temp/raw",
		"panasonic_heat_pump/commands/SetDHWTemp",
	} {
		link.handleMessage(topic, []byte("1"))
	}

	received, ignored := link.Received()
	assert.Zero(t, received)
	assert.Equal(t, uint64(7), ignored)
	_, n := cache.LastUpdate()
	assert.Zero(t, n)
}

func TestMQTTLink_SendCommand(t *testing.T) {
	link, pub := newTestLink(DefaultTopicCache())

	require.NoError(t, link.SendCommand("SetDHWTemp", "-200", false))
	msg := pub.last()
	assert.Equal(t, "panasonic_heat_pump/commands/SetDHWTemp", msg.topic)
	assert.Equal(t, "-200", string(msg.payload))
}

func TestMQTTLink_SendCommandAlternate(t *testing.T) {
	link, pub := newTestLink(DefaultTopicCache())

	require.NoError(t, link.SendCommand("SetQuietMode", "2", true))
	msg := pub.last()
	assert.Equal(t, "panasonic_heat_pump/commands", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var env commandEnvelope
	require.NoError(t, json.Unmarshal(msg.payload, &env))
	assert.Equal(t, commandEnvelope{Command: "SetQuietMode", Value: "2"}, env)
}

func TestMQTTLink_SetRelay(t *testing.T) {
	link, pub := newTestLink(DefaultTopicCache())

	require.NoError(t, link.SetRelay(true))
	assert.Equal(t, "panasonic_heat_pump/gpio/relay/one", pub.last().topic)
	assert.Equal(t, "1", string(pub.last().payload))

	require.NoError(t, link.SetRelay(false))
	assert.Equal(t, "0", string(pub.last().payload))
}

func TestMQTTLink_PublishErrors(t *testing.T) {
	link := NewMQTTLink(DefaultConfig().MQTT, DefaultTopicCache(), nil)
	assert.Error(t, link.SendCommand("SetDHWTemp", "50", false), "尚未連線")

	link, pub := newTestLink(DefaultTopicCache())
	pub.token = &fakeToken{err: errors.New("not authorized")}
	assert.Error(t, link.SendCommand("SetDHWTemp", "50", false))

	pub.token = &fakeToken{timeout: true}
	assert.Error(t, link.SetRelay(true))
}

func TestMQTTLink_BaseTopicTrailingSlash(t *testing.T) {
	cfg := DefaultConfig().MQTT
	cfg.BaseTopic = "hp/"
	link := NewMQTTLink(cfg, DefaultTopicCache(), nil)
	pub := &fakePublisher{}
	link.publisher = pub

	require.NoError(t, link.SendCommand("SetHeatpump", "1", false))
	assert.Equal(t, "hp/commands/SetHeatpump", pub.last().topic)

	link.handleMessage("hp/main/Heatpump_State", []byte("1"))
	received, _ := link.Received()
	assert.Equal(t, uint64(1), received)
}

func TestMQTTLink_CommandPath(t *testing.T) {
	cache := DefaultTopicCache()
	link, pub := newTestLink(cache)

	partition := newTestPartition(t)
	handler := NewRequestHandler(partition, cache, NewTopicDiagnosticGate(),
		NewCommandDispatcher(partition, link, nil), link)

	require.NoError(t, handler.WriteSingleRegister(2010, 50))
	assert.Equal(t, "panasonic_heat_pump/commands/SetDHWTemp", pub.last().topic)
	assert.Equal(t, "50", string(pub.last().payload))

	require.NoError(t, handler.WriteSingleCoil(1, CoilStateOn))
	assert.Equal(t, "panasonic_heat_pump/gpio/relay/one", pub.last().topic)
}
