package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TopicWriter 以主題名稱更新文字
type TopicWriter interface {
	SetByName(source TopicSource, name, text string) error
}

// mqttPublisher paho 客戶端中 MQTTLink 需要的部分
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// commandEnvelope 替代硬體型號的命令封裝
type commandEnvelope struct {
	Command string `json:"command"`
	Value   string `json:"value"`
}

// MQTTLink 與 HeishaMon 的 MQTT 連線
//
// 訂閱主題值寫入 TopicWriter，並實作 CommandSender 與 RelaySwitch。
type MQTTLink struct {
	config MQTTConfig
	writer TopicWriter
	logger *zap.Logger

	client    mqtt.Client
	publisher mqttPublisher

	received atomic.Uint64
	ignored  atomic.Uint64
}

// NewMQTTLink 建立 MQTT 連線 (尚未連線)
func NewMQTTLink(cfg MQTTConfig, writer TopicWriter, logger *zap.Logger) *MQTTLink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTLink{
		config: cfg,
		writer: writer,
		logger: logger,
	}
}

// Connect 連線至 broker 並訂閱主題
func (l *MQTTLink) Connect() error {
	clientID := l.config.ClientID
	if clientID == "" {
		clientID = "heishabridge-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(l.config.Broker)
	if l.config.Username != "" {
		opts.SetUsername(l.config.Username)
		opts.SetPassword(l.config.Password)
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(l.config.ConnectTimeout)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		l.logger.Info("已連線至 MQTT broker", zap.String("broker", l.config.Broker))
		l.subscribe(c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.logger.Warn("MQTT 連線中斷", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(l.config.ConnectTimeout) {
		return fmt.Errorf("連線 MQTT broker %s 逾時", l.config.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("連線 MQTT broker %s 失敗: %w", l.config.Broker, err)
	}

	l.client = client
	l.publisher = client
	return nil
}

// Close 中斷連線
func (l *MQTTLink) Close() {
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(250)
	}
}

// Connected 是否已連線
func (l *MQTTLink) Connected() bool {
	return l.client != nil && l.client.IsConnected()
}

// Received 已接收與已忽略的主題訊息數
func (l *MQTTLink) Received() (uint64, uint64) {
	return l.received.Load(), l.ignored.Load()
}

func (l *MQTTLink) subscribe(c mqtt.Client) {
	for _, source := range ListTopicSources() {
		filter := l.topic(source.String(), "+")
		token := c.Subscribe(filter, l.config.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			l.handleMessage(msg.Topic(), msg.Payload())
		})
		if token.WaitTimeout(l.config.ConnectTimeout) && token.Error() != nil {
			l.logger.Warn("訂閱失敗", zap.String("topic", filter), zap.Error(token.Error()))
		}
	}
}

// handleMessage 解析 <base>/<source>/<Name> 並更新主題文字；未知主題忽略
func (l *MQTTLink) handleMessage(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, l.base()+"/")
	if !ok {
		l.ignored.Add(1)
		return
	}
	segment, name, ok := strings.Cut(rest, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		l.ignored.Add(1)
		return
	}
	source, ok := ParseTopicSource(segment)
	if !ok {
		l.ignored.Add(1)
		return
	}

	if err := l.writer.SetByName(source, name, string(payload)); err != nil {
		l.ignored.Add(1)
		l.logger.Debug("忽略主題", zap.String("topic", topic), zap.Error(err))
		return
	}
	l.received.Add(1)
}

// SendCommand 發布熱泵命令
func (l *MQTTLink) SendCommand(name, payload string, alternate bool) error {
	if alternate {
		body, err := json.Marshal(commandEnvelope{Command: name, Value: payload})
		if err != nil {
			return fmt.Errorf("封裝命令失敗: %w", err)
		}
		return l.publish(l.topic("commands"), 1, body)
	}
	return l.publish(l.topic("commands", name), l.config.QoS, []byte(payload))
}

// SetRelay 發布繼電器狀態
func (l *MQTTLink) SetRelay(on bool) error {
	payload := "0"
	if on {
		payload = "1"
	}
	return l.publish(l.topic(l.config.RelayTopic), l.config.QoS, []byte(payload))
}

func (l *MQTTLink) publish(topic string, qos byte, payload []byte) error {
	if l.publisher == nil {
		return errors.New("MQTT 尚未連線")
	}

	token := l.publisher.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(l.config.PublishTimeout) {
		return fmt.Errorf("發布 %s 逾時", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("發布 %s 失敗: %w", topic, err)
	}

	l.logger.Debug("已發布", zap.String("topic", topic), zap.ByteString("payload", payload))
	return nil
}

func (l *MQTTLink) base() string {
	return strings.TrimSuffix(l.config.BaseTopic, "/")
}

func (l *MQTTLink) topic(parts ...string) string {
	return l.base() + "/" + strings.Join(parts, "/")
}
