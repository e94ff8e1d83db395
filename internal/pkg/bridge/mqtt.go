package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"app-swap-go/internal/pkg/logger"
)

// ClientConfig holds MQTT connection settings for the MQTT-backed channel.
type ClientConfig struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	KeepAlive int // seconds
}

// MQTTChannel implements Channel over a real MQTT broker connection. The
// mqtt* commands map onto broker operations; inbound broker messages are
// wrapped in a {topic, message} envelope and delivered to the handler
// registered for EventMqttMsgArrived. BLE commands are not available on this
// channel and are rejected with a non-200 acknowledgment.
type MQTTChannel struct {
	client pahomqtt.Client
	cfg    ClientConfig
	lc     logger.LoggingClient

	handlers map[string]Handler
	mu       sync.RWMutex

	// topics this channel is currently subscribed to, re-subscribed on
	// broker reconnect
	subs   map[string]struct{}
	subsMu sync.Mutex
}

// NewMQTTChannel creates an MQTT-backed channel. Connect must be called
// before commands are issued.
func NewMQTTChannel(cfg ClientConfig, lc logger.LoggingClient) *MQTTChannel {
	return &MQTTChannel{
		cfg:      cfg,
		lc:       lc,
		handlers: make(map[string]Handler),
		subs:     make(map[string]struct{}),
	}
}

// Connect establishes the broker connection.
func (c *MQTTChannel) Connect() error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
	}
	if c.cfg.Password != "" {
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(time.Duration(c.cfg.KeepAlive) * time.Second)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(pc pahomqtt.Client) {
		c.lc.Info("MQTT connected, re-subscribing topics")
		c.resubscribe()
	})
	opts.SetConnectionLostHandler(func(pc pahomqtt.Client, err error) {
		c.lc.Warn("MQTT connection lost:", "error", err.Error())
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}
	c.lc.Info("MQTT connected to broker:", "broker", c.cfg.Broker)
	return nil
}

// Disconnect cleanly disconnects from the broker.
func (c *MQTTChannel) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(1000)
		c.lc.Info("MQTT disconnected")
	}
}

// IsConnected reports whether the broker connection is up.
func (c *MQTTChannel) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// RegisterHandler installs h for the named event, replacing any previous
// handler.
func (c *MQTTChannel) RegisterHandler(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// UnregisterHandler removes the handler for the named event.
func (c *MQTTChannel) UnregisterHandler(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// CallHandler executes a named command. The callback is invoked exactly once
// on a separate goroutine.
func (c *MQTTChannel) CallHandler(command string, payload interface{}, cb Callback) {
	if cb == nil {
		cb = func(Ack) {}
	}
	switch command {
	case CmdSubscribeTopic:
		go c.doSubscribe(payload, cb)
	case CmdPublishMessage:
		go c.doPublish(payload, cb)
	case CmdUnsubscribeTopic:
		go c.doUnsubscribe(payload, cb)
	default:
		go cb(AckFail("404", fmt.Sprintf("command %q not supported on MQTT channel", command)))
	}
}

func (c *MQTTChannel) doSubscribe(payload interface{}, cb Callback) {
	var p SubscribePayload
	if err := Decode(payload, &p); err != nil || p.Topic == "" {
		cb(AckFail("400", "invalid subscribe payload"))
		return
	}
	token := c.client.Subscribe(p.Topic, c.cfg.QoS, c.onMessage)
	token.Wait()
	if token.Error() != nil {
		cb(AckFail("500", token.Error().Error()))
		return
	}
	c.subsMu.Lock()
	c.subs[p.Topic] = struct{}{}
	c.subsMu.Unlock()
	c.lc.Debug("Subscribed to topic:", "topic", p.Topic)
	cb(AckOK())
}

func (c *MQTTChannel) doUnsubscribe(payload interface{}, cb Callback) {
	var p SubscribePayload
	if err := Decode(payload, &p); err != nil || p.Topic == "" {
		cb(AckFail("400", "invalid unsubscribe payload"))
		return
	}
	c.subsMu.Lock()
	delete(c.subs, p.Topic)
	c.subsMu.Unlock()
	token := c.client.Unsubscribe(p.Topic)
	token.Wait()
	if token.Error() != nil {
		cb(AckFail("500", token.Error().Error()))
		return
	}
	cb(AckOK())
}

func (c *MQTTChannel) doPublish(payload interface{}, cb Callback) {
	var p PublishPayload
	if err := Decode(payload, &p); err != nil || p.Topic == "" {
		cb(AckFail("400", "invalid publish payload"))
		return
	}
	data, err := json.Marshal(p.Content)
	if err != nil {
		cb(AckFail("400", fmt.Sprintf("failed to serialize content: %s", err.Error())))
		return
	}
	token := c.client.Publish(p.Topic, byte(p.Qos), false, data)
	token.Wait()
	if token.Error() != nil {
		cb(AckFail("500", token.Error().Error()))
		return
	}
	c.lc.Debugf("Published message to %s", p.Topic)
	cb(AckOK())
}

// onMessage wraps a broker message into the channel envelope and hands it to
// the registered message-arrived handler.
func (c *MQTTChannel) onMessage(client pahomqtt.Client, msg pahomqtt.Message) {
	c.mu.RLock()
	h, ok := c.handlers[EventMqttMsgArrived]
	c.mu.RUnlock()
	if !ok {
		c.lc.Debug("Dropping message, no handler registered:", "topic", msg.Topic())
		return
	}

	envelope, err := json.Marshal(map[string]interface{}{
		"topic":   msg.Topic(),
		"message": json.RawMessage(msg.Payload()),
	})
	if err != nil {
		// payload was not valid JSON; forward it as a string
		envelope, _ = json.Marshal(map[string]interface{}{
			"topic":   msg.Topic(),
			"message": string(msg.Payload()),
		})
	}
	h(envelope)
}

func (c *MQTTChannel) resubscribe() {
	c.subsMu.Lock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	c.subsMu.Unlock()

	for _, t := range topics {
		token := c.client.Subscribe(t, c.cfg.QoS, c.onMessage)
		token.Wait()
		if token.Error() != nil {
			c.lc.Errorf("Re-subscribe to %s failed: %s", t, token.Error().Error())
		}
	}
}
