// Package mqtt bridges the instrument gateway to an MQTT broker:
// readings and setting changes go out, set commands come in.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"benchlink/internal/gateway"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge connects the gateway event bus to MQTT.
type Bridge struct {
	client pahomqtt.Client
	gw     *gateway.Gateway
	prefix string
	logger *slog.Logger
	unsub  func()
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(gw *gateway.Gateway, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(gw, cfg, logger)

	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return b, nil
}

// newBridge builds the bridge with its client fully assigned. The
// OnConnect handler publishes through b.client, so the field must be
// set before Connect is ever called: a fast broker can fire the
// handler before Connect returns.
func newBridge(gw *gateway.Gateway, cfg Config, logger *slog.Logger) *Bridge {
	b := &Bridge{
		gw:     gw,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("benchlink").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/status", "offline", 1, true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	return b
}

// onConnect runs on every (re)connection: announce availability and
// restore the command subscriptions the broker dropped.
func (b *Bridge) onConnect(_ pahomqtt.Client) {
	b.logger.Info("MQTT connected")
	b.publish(b.prefix+"/status", []byte("online"), true)
	b.subscribeCommands()
}

// Start subscribes to gateway events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.gw.Events().Subscribe(b.handleEvent,
		gateway.EventReading, gateway.EventSettingChanged, gateway.EventInstrumentError)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.prefix+"/status", []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event gateway.Event) {
	switch event.Type {
	case gateway.EventReading:
		b.publish(b.prefix+"/reading", mustJSON(event.Reading), false)
	case gateway.EventSettingChanged:
		if event.Setting == "" {
			return
		}
		b.publish(settingTopic(b.prefix, event.Setting), mustJSON(event.Value), true)
	case gateway.EventInstrumentError:
		b.publish(b.prefix+"/error", mustJSON(event.Message), false)
	}
}

// subscribeCommands listens for inbound set and measure commands.
// Topic layout: <prefix>/set/<setting path> with the value as payload,
// and <prefix>/measure with any payload to trigger a reading.
func (b *Bridge) subscribeCommands() {
	setTopic := b.prefix + "/set/#"
	token := b.client.Subscribe(setTopic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		name := settingFromTopic(b.prefix, msg.Topic())
		value := string(msg.Payload())
		if err := b.gw.ApplySetting(name, value); err != nil {
			b.logger.Warn("apply setting from MQTT", "setting", name, "value", value, "err", err)
			return
		}
		b.logger.Info("setting applied from MQTT", "setting", name, "value", value)
	})
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		b.logger.Error("subscribe", "topic", setTopic, "err", token.Error())
	}

	measureTopic := b.prefix + "/measure"
	token = b.client.Subscribe(measureTopic, 1, func(_ pahomqtt.Client, _ pahomqtt.Message) {
		if _, err := b.gw.Measure(); err != nil {
			b.logger.Warn("measure from MQTT", "err", err)
		}
	})
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		b.logger.Error("subscribe", "topic", measureTopic, "err", token.Error())
	}
}

func (b *Bridge) publish(topic string, payload []byte, retain bool) {
	token := b.client.Publish(topic, 0, retain, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			b.logger.Warn("publish", "topic", topic, "err", err)
		}
	}()
}

// settingTopic maps a dotted setting name onto the topic tree, e.g.
// "filter.count" -> "<prefix>/settings/filter/count".
func settingTopic(prefix, name string) string {
	return prefix + "/settings/" + strings.ReplaceAll(name, ".", "/")
}

// settingFromTopic is the inverse mapping for inbound set commands.
func settingFromTopic(prefix, topic string) string {
	name := strings.TrimPrefix(topic, prefix+"/set/")
	return strings.ReplaceAll(name, "/", ".")
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}
