// Package mqtt bridges the board to an MQTT broker: bus events go out as
// messages, and RPC requests come in on a request topic.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/preesu/boardd/internal/board"
	"github.com/preesu/boardd/internal/config"
	"github.com/preesu/boardd/internal/events"
	"github.com/preesu/boardd/internal/rpc"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// Client is the part of paho.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Dispatcher answers RPC frames.
type Dispatcher interface {
	Dispatch(ctx context.Context, f rpc.Frame) rpc.Response
}

// StatusReader reads the board without side effects.
type StatusReader interface {
	Snapshot(ctx context.Context) (board.Status, error)
}

// Bridge publishes events and serves RPC requests over MQTT.
type Bridge struct {
	client Client
	prefix string
	rpc    Dispatcher
	status StatusReader
	logger *logrus.Entry
}

// NewBridge creates a Bridge publishing under prefix. status may be nil, in
// which case telemetry requests publish only the event.
func NewBridge(client Client, prefix string, d Dispatcher, status StatusReader, logger *logrus.Entry) *Bridge {
	return &Bridge{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		rpc:    d,
		status: status,
		logger: logger,
	}
}

// AvailabilityTopic carries "online" or "offline", retained.
func (b *Bridge) AvailabilityTopic() string { return b.prefix + "/status" }

func (b *Bridge) requestTopic() string { return b.prefix + "/rpc/request/+" }

// Connect builds a paho client from cfg and connects it. onConnect runs on
// every (re)connection, so subscriptions made there survive broker restarts.
func Connect(cfg config.MQTTConfig, deviceID string, onConnect func(paho.Client), logger *logrus.Entry) (paho.Client, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = deviceID
	}
	availTopic := strings.TrimSuffix(cfg.TopicPrefix, "/") + "/status"

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Pass)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetWill(availTopic, "offline", 1, true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		logger.Infof("Connected to MQTT broker %s", cfg.Broker)
		c.Publish(availTopic, 1, true, "online")
		if onConnect != nil {
			onConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warnf("MQTT connection lost: %v", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		// ConnectRetry keeps trying in the background.
		logger.Warnf("MQTT broker %s not reachable yet", cfg.Broker)
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connection failed: %w", err)
	}
	return client, nil
}

// Subscribe registers the RPC request handler.
func (b *Bridge) Subscribe(ctx context.Context) error {
	token := b.client.Subscribe(b.requestTopic(), 1, func(_ paho.Client, msg paho.Message) {
		// paho calls handlers in order; dispatch may block on the board loop.
		go b.handleRequest(ctx, msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", b.requestTopic())
	}
	return token.Error()
}

// Run publishes every event from sub until ctx is done or sub is closed.
func (b *Bridge) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Channel():
			if !ok {
				return
			}
			b.forward(ctx, ev)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, ev events.Event) {
	if err := b.publish(fmt.Sprintf("%s/events/%s", b.prefix, ev.Kind), ev); err != nil {
		b.logger.Errorf("Failed to publish %s: %v", ev.Kind, err)
	}
	if ev.Kind != events.TelemetryRequested || b.status == nil {
		return
	}
	st, err := b.status.Snapshot(ctx)
	if err != nil {
		b.logger.Errorf("Telemetry read failed: %v", err)
		return
	}
	if err := b.publish(b.prefix+"/telemetry", st.Report()); err != nil {
		b.logger.Errorf("Failed to publish telemetry: %v", err)
	}
}

// handleRequest serves one message from <prefix>/rpc/request/<id>. The
// payload is {"method": ..., "params": ...}; the id comes from the topic.
func (b *Bridge) handleRequest(ctx context.Context, topic string, payload []byte) {
	id := topic[strings.LastIndex(topic, "/")+1:]
	respTopic := fmt.Sprintf("%s/rpc/response/%s", b.prefix, id)

	var resp rpc.Response
	var f rpc.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		resp = rpc.Response{Error: rpc.Errorf(rpc.CodeBadRequest, "invalid frame: %v", err)}
	} else {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && f.ID == 0 {
			f.ID = n
		}
		resp = b.rpc.Dispatch(ctx, f)
	}

	if err := b.publish(respTopic, resp); err != nil {
		b.logger.Errorf("Failed to publish RPC response %s: %v", id, err)
	}
}

func (b *Bridge) publish(topic string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	token := b.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}
