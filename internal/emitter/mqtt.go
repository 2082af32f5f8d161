// Package emitter exports stream events to an MQTT broker as JSON.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/config"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// Payload is the JSON document published per event
type Payload struct {
	Kind    vcam.EventKind `json:"kind"`
	Stream  string         `json:"stream"`
	Detail  string         `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
	Seq     uint64         `json:"seq,omitempty"`
	Time    int64          `json:"sample_time,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// NewPayload flattens ev into its wire form
func NewPayload(ev vcam.Event) Payload {
	p := Payload{
		Kind:   ev.Kind,
		Stream: ev.Stream,
		Detail: ev.Detail,
		At:     ev.At,
	}
	if ev.Sample != nil {
		p.Seq = ev.Sample.Seq
		p.Time = ev.Sample.Time
		p.TraceID = ev.Sample.TraceID
	}
	return p
}

// MQTTEmitter publishes stream events to an MQTT broker
type MQTTEmitter struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.RWMutex
	published map[vcam.EventKind]uint64
	skipped   uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter for cfg; Connect dials the broker
func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		newClient: mqtt.NewClient,
		published: make(map[vcam.EventKind]uint64),
	}
}

// NewWithClient creates an emitter around an already configured client
func NewWithClient(cfg config.MQTTConfig, client mqtt.Client) *MQTTEmitter {
	e := NewMQTTEmitter(cfg)
	e.client = client
	e.connected = client.IsConnected()
	return e
}

// Connect establishes the connection to the MQTT broker.
// On failure the client is disconnected so it stops retrying in the background.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		slog.Info("emitter: mqtt connection established",
			"broker", broker,
			"client_id", e.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
		)
	}

	e.client = e.newClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		e.abandon()
		return fmt.Errorf("emitter: mqtt connection timeout after %v", connectTimeout)
	case <-ctx.Done():
		e.abandon()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		e.abandon()
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// abandon stops a client whose initial connect did not complete
func (e *MQTTEmitter) abandon() {
	e.client.Disconnect(0)
	e.setConnected(false)
	slog.Warn("emitter: mqtt connect abandoned", "broker", e.cfg.Broker)
}

// Emit publishes one event synchronously.
// Sample events are skipped unless publish_samples is set.
func (e *MQTTEmitter) Emit(ev vcam.Event) error {
	if ev.Kind == vcam.EventSampleReady && !e.cfg.PublishSamples {
		e.mu.Lock()
		e.skipped++
		e.mu.Unlock()
		return nil
	}

	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewPayload(ev))
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal event: %w", err)
	}

	topic := e.Topic(ev.Kind)
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("emitter: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish to %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[ev.Kind]++
	e.mu.Unlock()

	slog.Debug("emitter: event published",
		"topic", topic,
		"qos", e.cfg.QoS,
		"size", len(payload),
	)
	return nil
}

// Run publishes events from ch until ch closes or ctx is done.
// Publish errors are logged and counted, never fatal.
func (e *MQTTEmitter) Run(ctx context.Context, ch <-chan vcam.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := e.Emit(ev); err != nil {
				slog.Warn("emitter: publish failed", "kind", ev.Kind, "error", err)
			}
		}
	}
}

// Topic returns the topic used for kind
func (e *MQTTEmitter) Topic(kind vcam.EventKind) string {
	return fmt.Sprintf("%s/%s", e.cfg.Topic, kind)
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[vcam.EventKind]uint64
	Skipped   uint64
	Errors    uint64
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[vcam.EventKind]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Skipped:   e.skipped,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
