package camtrigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultEventTopic is the MQTT topic loop events are published on.
const DefaultEventTopic = "camtrigger/events"

// DefaultEventQueue is how many encoded events may wait for the sender.
const DefaultEventQueue = 64

// MQTTConfig configures an MQTTPublisher.
type MQTTConfig struct {
	Broker         string // e.g. tcp://192.168.1.57:1883
	ClientID       string
	Topic          string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	QueueSize      int
}

// MQTTPublisher publishes loop events as JSON from a background sender, so
// a slow or silent broker never holds up the caller. Failures are logged.
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan []byte
	done   chan struct{}
}

// NewMQTTPublisher connects to the broker and returns a ready publisher.
func NewMQTTPublisher(cfg MQTTConfig, lg *slog.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("MQTT broker must be specified")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(c, cfg, lg), nil
}

func newMQTTPublisher(c mqtt.Client, cfg MQTTConfig, lg *slog.Logger) *MQTTPublisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultEventTopic
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultEventQueue
	}
	p := &MQTTPublisher{
		client:  c,
		topic:   cfg.Topic,
		timeout: cfg.PublishTimeout,
		logger:  lg,
		queue:   make(chan []byte, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go p.sender()
	return p
}

// Publish queues ev for sending and returns at once. Events are dropped
// when the queue is full or the publisher is closed.
func (p *MQTTPublisher) Publish(_ context.Context, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		logger(p.logger).Warn("camtrigger: could not encode event", "err", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		logger(p.logger).Warn("camtrigger: event queue full, dropping event", "kind", ev.Kind)
	}
}

func (p *MQTTPublisher) sender() {
	defer close(p.done)
	for msg := range p.queue {
		p.send(msg)
	}
}

// send publishes msg with QoS 1 and waits at most the publish timeout for
// the broker to acknowledge it.
func (p *MQTTPublisher) send(msg []byte) {
	token := p.client.Publish(p.topic, 1, false, msg)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			logger(p.logger).Warn("camtrigger: event publish failed", "topic", p.topic, "err", err)
		}
	case <-timer.C:
		logger(p.logger).Warn("camtrigger: event publish timed out", "topic", p.topic)
	}
}

// Close sends whatever is still queued, then disconnects from the broker,
// allowing in-flight messages 250ms.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
	p.client.Disconnect(250)
}
