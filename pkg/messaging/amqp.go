package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"hotline-server/pkg/events"
	"hotline-server/pkg/metrics"
)

// AMQPConfig holds AMQP publisher configuration.
type AMQPConfig struct {
	URL          string
	QueueName    string
	ExchangeName string
	RoutingKey   string
	Durable      bool
	AutoDelete   bool
}

// AMQPPublisher bridges the event fanout to an AMQP queue for the sentiment
// and notes consumers. It subscribes as a fanout listener and forwards final
// transcriptions and call-ended events; interim chatter stays off the queue.
type AMQPPublisher struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPPublisher creates an AMQP publisher.
func NewAMQPPublisher(logger *logrus.Logger, config AMQPConfig) *AMQPPublisher {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}

	return &AMQPPublisher{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the connection and declares the queue. Returns an
// error when AMQP is unconfigured; the caller decides whether to run
// without the queue.
func (p *AMQPPublisher) Connect() error {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.connected {
		return nil
	}
	if p.config.URL == "" || p.config.QueueName == "" {
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	conn, err := amqp.DialConfig(p.config.URL, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		metrics.IncAMQPConnectionError()
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		metrics.IncAMQPConnectionError()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		p.config.QueueName,
		p.config.Durable,
		p.config.AutoDelete,
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		metrics.IncAMQPConnectionError()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	p.conn = conn
	p.channel = channel
	p.connected = true
	p.stopChan = make(chan struct{})

	go p.monitorConnection(conn)

	p.logger.WithFields(logrus.Fields{
		"queue":       p.config.QueueName,
		"routing_key": p.config.RoutingKey,
	}).Info("Connected to AMQP server")
	return nil
}

// monitorConnection reconnects with backoff when the broker drops us.
func (p *AMQPPublisher) monitorConnection(conn *amqp.Connection) {
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-p.stopChan:
		return
	case amqpErr := <-closeChan:
		if amqpErr == nil {
			return
		}
		metrics.IncAMQPConnectionError()
		p.logger.WithField("error", amqpErr.Error()).Warn("AMQP connection lost, reconnecting")
	}

	p.connMutex.Lock()
	p.connected = false
	p.connMutex.Unlock()

	backoff := time.Second
	for {
		select {
		case <-p.stopChan:
			return
		case <-time.After(backoff):
		}

		if err := p.Connect(); err == nil {
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Disconnect closes the connection. Safe to call when never connected.
func (p *AMQPPublisher) Disconnect() {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if !p.connected {
		return
	}
	close(p.stopChan)
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.connected = false
	p.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status.
func (p *AMQPPublisher) IsConnected() bool {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()
	return p.connected
}

// shouldPublish filters fanout events down to what the downstream pipeline
// consumes.
func shouldPublish(kind events.Kind) bool {
	return kind == events.KindFinal || kind == events.KindCallEnded
}

// OnEvent implements events.Listener. Publish failures are logged and
// dropped; the queue must never stall audio processing.
func (p *AMQPPublisher) OnEvent(event events.Event) {
	if !shouldPublish(event.Kind) {
		return
	}
	if err := p.publish(event); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event":      event.Kind,
			"stream_sid": event.StreamSid,
		}).Warn("Failed to publish event to AMQP")
	}
}

func (p *AMQPPublisher) publish(event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.connMutex.RLock()
	defer p.connMutex.RUnlock()

	if !p.connected || p.channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	err = p.channel.Publish(
		p.config.ExchangeName,
		p.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Expiration:   "43200000", // 12 hours, keeps the queue from piling up without consumers
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	metrics.IncAMQPPublished()
	return nil
}
