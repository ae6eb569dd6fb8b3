// Package events publishes request lifecycle events to NATS JetStream so
// fillers and indexers can follow the protocol without polling.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"crosscall-backend/internal/config"
	"crosscall-backend/internal/metrics"
	"crosscall-backend/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
)

const (
	streamName = "CROSSCALL_EVENTS"

	SubjectRequestCreated   = "crosscall.requests.created"
	SubjectRequestCanceled  = "crosscall.requests.canceled"
	SubjectRequestCompleted = "crosscall.requests.completed"
)

// RequestCreatedEvent carries the full request content. It is the public
// record fillers execute from; everything needed to later prove fulfillment
// or reconstruct the identity hash is in here.
type RequestCreatedEvent struct {
	ID      string            `json:"id"`
	Request *protocol.Request `json:"request"`
}

// RequestCanceledEvent announces a refund. Identity only.
type RequestCanceledEvent struct {
	ID string `json:"id"`
}

// RequestCompletedEvent announces a settled claim.
type RequestCompletedEvent struct {
	ID              string `json:"id"`
	Filler          string `json:"filler"`
	PayoutRecipient string `json:"payout_recipient"`
}

// Publisher is the JetStream publisher for lifecycle events. A nil Publisher
// is valid and publishes nothing, so the service runs without NATS in local
// setups.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the event stream exists.
// Returns nil without error when NATS is not configured.
func NewPublisher() (*Publisher, error) {
	if config.AppConfig == nil || config.AppConfig.NATS.URL == "" {
		log.Println("NATS not configured, lifecycle events disabled")
		return nil, nil
	}
	cfg := config.AppConfig.NATS

	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{conn: conn, js: js}
	if err := p.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	log.Printf("✅ NATS publisher initialized on %s", cfg.URL)
	return p, nil
}

func (p *Publisher) ensureStream() error {
	if _, err := p.js.StreamInfo(streamName); err == nil {
		return nil
	}
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"crosscall.requests.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}
	log.Printf("✅ JetStream stream %s created", streamName)
	return nil
}

func (p *Publisher) publish(subject string, event interface{}) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️ Failed to marshal %s event: %v", subject, err)
		metrics.NATSPublishFailed.WithLabelValues(subject).Inc()
		return
	}
	if _, err := p.js.Publish(subject, payload); err != nil {
		log.Printf("⚠️ Failed to publish %s event: %v", subject, err)
		metrics.NATSPublishFailed.WithLabelValues(subject).Inc()
		return
	}
	metrics.NATSEventsPublished.WithLabelValues(subject).Inc()
}

// PublishRequestCreated announces a new open request.
func (p *Publisher) PublishRequestCreated(id common.Hash, req *protocol.Request) {
	p.publish(SubjectRequestCreated, RequestCreatedEvent{ID: id.Hex(), Request: req})
}

// PublishRequestCanceled announces a refunded request.
func (p *Publisher) PublishRequestCanceled(id common.Hash) {
	p.publish(SubjectRequestCanceled, RequestCanceledEvent{ID: id.Hex()})
}

// PublishRequestCompleted announces a settled claim.
func (p *Publisher) PublishRequestCompleted(id common.Hash, filler, payoutRecipient common.Address) {
	p.publish(SubjectRequestCompleted, RequestCompletedEvent{
		ID:              id.Hex(),
		Filler:          filler.Hex(),
		PayoutRecipient: payoutRecipient.Hex(),
	})
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
	metrics.NATSConnectionStatus.Set(0)
}
