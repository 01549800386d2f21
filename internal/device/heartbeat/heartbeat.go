// Package heartbeat publishes a liveness beacon over MQTT while event
// capture is suspended, so the fleet dashboard can tell a paused scale
// from a dead one.
package heartbeat

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/autoscale/pkg/logger"
)

// Publish timing constants.
const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	minInterval    = 10 * time.Second
)

// beacon is the published payload.
type beacon struct {
	ScaleID string `json:"scale_id"`
	Status  string `json:"status"`
	SentAt  int64  `json:"sent_at"`
}

// Publisher emits heartbeats on one topic.
type Publisher struct {
	client  mqtt.Client
	topic   string
	scaleID string
	last    time.Time
	log     logger.Logger
}

// New connects to the broker and returns a Publisher. A connection
// failure is surfaced; heartbeats are optional equipment and the caller
// may run without one.
func New(broker, scaleID, topic string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("autoscale-" + scaleID).
		SetConnectTimeout(connectTimeout)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		return nil, ErrConnect
	}
	return &Publisher{
		client:  client,
		topic:   topic,
		scaleID: scaleID,
		log:     logger.Get().Named("heartbeat"),
	}, nil
}

// Beat publishes one heartbeat, rate-limited to the minimum interval.
func (p *Publisher) Beat(ctx context.Context, status string) {
	if time.Since(p.last) < minInterval {
		return
	}
	p.last = time.Now()

	body, err := json.Marshal(beacon{
		ScaleID: p.scaleID,
		Status:  status,
		SentAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	token := p.client.Publish(p.topic, 0, false, body)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		p.log.Warn(ctx, "heartbeat publish failed", logger.Error(token.Error()))
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(uint(publishTimeout.Milliseconds()))
}
