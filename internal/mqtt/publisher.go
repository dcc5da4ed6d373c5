package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/nailong-guard/internal/logger"
	"github.com/tphakala/nailong-guard/internal/moderation"
	"github.com/tphakala/nailong-guard/internal/observability/metrics"
)

// DefaultQueueSize is the number of events buffered before new ones are dropped.
const DefaultQueueSize = 256

// PublisherStats counts what happened to published events.
type PublisherStats struct {
	Received  uint64
	Delivered uint64
	Dropped   uint64
	Failed    uint64
}

// Publisher forwards moderation events to MQTT from a background worker.
// Publish never blocks the caller; events that do not fit in the queue are
// dropped.
type Publisher struct {
	client   Client
	topic    string
	instance string
	metrics  *metrics.MQTTMetrics

	events  chan moderation.Event
	quit    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher starts a publisher on client. Events go to <topic>/<type>.
func NewPublisher(client Client, topic, instance string, queueSize int, m *metrics.MQTTMetrics) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	p := &Publisher{
		client:   client,
		topic:    topic,
		instance: instance,
		metrics:  m,
		events:   make(chan moderation.Event, queueSize),
		quit:     make(chan struct{}),
		running:  true,
	}
	p.wg.Go(p.worker)
	return p
}

// Publish queues e for delivery.
func (p *Publisher) Publish(e moderation.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	p.received.Add(1)
	select {
	case p.events <- e:
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.IncrementErrors(errTypeQueue)
		}
		GetLogger().Debug("event dropped due to full buffer", logger.String("type", string(e.Type)))
	}
}

func (p *Publisher) worker() {
	for {
		select {
		case e := <-p.events:
			p.deliver(e)
		case <-p.quit:
			// drain what was queued before Close
			for {
				select {
				case e := <-p.events:
					p.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(e moderation.Event) {
	log := GetLogger().With(logger.String("type", string(e.Type)), logger.String("event_id", e.ID))

	payload, err := json.Marshal(NewEventDTO(p.instance, e))
	if err != nil {
		p.failed.Add(1)
		if p.metrics != nil {
			p.metrics.IncrementErrors(errTypeEncode)
		}
		log.Error("failed to encode event", logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultConfig().PublishTimeout)
	defer cancel()

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			p.failed.Add(1)
			log.Warn("MQTT broker unavailable, event not published", logger.Error(err))
			return
		}
	}

	topic := EventTopic(p.topic, e.Type)
	if err := p.client.Publish(ctx, topic, payload); err != nil {
		p.failed.Add(1)
		log.Warn("failed to publish event", logger.String("topic", topic), logger.Error(err))
		return
	}
	p.delivered.Add(1)
	log.Debug("event published", logger.String("topic", topic))
}

// Stats returns delivery counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Received:  p.received.Load(),
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close stops accepting events, delivers the queued ones within timeout and
// disconnects the client.
func (p *Publisher) Close(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.quit)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	defer p.client.Disconnect()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("MQTT publisher shutdown timeout exceeded after %s", timeout)
	}
}

var _ moderation.Publisher = (*Publisher)(nil)
