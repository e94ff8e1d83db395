// Package journal publishes swap lifecycle events over the bridge as a
// batched, fire-and-forget audit trail. Losing a batch never affects the
// workflow that produced it.
package journal

import (
	"sync"
	"time"

	"app-swap-go/internal/pkg/bridge"
	"app-swap-go/internal/pkg/logger"
)

// Event kinds recorded by the workflow.
const (
	KindIdentify = "identify"
	KindScan     = "scan"
	KindSettle   = "settle"
	KindBind     = "bind"
	KindIntent   = "intent"
	KindFailure  = "failure"
)

// Event is one journal entry.
type Event struct {
	Kind      string                 `json:"kind"`
	SessionID string                 `json:"session_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher batches events and publishes them on a journal topic.
type Publisher struct {
	ch    bridge.Channel
	lc    logger.LoggingClient
	topic string

	queue      []*Event
	batchSize  int
	flushDelay time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	flushCh chan struct{}
	doneCh  chan struct{}
}

// NewPublisher creates a journal publisher for the given topic.
func NewPublisher(ch bridge.Channel, topic string, batchSize int, flushDelay time.Duration, lc logger.LoggingClient) *Publisher {
	if batchSize <= 0 {
		batchSize = 10
	}
	if flushDelay <= 0 {
		flushDelay = 5 * time.Second
	}
	return &Publisher{
		ch:         ch,
		lc:         lc,
		topic:      topic,
		queue:      make([]*Event, 0),
		batchSize:  batchSize,
		flushDelay: flushDelay,
		stopCh:     make(chan struct{}),
		flushCh:    make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (p *Publisher) Start() {
	go p.run()
	p.lc.Info("Swap journal started")
}

// Stop flushes the queue and stops the loop.
func (p *Publisher) Stop() {
	close(p.stopCh)
	<-p.doneCh
	p.lc.Info("Swap journal stopped")
}

// Record enqueues one event.
func (p *Publisher) Record(kind, sessionID string, detail map[string]interface{}) {
	event := &Event{
		Kind:      kind,
		SessionID: sessionID,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}

	p.mu.Lock()
	p.queue = append(p.queue, event)
	shouldFlush := len(p.queue) >= p.batchSize
	p.mu.Unlock()

	if shouldFlush {
		select {
		case p.flushCh <- struct{}{}:
		default:
		}
	}
}

func (p *Publisher) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.flush()
			return
		case <-ticker.C:
			p.flush()
		case <-p.flushCh:
			p.flush()
		}
	}
}

func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	events := p.queue
	p.queue = make([]*Event, 0)
	p.mu.Unlock()

	p.ch.CallHandler(bridge.CmdPublishMessage, bridge.PublishPayload{
		Topic: p.topic,
		Qos:   0,
		Content: map[string]interface{}{
			"events": events,
		},
	}, func(ack bridge.Ack) {
		if !ack.OK() {
			p.lc.Warnf("Journal flush of %d events failed: %s", len(events), ack.Reason())
		}
	})
}

// QueueLen reports the number of unflushed events.
func (p *Publisher) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
