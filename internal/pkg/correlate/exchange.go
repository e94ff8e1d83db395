package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"app-swap-go/internal/pkg/bridge"
	"app-swap-go/internal/pkg/logger"
)

// Terminal transport outcomes of one request attempt. Retrying them is the
// caller's business, typically via the retry package.
var (
	ErrSubscribeFailed = errors.New("subscribe not acknowledged")
	ErrPublishFailed   = errors.New("publish not acknowledged")
	ErrTimeout         = errors.New("request timed out")
)

// Exchange executes correlation-keyed request/response round trips over a
// bridge channel. It owns the single message-arrived handler registration
// and fans responses out to pending requests by correlation id, so any
// number of flows can run concurrently through one Exchange.
type Exchange struct {
	ch bridge.Channel
	lc logger.LoggingClient

	mu         sync.Mutex
	pending    map[string]*pendingRequest
	registered bool
}

// NewExchange creates an Exchange on the given channel.
func NewExchange(ch bridge.Channel, lc logger.LoggingClient) *Exchange {
	return &Exchange{
		ch:      ch,
		lc:      lc,
		pending: make(map[string]*pendingRequest),
	}
}

// Execute runs exactly one round trip: subscribe, publish, await the
// matching response, settle. It returns the matched envelope or one of
// ErrSubscribeFailed, ErrPublishFailed, ErrTimeout, or ctx's error on
// cancellation. The caller's outcome is delivered at most once; duplicate
// or late responses are dropped.
func (e *Exchange) Execute(ctx context.Context, req Request) (*ResponseEnvelope, error) {
	if req.Timeout <= 0 {
		req.Timeout = 15 * time.Second
	}

	e.ensureHandler()

	correlationID := uuid.New().String()
	p := &pendingRequest{
		correlationID: correlationID,
		responseTopic: req.ResponseTopic,
		prefixMatch:   req.TopicPrefixMatch,
		loose:         req.LooseCorrelation,
		state:         StateSubscribing,
		createdAt:     time.Now(),
		respCh:        make(chan *ResponseEnvelope, 1),
	}

	e.mu.Lock()
	e.pending[correlationID] = p
	e.mu.Unlock()

	// entry removal plus fire-and-forget unsubscribe, on every settlement path
	defer e.settle(p, req)

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	ackCh := make(chan bridge.Ack, 1)
	e.ch.CallHandler(bridge.CmdSubscribeTopic,
		bridge.SubscribePayload{Topic: req.subscribeTopic()},
		func(ack bridge.Ack) {
			select {
			case ackCh <- ack:
			default:
			}
		})

	select {
	case ack := <-ackCh:
		if !ack.OK() {
			return nil, fmt.Errorf("%w: %s", ErrSubscribeFailed, ack.Reason())
		}
	case <-timer.C:
		return nil, fmt.Errorf("%w: no subscribe acknowledgment within %s", ErrTimeout, req.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.setState(p, StatePublishing)

	content := map[string]interface{}{
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"plan_id":        req.PlanID,
		"correlation_id": correlationID,
		"actor":          req.Actor,
		"data":           req.Data,
	}
	pubAckCh := make(chan bridge.Ack, 1)
	e.ch.CallHandler(bridge.CmdPublishMessage,
		bridge.PublishPayload{Topic: req.RequestTopic, Qos: req.Qos, Content: content},
		func(ack bridge.Ack) {
			select {
			case pubAckCh <- ack:
			default:
			}
		})

	select {
	case ack := <-pubAckCh:
		if !ack.OK() {
			return nil, fmt.Errorf("%w: %s", ErrPublishFailed, ack.Reason())
		}
	case <-timer.C:
		return nil, fmt.Errorf("%w: no publish acknowledgment within %s", ErrTimeout, req.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.setState(p, StateAwaitingResponse)
	e.lc.Debugf("Awaiting response on %s (correlation %s)", req.ResponseTopic, correlationID)

	select {
	case env := <-p.respCh:
		return env, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no response on %s within %s", ErrTimeout, req.ResponseTopic, req.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ensureHandler registers the shared message-arrived handler once.
func (e *Exchange) ensureHandler() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registered {
		return
	}
	e.registered = true
	e.ch.RegisterHandler(bridge.EventMqttMsgArrived, e.onMessage)
}

// onMessage is the single inbound handler shared by all flows. Correlation
// id matching, not handler identity, discriminates between concurrent
// requests; parse failures and unmatched topics are ignored without side
// effects.
func (e *Exchange) onMessage(payload json.RawMessage) {
	env, err := ParseEnvelope(payload)
	if err != nil {
		e.lc.Debug("Ignoring unparseable message:", "error", err.Error())
		return
	}

	e.mu.Lock()
	var matched *pendingRequest
	for _, p := range e.pending {
		if p.state == StateSettled || !p.matches(env) {
			continue
		}
		matched = p
		// claim the entry so a duplicate cannot settle the caller twice
		p.state = StateSettled
		delete(e.pending, p.correlationID)
		break
	}
	e.mu.Unlock()

	if matched == nil {
		e.lc.Tracef("No pending request for topic %s (correlation %s)", env.Topic, env.CorrelationID)
		return
	}

	select {
	case matched.respCh <- env:
	default:
	}
}

func (e *Exchange) setState(p *pendingRequest, s State) {
	e.mu.Lock()
	if p.state != StateSettled {
		p.state = s
	}
	e.mu.Unlock()
}

// settle detaches the pending entry and issues a best-effort unsubscribe.
// Its outcome never affects the caller's result.
func (e *Exchange) settle(p *pendingRequest, req Request) {
	e.mu.Lock()
	p.state = StateSettled
	delete(e.pending, p.correlationID)
	e.mu.Unlock()

	e.ch.CallHandler(bridge.CmdUnsubscribeTopic,
		bridge.SubscribePayload{Topic: req.subscribeTopic()},
		func(ack bridge.Ack) {
			if !ack.OK() {
				e.lc.Debugf("Unsubscribe from %s failed: %s", req.subscribeTopic(), ack.Reason())
			}
		})
}

// PendingCount reports the number of live requests, for diagnostics.
func (e *Exchange) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
