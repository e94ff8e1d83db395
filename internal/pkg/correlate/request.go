package correlate

import (
	"time"
)

// State is the lifecycle state of one in-flight request.
type State int

const (
	StateSubscribing State = iota
	StatePublishing
	StateAwaitingResponse
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StatePublishing:
		return "publishing"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Actor identifies who issued a request. It is stamped into every published
// payload.
type Actor struct {
	Type    string `json:"type"` // attendant, customer, salesperson
	ID      string `json:"id"`
	Station string `json:"station,omitempty"`
}

// Request describes one request/response round trip.
type Request struct {
	RequestTopic  string
	ResponseTopic string

	// SubscribeTopic overrides the topic passed to the subscribe command.
	// Empty means ResponseTopic. A flow subscribing to a wildcard fan-in
	// topic sets this together with TopicPrefixMatch.
	SubscribeTopic string

	PlanID  string
	Actor   Actor
	Data    map[string]interface{}
	Qos     int
	Timeout time.Duration

	// TopicPrefixMatch accepts responses whose topic starts with
	// ResponseTopic instead of requiring an exact match. Explicit opt-in
	// for flows sharing a fan-in subscription.
	TopicPrefixMatch bool

	// LooseCorrelation additionally accepts correlation ids related to the
	// request's id by prefix in either direction. Off by default: loose
	// matching can in principle cross-match unrelated ids sharing a prefix.
	LooseCorrelation bool
}

func (r Request) subscribeTopic() string {
	if r.SubscribeTopic != "" {
		return r.SubscribeTopic
	}
	return r.ResponseTopic
}

// pendingRequest is the book-keeping entry for one live request attempt,
// owned by the Exchange and keyed by correlation id.
type pendingRequest struct {
	correlationID string
	responseTopic string
	prefixMatch   bool
	loose         bool
	state         State
	createdAt     time.Time
	respCh        chan *ResponseEnvelope
}

// matches reports whether env settles this request.
func (p *pendingRequest) matches(env *ResponseEnvelope) bool {
	if p.prefixMatch {
		if len(env.Topic) < len(p.responseTopic) || env.Topic[:len(p.responseTopic)] != p.responseTopic {
			return false
		}
	} else if env.Topic != p.responseTopic {
		return false
	}
	if env.CorrelationID == p.correlationID {
		return true
	}
	if p.loose {
		return hasPrefix(env.CorrelationID, p.correlationID) || hasPrefix(p.correlationID, env.CorrelationID)
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
