// Package flows contains the domain request flows of the swap platform:
// customer identification, payment-and-service completion, QR
// customer/location binding, and service intent emission. Each flow is a
// thin configuration over the correlate engine plus a result extractor.
package flows

import (
	"context"
	"fmt"
	"time"

	"app-swap-go/internal/pkg/correlate"
	"app-swap-go/internal/pkg/logger"
)

// Topic templates, parameterized by plan id and action.
const (
	requestTopicTemplate  = "emit/uxi/swap/%s/%s"
	responseTopicTemplate = "echo/abs/swap/%s/%s"

	// fan-in subscription used by flows that opt into prefix matching
	echoFanInTopic = "echo/#"
)

// RequestTopic returns the request topic for a plan and action.
func RequestTopic(planID, action string) string {
	return fmt.Sprintf(requestTopicTemplate, planID, action)
}

// ResponseTopic returns the response topic for a plan and action.
func ResponseTopic(planID, action string) string {
	return fmt.Sprintf(responseTopicTemplate, planID, action)
}

// Timeouts configures per-flow deadlines.
type Timeouts struct {
	Request time.Duration // identify, settle, intent
	Bind    time.Duration // QR binding waits on location actions
}

// DefaultTimeouts returns the standard flow deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Request: 15 * time.Second,
		Bind:    30 * time.Second,
	}
}

// Runner executes domain flows on behalf of one actor.
type Runner struct {
	ex       *correlate.Exchange
	actor    correlate.Actor
	timeouts Timeouts
	lc       logger.LoggingClient
}

// NewRunner creates a flow runner stamping every request with actor.
func NewRunner(ex *correlate.Exchange, actor correlate.Actor, timeouts Timeouts, lc logger.LoggingClient) *Runner {
	if timeouts.Request <= 0 {
		timeouts.Request = DefaultTimeouts().Request
	}
	if timeouts.Bind <= 0 {
		timeouts.Bind = DefaultTimeouts().Bind
	}
	return &Runner{ex: ex, actor: actor, timeouts: timeouts, lc: lc}
}

// Actor returns the actor stamped into this runner's requests.
func (r *Runner) Actor() correlate.Actor {
	return r.actor
}

// run executes one round trip for action and evaluates the response under
// vocab.
func (r *Runner) run(ctx context.Context, planID, action string, data map[string]interface{},
	vocab correlate.Vocabulary, timeout time.Duration) (*correlate.Result, error) {

	env, err := r.ex.Execute(ctx, correlate.Request{
		RequestTopic:  RequestTopic(planID, action),
		ResponseTopic: ResponseTopic(planID, action),
		PlanID:        planID,
		Actor:         r.actor,
		Data:          data,
		Qos:           1,
		Timeout:       timeout,
	})
	if err != nil {
		return nil, err
	}
	return vocab.Evaluate(env)
}

// Helpers for reading loosely-typed response data.

func dataString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func dataNumber(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func dataMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	if sub, ok := m[key].(map[string]interface{}); ok {
		return sub
	}
	return nil
}

func dataSlice(m map[string]interface{}, key string) []interface{} {
	if m == nil {
		return nil
	}
	if s, ok := m[key].([]interface{}); ok {
		return s
	}
	return nil
}
