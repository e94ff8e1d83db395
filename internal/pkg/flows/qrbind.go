package flows

import (
	"context"

	"app-swap-go/internal/pkg/correlate"
)

const actionBind = "bind"

// The binding flow succeeds only when all three of these signals are
// present; a partial set means the backend left the binding half-applied
// and is treated as failure, not as still pending.
const (
	SignalBindingEstablished = "BINDING_ESTABLISHED"
	SignalServiceValidated   = "SERVICE_VALIDATED"
	SignalLocationActions    = "LOCATION_ACTIONS_TRIGGERED"
)

var bindRequiredSignals = []string{
	SignalBindingEstablished,
	SignalServiceValidated,
	SignalLocationActions,
}

// Binding is the outcome of a successful QR customer/location binding.
type Binding struct {
	PlanID     string
	LocationID string
	CustomerID string
}

// BindCustomerLocation runs the QR-driven customer/location binding flow.
//
// This flow subscribes to the echo/ fan-in topic and filters responses by
// topic prefix rather than subscribing to its exact response topic; the
// location controller answers on a location-qualified sub-topic that is not
// known until the response arrives. The prefix match is the explicit
// per-flow opt-in of the correlate engine, not the default.
func (r *Runner) BindCustomerLocation(ctx context.Context, planID, locationID string) (*Binding, error) {
	env, err := r.ex.Execute(ctx, correlate.Request{
		RequestTopic:     RequestTopic(planID, actionBind),
		ResponseTopic:    ResponseTopic(planID, actionBind),
		SubscribeTopic:   echoFanInTopic,
		TopicPrefixMatch: true,
		PlanID:           planID,
		Actor:            r.actor,
		Data: map[string]interface{}{
			"location_id": locationID,
		},
		Qos:     1,
		Timeout: r.timeouts.Bind,
	})
	if err != nil {
		return nil, err
	}

	if env.HasSignal(correlate.SignalIdempotentReplay) && env.Success {
		return bindingFromEnvelope(planID, locationID, env), nil
	}

	missing := ""
	for _, sig := range bindRequiredSignals {
		if !env.HasSignal(sig) {
			missing = sig
			break
		}
	}
	if !env.Success || missing != "" {
		return nil, &correlate.DomainError{
			Signal:  missing,
			Message: "customer/location binding was not fully established",
		}
	}

	binding := bindingFromEnvelope(planID, locationID, env)
	r.lc.Infof("Bound customer %s to location %s (plan %s)", binding.CustomerID, locationID, planID)
	return binding, nil
}

func bindingFromEnvelope(planID, locationID string, env *correlate.ResponseEnvelope) *Binding {
	return &Binding{
		PlanID:     planID,
		LocationID: locationID,
		CustomerID: env.MetadataString("customer_id"),
	}
}
