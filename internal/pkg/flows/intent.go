package flows

import (
	"context"

	"app-swap-go/internal/pkg/correlate"
)

const actionIntent = "intent"

// Service intents a customer can announce ahead of arriving at a station.
const (
	IntentSwap   = "swap"
	IntentCharge = "charge"
)

// intent has no signal vocabulary: any success:true response passes.
var intentVocabulary = correlate.Vocabulary{
	Default: "service intent was not accepted",
}

// EmitServiceIntent announces a swap or charging intent for a plan.
func (r *Runner) EmitServiceIntent(ctx context.Context, planID, intent string) error {
	_, err := r.run(ctx, planID, actionIntent,
		map[string]interface{}{"intent": intent},
		intentVocabulary, r.timeouts.Request)
	if err != nil {
		return err
	}
	r.lc.Debugf("Service intent %q emitted for plan %s", intent, planID)
	return nil
}
