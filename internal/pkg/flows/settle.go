package flows

import (
	"context"

	"app-swap-go/internal/pkg/correlate"
)

const actionComplete = "complete"

// Success signals of the payment-and-service completion flow.
const (
	SignalServiceCompleted = "SERVICE_COMPLETED"
	SignalPaymentCompleted = "PAYMENT_COMPLETED"
)

// Fatal signals: any of these fails the settlement even when the envelope
// also claims success:true.
const (
	SignalQuotaExhausted   = "QUOTA_EXHAUSTED"
	SignalValidationFailed = "VALIDATION_FAILED"
	SignalPaymentFailed    = "PAYMENT_FAILED"
	SignalAssetMismatch    = "ASSET_MISMATCH"
)

var settleVocabulary = correlate.Vocabulary{
	Success: []string{SignalServiceCompleted, SignalPaymentCompleted},
	Errors: []string{
		SignalQuotaExhausted,
		SignalValidationFailed,
		SignalPaymentFailed,
		SignalAssetMismatch,
	},
	Messages: map[string]string{
		SignalQuotaExhausted:   "payment rejected: swap quota exhausted for this plan",
		SignalValidationFailed: "settlement validation failed",
		SignalPaymentFailed:    "payment could not be completed",
		SignalAssetMismatch:    "returned battery does not match the assigned asset",
	},
	Default: "swap settlement was rejected",
}

// Settlement is the payload of the completion flow. EnergyWh is the energy
// measured on the new battery, in watt-hours.
type Settlement struct {
	PlanID        string
	OldBatteryID  string
	NewBatteryID  string
	EnergyWh      int64
	ChargePercent int
}

// Receipt is the outcome of a successful settlement.
type Receipt struct {
	TransactionID string
	Replayed      bool
}

// CompleteSwap runs the payment-and-service completion flow. Energy is
// transmitted in kWh, floor-divided from Wh so partial kilowatt-hours are
// never over-billed.
func (r *Runner) CompleteSwap(ctx context.Context, s Settlement) (*Receipt, error) {
	res, err := r.run(ctx, s.PlanID, actionComplete,
		map[string]interface{}{
			"old_battery_id": s.OldBatteryID,
			"new_battery_id": s.NewBatteryID,
			"energy_kwh":     EnergyKWh(s.EnergyWh),
			"charge_percent": s.ChargePercent,
		},
		settleVocabulary, r.timeouts.Request)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		TransactionID: dataString(res.Data, "transaction_id"),
		Replayed:      res.Replayed,
	}
	r.lc.Infof("Swap settled for plan %s: tx=%s replayed=%v", s.PlanID, receipt.TransactionID, receipt.Replayed)
	return receipt, nil
}

// EnergyKWh converts watt-hours to whole kilowatt-hours by floor division.
func EnergyKWh(wh int64) int64 {
	return wh / 1000
}
