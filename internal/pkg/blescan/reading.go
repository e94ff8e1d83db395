package blescan

import (
	"math"

	"app-swap-go/internal/pkg/bridge"
)

// ServiceData is one telemetry payload from the battery's data service.
// The characteristic fields are pointers so an absent value is
// distinguishable from zero.
type ServiceData struct {
	MAC  string            `json:"mac"`
	Code bridge.StatusCode `json:"code"`
	Desc string            `json:"respDesc"`

	RemainingCapacity *float64 `json:"rcap"` // mAh
	FullCapacity      *float64 `json:"fccp"` // mAh
	PackVoltage       *float64 `json:"pckv"` // mV
	StateOfCharge     *float64 `json:"rsoc"` // percent
}

// Reading is the outcome of a completed scan-to-read cycle.
type Reading struct {
	BatteryID     string
	EnergyWh      float64
	ChargePercent int
	MAC           string
}

// computeReading derives energy and charge from the service data.
// Energy is remaining capacity (mAh) × pack voltage (mV) / 1e6, in Wh.
// A non-finite energy means the characteristics were absent or garbage and
// the read should be refreshed.
func computeReading(batteryID, mac string, data ServiceData) (Reading, bool) {
	energy := energyWh(data)
	if !isFinite(energy) {
		return Reading{}, false
	}
	return Reading{
		BatteryID:     batteryID,
		EnergyWh:      energy,
		ChargePercent: chargePercent(data),
		MAC:           mac,
	}, true
}

func energyWh(data ServiceData) float64 {
	if data.RemainingCapacity == nil || data.PackVoltage == nil {
		return math.NaN()
	}
	return (*data.RemainingCapacity * *data.PackVoltage) / 1_000_000
}

// chargePercent prefers remaining/full capacity and falls back to the raw
// state-of-charge characteristic. The result is clamped to [0, 100].
func chargePercent(data ServiceData) int {
	var pct float64
	switch {
	case data.RemainingCapacity != nil && data.FullCapacity != nil &&
		isFinite(*data.FullCapacity) && *data.FullCapacity > 0:
		pct = math.Round(*data.RemainingCapacity / *data.FullCapacity * 100)
	case data.StateOfCharge != nil:
		pct = *data.StateOfCharge
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return int(pct)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
