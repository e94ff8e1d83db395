package flows

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"app-swap-go/internal/pkg/bridge"
	"app-swap-go/internal/pkg/correlate"
	"app-swap-go/internal/pkg/logger"
)

// scriptedResponse is what the fake backend answers to the next request.
type scriptedResponse struct {
	topic    string // empty means the flow's exact response topic
	success  bool
	signals  []string
	metadata map[string]interface{}
}

// flowHarness runs a Runner over a loopback channel with a scripted backend.
type flowHarness struct {
	lb     *bridge.Loopback
	runner *Runner

	lastPublish struct {
		Topic string
		Data  map[string]interface{}
	}
	respond func(requestTopic string) *scriptedResponse
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()
	h := &flowHarness{lb: bridge.NewLoopback()}
	lc := logger.NewClient("ERROR")
	ex := correlate.NewExchange(h.lb, lc)
	h.runner = NewRunner(ex, correlate.Actor{Type: "rider", ID: "r-1", Station: "station-1"},
		Timeouts{Request: time.Second, Bind: time.Second}, lc)

	h.lb.Handle(bridge.CmdSubscribeTopic, func(payload json.RawMessage, cb bridge.Callback) {
		cb(bridge.AckOK())
	})
	h.lb.Handle(bridge.CmdUnsubscribeTopic, func(payload json.RawMessage, cb bridge.Callback) {
		cb(bridge.AckOK())
	})
	h.lb.Handle(bridge.CmdPublishMessage, func(payload json.RawMessage, cb bridge.Callback) {
		var p struct {
			Topic   string                 `json:"topic"`
			Content map[string]interface{} `json:"content"`
		}
		require.NoError(t, json.Unmarshal(payload, &p))
		h.lastPublish.Topic = p.Topic
		h.lastPublish.Data, _ = p.Content["data"].(map[string]interface{})

		if h.respond != nil {
			if resp := h.respond(p.Topic); resp != nil {
				topic := resp.topic
				if topic == "" {
					// emit/uxi/... request answers on echo/abs/...
					topic = "echo/abs" + p.Topic[len("emit/uxi"):]
				}
				h.lb.Emit(bridge.EventMqttMsgArrived, map[string]interface{}{
					"topic": topic,
					"message": map[string]interface{}{
						"correlation_id": p.Content["correlation_id"],
						"data": map[string]interface{}{
							"success":  resp.success,
							"signals":  resp.signals,
							"metadata": resp.metadata,
						},
					},
				})
			}
		}
		cb(bridge.AckOK())
	})
	return h
}

func (h *flowHarness) respondWith(resp scriptedResponse) {
	h.respond = func(string) *scriptedResponse { return &resp }
}

// service plan payload of a returning customer holding battery BATT-9
func returningPlanData() map[string]interface{} {
	return map[string]interface{}{
		"service_plan_data": map[string]interface{}{
			"serviceStates": []interface{}{
				map[string]interface{}{
					"service_id":    "srv_battery_fleet_v2",
					"quota":         float64(2),
					"used":          float64(1),
					"current_asset": "BATT-9",
				},
				map[string]interface{}{
					"id":    "srv_electricity_std",
					"quota": float64(999999),
					"used":  float64(120),
				},
				map[string]interface{}{
					"service_id": "srv_swap_count_m",
					"quota":      float64(30),
					"used":       float64(12),
				},
			},
		},
	}
}

// TestTopicTemplates tests request/response topic construction
func TestTopicTemplates(t *testing.T) {
	assert.Equal(t, "emit/uxi/swap/plan-42/identify", RequestTopic("plan-42", "identify"))
	assert.Equal(t, "echo/abs/swap/plan-42/identify", ResponseTopic("plan-42", "identify"))
}

// TestIdentifyCustomer_Returning tests profile extraction for a customer
// already holding a fleet battery
func TestIdentifyCustomer_Returning(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		success:  true,
		signals:  []string{SignalCustomerIdentified},
		metadata: returningPlanData(),
	})

	profile, err := h.runner.IdentifyCustomer(context.Background(), "plan-42")
	require.NoError(t, err)

	assert.Equal(t, "plan-42", profile.PlanID)
	assert.Equal(t, CustomerReturning, profile.CustomerType)
	assert.Equal(t, "BATT-9", profile.CurrentBatteryID)
	assert.False(t, profile.Replayed)

	require.NotNil(t, profile.BatteryFleet)
	assert.Equal(t, float64(1), profile.BatteryFleet.Remaining)
	assert.False(t, profile.BatteryFleet.Infinite)

	require.NotNil(t, profile.Electricity)
	assert.True(t, profile.Electricity.Infinite)

	require.NotNil(t, profile.SwapCount)
	assert.Equal(t, float64(18), profile.SwapCount.Remaining)

	assert.Equal(t, "emit/uxi/swap/plan-42/identify", h.lastPublish.Topic)
	assert.Equal(t, "plan-42", h.lastPublish.Data["plan_id"])
}

// TestIdentifyCustomer_FirstTime tests that a missing current asset makes the
// customer first-time with no battery id
func TestIdentifyCustomer_FirstTime(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		success: true,
		signals: []string{SignalCustomerIdentified},
		metadata: map[string]interface{}{
			"service_plan_data": map[string]interface{}{
				"serviceStates": []interface{}{
					map[string]interface{}{
						"service_id": "srv_battery_fleet_v2",
						"quota":      float64(1),
						"used":       float64(0),
					},
				},
			},
		},
	})

	profile, err := h.runner.IdentifyCustomer(context.Background(), "plan-7")
	require.NoError(t, err)
	assert.Equal(t, CustomerFirstTime, profile.CustomerType)
	assert.Empty(t, profile.CurrentBatteryID)
	assert.Nil(t, profile.Electricity)
	assert.Nil(t, profile.SwapCount)
}

// TestIdentifyCustomer_NotFound tests the domain failure path
func TestIdentifyCustomer_NotFound(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		success: false,
		signals: []string{"CUSTOMER_NOT_FOUND"},
	})

	_, err := h.runner.IdentifyCustomer(context.Background(), "plan-7")
	require.Error(t, err)

	var derr *correlate.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "no customer is registered for this plan", derr.Message)
}

// TestIdentifyCustomer_Replay tests acceptance of an idempotent replay
// carrying the cached profile
func TestIdentifyCustomer_Replay(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		success: true,
		signals: []string{correlate.SignalIdempotentReplay},
		metadata: map[string]interface{}{
			"cached_result": returningPlanData(),
		},
	})

	profile, err := h.runner.IdentifyCustomer(context.Background(), "plan-42")
	require.NoError(t, err)
	assert.True(t, profile.Replayed)
	assert.Equal(t, "BATT-9", profile.CurrentBatteryID)
}

// TestCompleteSwap_Success tests settlement and the kWh floor conversion
func TestCompleteSwap_Success(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		success:  true,
		signals:  []string{SignalServiceCompleted, SignalPaymentCompleted},
		metadata: map[string]interface{}{"transaction_id": "tx-500"},
	})

	receipt, err := h.runner.CompleteSwap(context.Background(), Settlement{
		PlanID:        "plan-42",
		OldBatteryID:  "BATT-9",
		NewBatteryID:  "BATT-12",
		EnergyWh:      2500,
		ChargePercent: 83,
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-500", receipt.TransactionID)
	assert.False(t, receipt.Replayed)

	// energy crosses the wire floor-divided to whole kWh
	assert.Equal(t, float64(2), h.lastPublish.Data["energy_kwh"])
	assert.Equal(t, "BATT-9", h.lastPublish.Data["old_battery_id"])
	assert.Equal(t, "BATT-12", h.lastPublish.Data["new_battery_id"])
	assert.Equal(t, float64(83), h.lastPublish.Data["charge_percent"])
}

// TestCompleteSwap_QuotaExhausted tests that the fatal signal fails the
// settlement even though the envelope claims success
func TestCompleteSwap_QuotaExhausted(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		success: true,
		signals: []string{SignalServiceCompleted, SignalQuotaExhausted},
	})

	_, err := h.runner.CompleteSwap(context.Background(), Settlement{PlanID: "plan-42"})
	require.Error(t, err)

	var derr *correlate.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, SignalQuotaExhausted, derr.Signal)
	assert.Contains(t, derr.Message, "quota exhausted")
	assert.Contains(t, derr.Message, "payment rejected")
}

// TestCompleteSwap_IdempotentReplay tests that a duplicate settlement replays
// the original transaction instead of double-charging
func TestCompleteSwap_IdempotentReplay(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		success: true,
		signals: []string{correlate.SignalIdempotentReplay},
		metadata: map[string]interface{}{
			"cached_result": map[string]interface{}{"transaction_id": "tx-previous"},
		},
	})

	receipt, err := h.runner.CompleteSwap(context.Background(), Settlement{PlanID: "plan-42"})
	require.NoError(t, err)
	assert.True(t, receipt.Replayed)
	assert.Equal(t, "tx-previous", receipt.TransactionID)
}

// TestEnergyKWh tests the Wh to kWh floor conversion
func TestEnergyKWh(t *testing.T) {
	tests := []struct {
		wh   int64
		want int64
	}{
		{0, 0},
		{999, 0},
		{1000, 1},
		{2500, 2},
		{10999, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EnergyKWh(tt.wh), "wh=%d", tt.wh)
	}
}

// TestBindCustomerLocation_AllSignals tests binding success when all three
// required signals arrive on a location-qualified sub-topic
func TestBindCustomerLocation_AllSignals(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		topic:    "echo/abs/swap/plan-42/bind/loc-3",
		success:  true,
		signals:  []string{SignalBindingEstablished, SignalServiceValidated, SignalLocationActions},
		metadata: map[string]interface{}{"customer_id": "cust-1"},
	})

	binding, err := h.runner.BindCustomerLocation(context.Background(), "plan-42", "loc-3")
	require.NoError(t, err)
	assert.Equal(t, "plan-42", binding.PlanID)
	assert.Equal(t, "loc-3", binding.LocationID)
	assert.Equal(t, "cust-1", binding.CustomerID)
	assert.Equal(t, "loc-3", h.lastPublish.Data["location_id"])
}

// TestBindCustomerLocation_PartialSignals tests that a half-applied binding
// is a failure, not a pending state
func TestBindCustomerLocation_PartialSignals(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		topic:   "echo/abs/swap/plan-42/bind",
		success: true,
		signals: []string{SignalBindingEstablished, SignalServiceValidated},
	})

	_, err := h.runner.BindCustomerLocation(context.Background(), "plan-42", "loc-3")
	require.Error(t, err)

	var derr *correlate.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, SignalLocationActions, derr.Signal)
	assert.Contains(t, derr.Message, "not fully established")
}

// TestBindCustomerLocation_Replay tests replay acceptance without the full
// signal set
func TestBindCustomerLocation_Replay(t *testing.T) {
	h := newFlowHarness(t)
	h.respondWith(scriptedResponse{
		topic:    "echo/abs/swap/plan-42/bind",
		success:  true,
		signals:  []string{correlate.SignalIdempotentReplay},
		metadata: map[string]interface{}{"customer_id": "cust-1"},
	})

	binding, err := h.runner.BindCustomerLocation(context.Background(), "plan-42", "loc-3")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", binding.CustomerID)
}

// TestEmitServiceIntent tests the loosely-validated intent announcement
func TestEmitServiceIntent(t *testing.T) {
	t.Run("any success is accepted", func(t *testing.T) {
		h := newFlowHarness(t)
		h.respondWith(scriptedResponse{success: true})

		err := h.runner.EmitServiceIntent(context.Background(), "plan-42", IntentSwap)
		assert.NoError(t, err)
		assert.Equal(t, "emit/uxi/swap/plan-42/intent", h.lastPublish.Topic)
	})

	t.Run("failure is reported", func(t *testing.T) {
		h := newFlowHarness(t)
		h.respondWith(scriptedResponse{success: false})

		err := h.runner.EmitServiceIntent(context.Background(), "plan-42", IntentCharge)
		assert.Error(t, err)
	})
}
