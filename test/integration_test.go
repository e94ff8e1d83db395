package integration

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"app-swap-go/internal/pkg/blescan"
	"app-swap-go/internal/pkg/bridge"
	"app-swap-go/internal/pkg/correlate"
	"app-swap-go/internal/pkg/flows"
	"app-swap-go/internal/pkg/journal"
	"app-swap-go/internal/pkg/logger"
	"app-swap-go/internal/pkg/store"
)

// fakeBackend answers workflow requests on the loopback the way the station
// backend does over MQTT, keyed by the request topic's trailing action.
type fakeBackend struct {
	lb *bridge.Loopback
}

func newFakeBackend(lb *bridge.Loopback) *fakeBackend {
	b := &fakeBackend{lb: lb}
	lb.Handle(bridge.CmdSubscribeTopic, func(_ json.RawMessage, cb bridge.Callback) {
		cb(bridge.AckOK())
	})
	lb.Handle(bridge.CmdUnsubscribeTopic, func(_ json.RawMessage, cb bridge.Callback) {
		cb(bridge.AckOK())
	})
	lb.Handle(bridge.CmdPublishMessage, func(payload json.RawMessage, cb bridge.Callback) {
		var p struct {
			Topic   string                 `json:"topic"`
			Content map[string]interface{} `json:"content"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			cb(bridge.AckFail("400", err.Error()))
			return
		}
		b.answer(p.Topic, p.Content)
		cb(bridge.AckOK())
	})
	for _, cmd := range []string{
		bridge.CmdStartBleScan,
		bridge.CmdStopBleScan,
		bridge.CmdConnectBle,
		bridge.CmdDisconnectBle,
		bridge.CmdBleInitServiceData,
	} {
		lb.Handle(cmd, func(_ json.RawMessage, cb bridge.Callback) {
			cb(bridge.AckOK())
		})
	}
	return b
}

func (b *fakeBackend) answer(topic string, content map[string]interface{}) {
	var data map[string]interface{}
	switch {
	case strings.HasSuffix(topic, "/identify"):
		data = map[string]interface{}{
			"success": true,
			"signals": []string{flows.SignalCustomerIdentified},
			"metadata": map[string]interface{}{
				"service_plan_data": map[string]interface{}{
					"serviceStates": []interface{}{
						map[string]interface{}{
							"service_id":    "srv_battery_fleet_v2",
							"quota":         2,
							"used":          1,
							"current_asset": "BATT-OLD001",
						},
						map[string]interface{}{
							"service_id": "srv_swap_count_m",
							"quota":      30,
							"used":       12,
						},
					},
				},
			},
		}
	case strings.HasSuffix(topic, "/intent"):
		data = map[string]interface{}{"success": true}
	case strings.HasSuffix(topic, "/complete"):
		data = map[string]interface{}{
			"success":  true,
			"signals":  []string{flows.SignalServiceCompleted, flows.SignalPaymentCompleted},
			"metadata": map[string]interface{}{"transaction_id": "tx-9000"},
		}
	default:
		// journal publishes land here; there is nothing to answer
		return
	}

	b.lb.Emit(bridge.EventMqttMsgArrived, map[string]interface{}{
		"topic": "echo/abs" + strings.TrimPrefix(topic, "emit/uxi"),
		"message": map[string]interface{}{
			"correlation_id": content["correlation_id"],
			"data":           data,
		},
	})
}

// scanBattery drives one BLE scan-to-read cycle to completion.
func scanBattery(t *testing.T, lb *bridge.Loopback, ctrl *blescan.Controller, slot blescan.Slot, batteryID, mac string, rcap float64) blescan.Reading {
	t.Helper()
	done := make(chan blescan.Reading, 1)
	_, err := ctrl.Scan(slot, batteryID, func(r blescan.Reading, err error) {
		if err != nil {
			t.Errorf("scan of %s failed: %v", batteryID, err)
		}
		done <- r
	})
	if err != nil {
		t.Fatalf("failed to start scan: %v", err)
	}

	suffix := batteryID[len(batteryID)-6:]
	lb.Emit(bridge.EventFindBleDevice, blescan.Device{MAC: mac, Name: "OVES-" + suffix, RSSI: -45})
	lb.Emit(bridge.EventBleConnectSuccess, map[string]string{"mac": mac})
	lb.Emit(bridge.EventBleServiceDataOnComplete, map[string]interface{}{
		"mac": mac, "code": "200",
		"rcap": rcap, "fccp": 6000, "pckv": 48000,
	})

	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("battery reading did not arrive")
		return blescan.Reading{}
	}
}

// TestSwapLifecycle tests the complete flow: identify the customer, announce
// the intent, read both batteries over BLE, settle the swap and persist the
// session.
func TestSwapLifecycle(t *testing.T) {
	lc := logger.NewClient("DEBUG")
	lb := bridge.NewLoopback()
	newFakeBackend(lb)

	exchange := correlate.NewExchange(lb, lc)
	runner := flows.NewRunner(exchange, correlate.Actor{
		Type:    "rider",
		ID:      "rider-001",
		Station: "station-001",
	}, flows.Timeouts{Request: 2 * time.Second, Bind: 2 * time.Second}, lc)

	scanCfg := blescan.DefaultConfig()
	scanCfg.MatchDelays = []time.Duration{50 * time.Millisecond}
	scanner := blescan.NewController(lb, scanCfg, lc)
	defer scanner.Close()

	mr := miniredis.RunT(t)
	sessions, err := store.New(mr.Addr(), "", 0, lc)
	if err != nil {
		t.Fatalf("failed to create session store: %v", err)
	}
	defer sessions.Close()

	ctx := context.Background()

	// Identify
	profile, err := runner.IdentifyCustomer(ctx, "plan-77")
	if err != nil {
		t.Fatalf("identification failed: %v", err)
	}
	if profile.CustomerType != flows.CustomerReturning {
		t.Errorf("expected returning customer, got %s", profile.CustomerType)
	}
	if profile.CurrentBatteryID != "BATT-OLD001" {
		t.Errorf("expected assigned battery BATT-OLD001, got %s", profile.CurrentBatteryID)
	}

	sess := &store.SwapSession{
		ID:           "sess-it-1",
		StationID:    "station-001",
		PlanID:       profile.PlanID,
		CustomerType: string(profile.CustomerType),
		OldBatteryID: profile.CurrentBatteryID,
		State:        store.SessionOpen,
		StartedAt:    time.Now().UTC(),
	}
	if err := sessions.SaveSession(ctx, sess); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}

	// Announce intent
	if err := runner.EmitServiceIntent(ctx, "plan-77", flows.IntentSwap); err != nil {
		t.Fatalf("intent failed: %v", err)
	}

	// Read both batteries
	oldReading := scanBattery(t, lb, scanner, blescan.SlotOldBattery, "BATT-OLD001", "AA:00:01", 500)
	newReading := scanBattery(t, lb, scanner, blescan.SlotNewBattery, "BATT-NEW002", "AA:00:02", 5800)

	if oldReading.BatteryID != "BATT-OLD001" {
		t.Errorf("expected old battery BATT-OLD001, got %s", oldReading.BatteryID)
	}
	if newReading.ChargePercent != 97 {
		t.Errorf("expected new battery at 97%%, got %d", newReading.ChargePercent)
	}

	// Settle
	receipt, err := runner.CompleteSwap(ctx, flows.Settlement{
		PlanID:        "plan-77",
		OldBatteryID:  oldReading.BatteryID,
		NewBatteryID:  newReading.BatteryID,
		EnergyWh:      int64(newReading.EnergyWh),
		ChargePercent: newReading.ChargePercent,
	})
	if err != nil {
		t.Fatalf("settlement failed: %v", err)
	}
	if receipt.TransactionID != "tx-9000" {
		t.Errorf("expected transaction tx-9000, got %s", receipt.TransactionID)
	}

	if err := sessions.SetTransaction(ctx, sess.ID, receipt.TransactionID); err != nil {
		t.Fatalf("failed to record transaction: %v", err)
	}
	if err := sessions.UpdateState(ctx, sess.ID, store.SessionSettled); err != nil {
		t.Fatalf("failed to settle session: %v", err)
	}

	persisted, err := sessions.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if persisted.State != store.SessionSettled {
		t.Errorf("expected settled session, got %s", persisted.State)
	}
	if persisted.TransactionID != "tx-9000" {
		t.Errorf("expected transaction tx-9000 on session, got %s", persisted.TransactionID)
	}

	recent, err := sessions.RecentSessions(ctx, "station-001", 10)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(recent) != 1 || recent[0] != sess.ID {
		t.Errorf("expected station index [%s], got %v", sess.ID, recent)
	}
}

// TestJournalOverBridge tests that journaled workflow events flush through
// the same channel the workflow uses.
func TestJournalOverBridge(t *testing.T) {
	lc := logger.NewClient("DEBUG")
	lb := bridge.NewLoopback()

	flushed := make(chan int, 1)
	lb.Handle(bridge.CmdPublishMessage, func(payload json.RawMessage, cb bridge.Callback) {
		var p struct {
			Topic   string `json:"topic"`
			Content struct {
				Events []journal.Event `json:"events"`
			} `json:"content"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			t.Errorf("bad journal payload: %v", err)
		}
		if p.Topic != "journal/swap/station-001" {
			t.Errorf("unexpected journal topic %s", p.Topic)
		}
		flushed <- len(p.Content.Events)
		cb(bridge.AckOK())
	})

	pub := journal.NewPublisher(lb, "journal/swap/station-001", 2, time.Minute, lc)
	pub.Start()

	pub.Record(journal.KindIdentify, "sess-it-1", map[string]interface{}{"plan_id": "plan-77"})
	pub.Record(journal.KindSettle, "sess-it-1", map[string]interface{}{"transaction_id": "tx-9000"})

	select {
	case n := <-flushed:
		if n != 2 {
			t.Errorf("expected 2 journaled events, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("journal batch never flushed")
	}
	pub.Stop()
}
