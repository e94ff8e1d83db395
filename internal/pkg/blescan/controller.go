package blescan

import (
	"encoding/json"
	"sync"

	"app-swap-go/internal/pkg/bridge"
	"app-swap-go/internal/pkg/logger"
)

// Controller owns the BLE bridge event registrations and the active
// operations, at most one per battery slot. Starting a scan for a slot
// cancels any operation already running on that slot.
type Controller struct {
	ch  bridge.Channel
	lc  logger.LoggingClient
	cfg Config

	mu  sync.Mutex
	ops map[Slot]*Operation
}

// NewController creates a controller and registers the BLE event handlers
// on the channel.
func NewController(ch bridge.Channel, cfg Config, lc logger.LoggingClient) *Controller {
	c := &Controller{
		ch:  ch,
		lc:  lc,
		cfg: cfg,
		ops: make(map[Slot]*Operation),
	}
	c.registerHandlers()
	return c
}

// Scan parses the QR payload and starts a scan-to-read cycle for the slot.
// done receives the terminal outcome exactly once unless the operation is
// cancelled or superseded.
func (c *Controller) Scan(slot Slot, qrPayload string, done DoneFunc) (*Operation, error) {
	batteryID, err := ParseBatteryID(qrPayload)
	if err != nil {
		return nil, err
	}

	op := newOperation(slot, batteryID, c.cfg, c.ch, c, c.lc, done)

	c.mu.Lock()
	prior := c.ops[slot]
	c.ops[slot] = op
	c.mu.Unlock()

	if prior != nil {
		c.lc.Infof("Superseding active BLE operation for slot %s", slot)
		prior.Cancel()
	}

	op.start()
	return op, nil
}

// CancelSlot cancels the active operation for a slot, if any.
func (c *Controller) CancelSlot(slot Slot) {
	c.mu.Lock()
	op := c.ops[slot]
	c.mu.Unlock()
	if op != nil {
		op.Cancel()
	}
}

// Close cancels every active operation and unregisters the event handlers.
func (c *Controller) Close() {
	c.mu.Lock()
	ops := make([]*Operation, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	c.mu.Unlock()

	for _, op := range ops {
		op.Cancel()
	}
	for _, event := range []string{
		bridge.EventFindBleDevice,
		bridge.EventBleConnectSuccess,
		bridge.EventBleConnectFail,
		bridge.EventBleServiceDataOnProgress,
		bridge.EventBleServiceDataOnComplete,
		bridge.EventBleServiceDataFailure,
	} {
		c.ch.UnregisterHandler(event)
	}
}

// Active returns the active operation for a slot, or nil.
func (c *Controller) Active(slot Slot) *Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ops[slot]
}

func (c *Controller) registerHandlers() {
	c.ch.RegisterHandler(bridge.EventFindBleDevice, func(payload json.RawMessage) {
		var d Device
		if err := json.Unmarshal(payload, &d); err != nil {
			c.lc.Debug("Ignoring malformed device discovery:", "error", err.Error())
			return
		}
		for _, op := range c.snapshot() {
			op.onDeviceFound(d)
		}
	})

	c.ch.RegisterHandler(bridge.EventBleConnectSuccess, func(payload json.RawMessage) {
		var ev struct {
			MAC string `json:"mac"`
		}
		_ = json.Unmarshal(payload, &ev)
		for _, op := range c.snapshot() {
			op.onConnectSuccess(ev.MAC)
		}
	})

	c.ch.RegisterHandler(bridge.EventBleConnectFail, func(payload json.RawMessage) {
		var ev struct {
			MAC  string `json:"mac"`
			Desc string `json:"respDesc"`
		}
		_ = json.Unmarshal(payload, &ev)
		for _, op := range c.snapshot() {
			if ev.MAC == "" || ev.MAC == op.targetMACSnapshot() {
				op.onConnectFail(ev.Desc)
			}
		}
	})

	c.ch.RegisterHandler(bridge.EventBleServiceDataOnProgress, func(payload json.RawMessage) {
		c.routeServiceData(payload, false)
	})
	c.ch.RegisterHandler(bridge.EventBleServiceDataOnComplete, func(payload json.RawMessage) {
		c.routeServiceData(payload, true)
	})

	c.ch.RegisterHandler(bridge.EventBleServiceDataFailure, func(payload json.RawMessage) {
		var ev struct {
			Desc string `json:"respDesc"`
		}
		_ = json.Unmarshal(payload, &ev)
		for _, op := range c.snapshot() {
			op.onServiceDataFailure(ev.Desc)
		}
	})
}

func (c *Controller) routeServiceData(payload json.RawMessage, final bool) {
	var data ServiceData
	if err := json.Unmarshal(payload, &data); err != nil {
		c.lc.Debug("Ignoring malformed service data:", "error", err.Error())
		return
	}
	for _, op := range c.snapshot() {
		if data.MAC == "" || data.MAC == op.targetMACSnapshot() {
			op.onServiceData(data, final)
		}
	}
}

func (c *Controller) snapshot() []*Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]*Operation, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	return ops
}

// operationFinished removes a settled operation and stops scanning when no
// remaining operation needs the radio.
func (c *Controller) operationFinished(op *Operation) {
	c.mu.Lock()
	if c.ops[op.slot] == op {
		delete(c.ops, op.slot)
	}
	c.mu.Unlock()
	c.releaseScan()
}

// releaseScan issues a stop-scan command when no active operation is still
// discovering.
func (c *Controller) releaseScan() {
	c.mu.Lock()
	needed := false
	for _, op := range c.ops {
		switch op.Phase() {
		case PhaseScanning, PhaseMatching:
			needed = true
		}
	}
	c.mu.Unlock()

	if needed {
		return
	}
	c.ch.CallHandler(bridge.CmdStopBleScan, map[string]interface{}{}, func(ack bridge.Ack) {
		if !ack.OK() {
			c.lc.Debug("Stop scan failed:", "reason", ack.Reason())
		}
	})
}
