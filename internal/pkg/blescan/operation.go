package blescan

import (
	"sync"
	"time"

	"app-swap-go/internal/pkg/bridge"
	"app-swap-go/internal/pkg/logger"
)

// Phase is the state machine value of one scan-to-read cycle. Failed is
// reachable from every non-terminal phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseMatching
	PhaseConnecting
	PhaseReadingService
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseMatching:
		return "matching"
	case PhaseConnecting:
		return "connecting"
	case PhaseReadingService:
		return "reading_service"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Slot names the battery position a cycle is scanning for. A new scan for a
// slot supersedes any prior active operation on that slot.
type Slot string

const (
	SlotOldBattery Slot = "old"
	SlotNewBattery Slot = "new"
)

// Config tunes the state machine.
type Config struct {
	ProductNamePrefix string
	MatchDelays       []time.Duration // per-retry delays of the match phase
	ConnectRetries    int
	ConnectRetryStep  time.Duration // linear backoff step between connects
	ReadRetries       int           // refresh attempts on unreadable energy
	Watchdog          time.Duration // bounds the whole matching→reading span
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		ProductNamePrefix: "OVES",
		MatchDelays: []time.Duration{
			2 * time.Second,
			3 * time.Second,
			4 * time.Second,
			5 * time.Second,
		},
		ConnectRetries:   3,
		ConnectRetryStep: time.Second,
		ReadRetries:      2,
		Watchdog:         90 * time.Second,
	}
}

// DoneFunc receives the terminal outcome of an operation: a reading on
// success, an *Error otherwise.
type DoneFunc func(Reading, error)

// Operation is one scan-to-read cycle. It is driven entirely by bridge
// callbacks and timers; the controller routes events into it.
type Operation struct {
	slot      Slot
	batteryID string
	suffix    string
	cfg       Config
	ch        bridge.Channel
	ctrl      *Controller
	lc        logger.LoggingClient

	mu           sync.Mutex
	phase        Phase
	devices      *deviceSet
	matchAttempt int
	connectRetry int
	readRetry    int
	targetMAC    string
	connected    bool // set on connect success; stale failures are ignored
	finished     bool
	emitDone     bool

	watchdog   *time.Timer
	matchTimer *time.Timer
	retryTimer *time.Timer

	done DoneFunc
}

func newOperation(slot Slot, batteryID string, cfg Config, ch bridge.Channel,
	ctrl *Controller, lc logger.LoggingClient, done DoneFunc) *Operation {
	return &Operation{
		slot:      slot,
		batteryID: batteryID,
		suffix:    idSuffix(batteryID),
		cfg:       cfg,
		ch:        ch,
		ctrl:      ctrl,
		lc:        lc,
		phase:     PhaseIdle,
		devices:   newDeviceSet(cfg.ProductNamePrefix),
		done:      done,
		emitDone:  true,
	}
}

// Slot returns the battery slot this operation scans for.
func (o *Operation) Slot() Slot {
	return o.slot
}

// Phase returns the current phase.
func (o *Operation) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// BatteryID returns the identifier parsed from the QR payload.
func (o *Operation) BatteryID() string {
	return o.batteryID
}

func (o *Operation) targetMACSnapshot() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.targetMAC
}

// start issues the scan command and arms the watchdog.
func (o *Operation) start() {
	o.mu.Lock()
	o.phase = PhaseScanning
	o.mu.Unlock()

	o.lc.Infof("BLE scan started for slot %s (battery %s)", o.slot, o.batteryID)
	o.ch.CallHandler(bridge.CmdStartBleScan, map[string]interface{}{}, func(ack bridge.Ack) {
		if !ack.OK() {
			o.fail(Classify(ack.Reason()))
			return
		}
		o.enterMatching()
	})
}

func (o *Operation) enterMatching() {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseMatching
	o.watchdog = time.AfterFunc(o.cfg.Watchdog, o.onWatchdog)
	o.mu.Unlock()

	o.evaluateMatch()
}

// onDeviceFound accumulates a discovery and opportunistically re-checks the
// match without consuming a retry.
func (o *Operation) onDeviceFound(d Device) {
	o.mu.Lock()
	if o.finished || (o.phase != PhaseScanning && o.phase != PhaseMatching) {
		o.mu.Unlock()
		return
	}
	o.devices.add(d)
	matching := o.phase == PhaseMatching
	o.mu.Unlock()

	if matching {
		o.checkMatch(false)
	}
}

// evaluateMatch is a scheduled match attempt; a miss consumes one retry.
func (o *Operation) evaluateMatch() {
	o.checkMatch(true)
}

func (o *Operation) checkMatch(consume bool) {
	o.mu.Lock()
	if o.finished || o.phase != PhaseMatching {
		o.mu.Unlock()
		return
	}

	var matched *Device
	for _, d := range o.devices.sorted() {
		if nameMatchesSuffix(d.Name, o.suffix) {
			dev := d
			matched = &dev
			break
		}
	}

	if matched != nil {
		o.phase = PhaseConnecting
		o.targetMAC = matched.MAC
		if o.matchTimer != nil {
			o.matchTimer.Stop()
		}
		o.mu.Unlock()

		o.lc.Infof("Matched battery %s to device %s (%s, rssi %d)",
			o.batteryID, matched.Name, matched.MAC, matched.RSSI)
		o.ctrl.releaseScan()
		o.connect()
		return
	}

	if !consume {
		o.mu.Unlock()
		return
	}
	if o.matchAttempt >= len(o.cfg.MatchDelays) {
		o.mu.Unlock()
		o.fail(errNotFound())
		return
	}
	delay := o.cfg.MatchDelays[o.matchAttempt]
	o.matchAttempt++
	o.matchTimer = time.AfterFunc(delay, o.evaluateMatch)
	seen := o.devices.len()
	o.mu.Unlock()

	o.lc.Debugf("No match for %q among %d devices, retry %d in %s",
		o.suffix, seen, o.matchAttempt, delay)
}

func (o *Operation) connect() {
	o.mu.Lock()
	if o.finished || o.phase != PhaseConnecting {
		o.mu.Unlock()
		return
	}
	mac := o.targetMAC
	o.mu.Unlock()

	o.ch.CallHandler(bridge.CmdConnectBle, map[string]interface{}{"mac": mac}, func(ack bridge.Ack) {
		if !ack.OK() {
			o.onConnectFail(ack.Reason())
		}
	})
}

// onConnectSuccess flags the connection before anything else so a stale
// failure callback arriving afterwards cannot undo it.
func (o *Operation) onConnectSuccess(mac string) {
	o.mu.Lock()
	if o.finished || o.phase != PhaseConnecting {
		o.mu.Unlock()
		return
	}
	if mac != "" && mac != o.targetMAC {
		o.mu.Unlock()
		return
	}
	o.connected = true
	o.phase = PhaseReadingService
	o.mu.Unlock()

	o.lc.Debugf("Connected to %s, requesting service data", mac)
	o.requestServiceData()
}

func (o *Operation) onConnectFail(desc string) {
	o.mu.Lock()
	if o.finished || o.connected {
		// late failure after a successful connect is noise
		o.mu.Unlock()
		return
	}
	if o.phase != PhaseConnecting {
		o.mu.Unlock()
		return
	}
	if o.connectRetry >= o.cfg.ConnectRetries {
		o.mu.Unlock()
		o.fail(Classify(desc))
		return
	}
	o.connectRetry++
	delay := time.Duration(o.connectRetry) * o.cfg.ConnectRetryStep
	o.retryTimer = time.AfterFunc(delay, o.connect)
	retry := o.connectRetry
	o.mu.Unlock()

	o.lc.Debugf("Connect failed (%s), retry %d in %s", desc, retry, delay)
}

func (o *Operation) requestServiceData() {
	o.mu.Lock()
	if o.finished || o.phase != PhaseReadingService {
		o.mu.Unlock()
		return
	}
	mac := o.targetMAC
	o.mu.Unlock()

	o.ch.CallHandler(bridge.CmdBleInitServiceData, map[string]interface{}{"mac": mac}, func(ack bridge.Ack) {
		if !ack.OK() {
			o.onServiceDataFailure(ack.Reason())
		}
	})
}

// onServiceData handles a telemetry payload. final marks the completion
// event; progress payloads are only inspected for errors.
func (o *Operation) onServiceData(data ServiceData, final bool) {
	o.mu.Lock()
	if o.finished || o.phase != PhaseReadingService {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if data.Code != "" && !data.Code.OK() {
		cls := Classify(data.Desc)
		if cls.Category == CategoryNotConnected {
			o.fail(cls)
			return
		}
		o.retryRead()
		return
	}
	if !final {
		return
	}

	reading, ok := computeReading(o.batteryID, o.targetMAC, data)
	if !ok {
		o.retryRead()
		return
	}
	o.finish(reading)
}

func (o *Operation) onServiceDataFailure(desc string) {
	cls := Classify(desc)
	if cls.Category == CategoryNotConnected {
		o.fail(cls)
		return
	}
	o.retryRead()
}

// retryRead re-issues the service data request until refresh retries are
// exhausted.
func (o *Operation) retryRead() {
	o.mu.Lock()
	if o.finished || o.phase != PhaseReadingService {
		o.mu.Unlock()
		return
	}
	if o.readRetry >= o.cfg.ReadRetries {
		o.mu.Unlock()
		o.fail(errReadFailed())
		return
	}
	o.readRetry++
	retry := o.readRetry
	o.mu.Unlock()

	o.lc.Debugf("Energy values unreadable, refresh %d", retry)
	o.requestServiceData()
}

func (o *Operation) onWatchdog() {
	o.lc.Warnf("BLE watchdog fired for slot %s in phase %s", o.slot, o.Phase())
	o.fail(errWatchdog())
}

func (o *Operation) finish(reading Reading) {
	o.terminate(PhaseDone, reading, nil)
}

func (o *Operation) fail(err *Error) {
	o.terminate(PhaseFailed, Reading{}, err)
}

// Cancel tears the operation down without invoking its done callback. Used
// when a new scan supersedes this one and on component teardown.
func (o *Operation) Cancel() {
	o.mu.Lock()
	o.emitDone = false
	o.mu.Unlock()
	o.fail(&Error{Category: CategoryUnknown, Message: "operation cancelled"})
}

// terminate settles the operation exactly once: timers cleared, scan
// released, device disconnected if a connection was made.
func (o *Operation) terminate(phase Phase, reading Reading, err error) {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return
	}
	o.finished = true
	o.phase = phase
	for _, t := range []*time.Timer{o.watchdog, o.matchTimer, o.retryTimer} {
		if t != nil {
			t.Stop()
		}
	}
	wasConnected := o.connected
	mac := o.targetMAC
	emit := o.emitDone
	done := o.done
	o.mu.Unlock()

	o.ctrl.operationFinished(o)
	if wasConnected {
		o.ch.CallHandler(bridge.CmdDisconnectBle, map[string]interface{}{"mac": mac}, func(ack bridge.Ack) {
			if !ack.OK() {
				o.lc.Debugf("Disconnect from %s failed: %s", mac, ack.Reason())
			}
		})
	}

	if err != nil {
		o.lc.Warnf("BLE operation for slot %s failed: %s", o.slot, err.Error())
	}
	if emit && done != nil {
		done(reading, err)
	}
}
