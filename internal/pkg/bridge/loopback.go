package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
)

// CommandFunc serves one command on a Loopback channel.
type CommandFunc func(payload json.RawMessage, cb Callback)

// Loopback is an in-process Channel. Commands are served by installed
// CommandFuncs and events are emitted programmatically, which makes it the
// standard stand-in for the native host in tests and local development.
//
// Emit and CallHandler run their targets synchronously on the calling
// goroutine, so tests stay deterministic. Code using a Channel must
// therefore tolerate callbacks arriving before the call returns.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	commands map[string]CommandFunc
}

// NewLoopback creates an empty loopback channel.
func NewLoopback() *Loopback {
	return &Loopback{
		handlers: make(map[string]Handler),
		commands: make(map[string]CommandFunc),
	}
}

// Handle installs fn as the server for the named command.
func (l *Loopback) Handle(command string, fn CommandFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands[command] = fn
}

// RegisterHandler installs h for the named event, replacing any previous
// handler.
func (l *Loopback) RegisterHandler(event string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[event] = h
}

// UnregisterHandler removes the handler for the named event.
func (l *Loopback) UnregisterHandler(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, event)
}

// CallHandler routes the command to its installed CommandFunc. Unknown
// commands are acknowledged with a 404 code.
func (l *Loopback) CallHandler(command string, payload interface{}, cb Callback) {
	if cb == nil {
		cb = func(Ack) {}
	}
	l.mu.RLock()
	fn, ok := l.commands[command]
	l.mu.RUnlock()
	if !ok {
		cb(AckFail("404", fmt.Sprintf("no handler for command %q", command)))
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		cb(AckFail("400", err.Error()))
		return
	}
	fn(data, cb)
}

// Emit delivers an event to its registered handler, if any. It reports
// whether a handler was invoked.
func (l *Loopback) Emit(event string, payload interface{}) bool {
	l.mu.RLock()
	h, ok := l.handlers[event]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	h(data)
	return true
}

// EmitRaw delivers a pre-encoded event payload to its registered handler.
func (l *Loopback) EmitRaw(event string, payload json.RawMessage) bool {
	l.mu.RLock()
	h, ok := l.handlers[event]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	h(payload)
	return true
}
