package correlate

import (
	"fmt"
)

// SignalIdempotentReplay marks a response whose operation was already
// performed; the cached result is replayed instead of re-executing. Every
// flow accepts it as success.
const SignalIdempotentReplay = "IDEMPOTENT_REPLAY"

// metadata key holding the replayed result of an idempotent response
const cachedResultKey = "cached_result"

// DomainError is a well-formed response whose signals indicate rejection.
type DomainError struct {
	Signal  string
	Message string
}

func (e *DomainError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Signal)
	}
	return e.Message
}

// Vocabulary is one flow's outcome-signal vocabulary. A flow with an empty
// vocabulary treats any success:true response as success.
type Vocabulary struct {
	// Success lists the recognized success signals.
	Success []string
	// Errors lists signals that are fatal regardless of the success flag.
	Errors []string
	// Messages maps signals to user-facing text.
	Messages map[string]string
	// Default is the fallback failure message.
	Default string
}

// Result is an accepted response plus the data source the flow should read.
type Result struct {
	Env      *ResponseEnvelope
	Replayed bool
	// Data is the envelope metadata, or the cached result when the
	// response is an idempotent replay.
	Data map[string]interface{}
}

// Evaluate decides whether env is a genuine success under this vocabulary.
// Fatal error signals win over success:true; success:true with no
// recognized signal is a failure, not a success.
func (v Vocabulary) Evaluate(env *ResponseEnvelope) (*Result, error) {
	for _, sig := range v.Errors {
		if env.HasSignal(sig) {
			return nil, &DomainError{Signal: sig, Message: v.message(sig, env)}
		}
	}

	if env.HasSignal(SignalIdempotentReplay) && env.Success {
		res := &Result{Env: env, Replayed: true, Data: env.Metadata}
		if cached, ok := env.Metadata[cachedResultKey].(map[string]interface{}); ok {
			res.Data = cached
		}
		return res, nil
	}

	if env.Success && v.empty() {
		return &Result{Env: env, Data: env.Metadata}, nil
	}

	if env.Success {
		for _, sig := range v.Success {
			if env.HasSignal(sig) {
				return &Result{Env: env, Data: env.Metadata}, nil
			}
		}
	}

	return nil, &DomainError{Signal: firstKnown(v, env), Message: v.message(firstKnown(v, env), env)}
}

func (v Vocabulary) empty() bool {
	return len(v.Success) == 0 && len(v.Errors) == 0
}

// message resolves failure text: per-flow signal table, then the response's
// own reason/message/error fields, then the flow default.
func (v Vocabulary) message(signal string, env *ResponseEnvelope) string {
	if signal != "" {
		if m, ok := v.Messages[signal]; ok {
			return m
		}
	}
	if r := env.MetadataString("reason"); r != "" {
		return r
	}
	if m := env.MetadataString("message"); m != "" {
		return m
	}
	if env.Err != "" {
		return env.Err
	}
	if v.Default != "" {
		return v.Default
	}
	return "operation was rejected by the service"
}

func firstKnown(v Vocabulary, env *ResponseEnvelope) string {
	for _, sig := range env.Signals {
		if _, ok := v.Messages[sig]; ok {
			return sig
		}
	}
	return ""
}
