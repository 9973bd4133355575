// Package mock provides a scripted stt.Provider test double.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// Provider implements stt.Provider with scripted responses. It records every
// call so tests can assert on what the orchestrator sent. Safe for
// concurrent use.
type Provider struct {
	// Result is returned by Transcribe when Err is nil.
	Result stt.Result

	// Err, when non-nil, is returned by Transcribe instead of Result.
	Err error

	// Delay is slept (respecting ctx) before Transcribe returns. Useful for
	// cancellation tests.
	Delay time.Duration

	// HealthResult is returned by HealthCheck. The zero value reports
	// healthy.
	HealthResult *stt.Health

	mu    sync.Mutex
	calls []Call
}

// Call records one Transcribe invocation.
type Call struct {
	Audio types.AudioPayload
	Opts  stt.TranscribeOpts
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio types.AudioPayload, opts stt.TranscribeOpts) (stt.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Audio: audio, Opts: opts})
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return stt.Result{}, &stt.Error{
				Class:    stt.ClassTimeout,
				Provider: p.Result.Provider,
				Message:  "transcription cancelled",
				Cause:    ctx.Err(),
			}
		}
	}
	if p.Err != nil {
		return stt.Result{}, p.Err
	}
	return p.Result, nil
}

// HealthCheck implements stt.Provider.
func (p *Provider) HealthCheck(context.Context) stt.Health {
	if p.HealthResult != nil {
		return *p.HealthResult
	}
	return stt.Health{Healthy: true, Message: "mock"}
}

// Calls returns a copy of all recorded Transcribe calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
