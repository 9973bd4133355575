package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// transcriptionStub fakes the transcription endpoint and records the last
// multipart form it received.
type transcriptionStub struct {
	t      *testing.T
	status int
	body   string

	lastLanguage string
	lastModel    string
}

func (s *transcriptionStub) start() *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			s.t.Errorf("request is not a multipart form: %v", err)
		}
		s.lastLanguage = r.FormValue("language")
		s.lastModel = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		// Keep SDK retry backoff out of test runtime.
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(s.status)
		fmt.Fprint(w, s.body)
	}))
	s.t.Cleanup(srv.Close)
	return srv
}

func newStubProvider(t *testing.T, stub *transcriptionStub, model, language string) *Provider {
	t.Helper()
	stub.t = t
	srv := stub.start()
	p, err := New("sk-test", model, language, WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func wavPayload(n int) types.AudioPayload {
	return types.AudioPayload{Bytes: make([]byte, n), ContentType: "audio/wav"}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "whisper-1", ""); err == nil {
		t.Error("New with empty apiKey succeeded")
	}

	p, err := New("sk-test", "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("model = %q, want default %q", p.model, defaultModel)
	}
}

func TestTranscribe_HappyPath(t *testing.T) {
	stub := &transcriptionStub{status: http.StatusOK, body: `{"text": "What is the weather today"}`}
	p := newStubProvider(t, stub, "whisper-1", "")

	res, err := p.Transcribe(context.Background(), wavPayload(64), stt.TranscribeOpts{TurnID: "t-1"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "What is the weather today" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Provider != types.ProviderOpenAI || res.Model != "whisper-1" {
		t.Errorf("attribution = %q/%q", res.Provider, res.Model)
	}
	if stub.lastModel != "whisper-1" {
		t.Errorf("model form field = %q", stub.lastModel)
	}
}

func TestTranscribe_LanguagePrecedence(t *testing.T) {
	stub := &transcriptionStub{status: http.StatusOK, body: `{"text": "ok"}`}
	p := newStubProvider(t, stub, "whisper-1", "en")

	// The per-call hint wins over the configured default.
	res, err := p.Transcribe(context.Background(), wavPayload(8), stt.TranscribeOpts{LanguageHint: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if stub.lastLanguage != "de" {
		t.Errorf("language form field = %q, want de", stub.lastLanguage)
	}
	if res.Language != "de" {
		t.Errorf("result language = %q, want de", res.Language)
	}

	// Without a hint the configured default applies.
	if _, err := p.Transcribe(context.Background(), wavPayload(8), stt.TranscribeOpts{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if stub.lastLanguage != "en" {
		t.Errorf("language form field = %q, want en", stub.lastLanguage)
	}
}

func TestTranscribe_OversizedPayloadRejectedLocally(t *testing.T) {
	stub := &transcriptionStub{status: http.StatusOK, body: `{"text": "never reached"}`}
	p := newStubProvider(t, stub, "whisper-1", "")

	_, err := p.Transcribe(context.Background(), wavPayload(maxUploadBytes+1), stt.TranscribeOpts{})
	se, ok := stt.AsError(err)
	if !ok || se.Class != stt.ClassAudioInvalid {
		t.Errorf("error = %v, want AUDIO_INVALID class", err)
	}
}

func TestTranscribe_EmptyTextIsAudioInvalid(t *testing.T) {
	stub := &transcriptionStub{status: http.StatusOK, body: `{"text": ""}`}
	p := newStubProvider(t, stub, "whisper-1", "")

	_, err := p.Transcribe(context.Background(), wavPayload(8), stt.TranscribeOpts{})
	se, ok := stt.AsError(err)
	if !ok || se.Class != stt.ClassAudioInvalid {
		t.Errorf("error = %v, want AUDIO_INVALID class", err)
	}
}

func TestTranscribe_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   stt.Class
	}{
		{http.StatusUnauthorized, stt.ClassAuth},
		{http.StatusForbidden, stt.ClassAuth},
		{http.StatusTooManyRequests, stt.ClassRateLimited},
		{http.StatusInternalServerError, stt.ClassUnavailable},
		{http.StatusBadRequest, stt.ClassAudioInvalid},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			stub := &transcriptionStub{
				status: tt.status,
				body:   `{"error": {"message": "nope", "type": "invalid_request_error"}}`,
			}
			p := newStubProvider(t, stub, "whisper-1", "")

			_, err := p.Transcribe(context.Background(), wavPayload(8), stt.TranscribeOpts{})
			se, ok := stt.AsError(err)
			if !ok {
				t.Fatalf("Transcribe = %v, want *stt.Error", err)
			}
			if se.Class != tt.want {
				t.Errorf("class for status %d = %q, want %q", tt.status, se.Class, tt.want)
			}
		})
	}
}

func TestTranscribe_Cancellation(t *testing.T) {
	stub := &transcriptionStub{status: http.StatusOK, body: `{"text": "ok"}`}
	p := newStubProvider(t, stub, "whisper-1", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Transcribe(ctx, wavPayload(8), stt.TranscribeOpts{})
	se, ok := stt.AsError(err)
	if !ok || se.Class != stt.ClassTimeout {
		t.Errorf("error = %v, want TIMEOUT class", err)
	}
}
