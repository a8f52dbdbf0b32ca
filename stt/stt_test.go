package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	samples := []float32{0, 1, -1, 2, -0.5}
	wav := encodeWAV(samples, SampleRate)

	if len(wav) != 44+2*len(samples) {
		t.Fatalf("len = %d, want %d", len(wav), 44+2*len(samples))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("bad header markers: %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != SampleRate {
		t.Errorf("sample rate = %d, want %d", rate, SampleRate)
	}

	want := []int16{0, 32767, -32767, 32767, -16383}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(wav[44+2*i:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestOpenAI_Transcribe(t *testing.T) {
	var gotModel, gotLanguage, gotAuth string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		if f, _, err := r.FormFile("file"); err == nil {
			gotAudio, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text": " next slide "}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	if !p.IsReady() {
		t.Fatal("provider with key should be ready")
	}

	res, err := p.Transcribe(context.Background(), make([]float32, 160), "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "next slide" {
		t.Errorf("Text = %q, want %q", res.Text, "next slide")
	}
	if gotModel != "whisper-1" || gotLanguage != "en" {
		t.Errorf("model = %q, language = %q", gotModel, gotLanguage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(gotAudio) != 44+320 || string(gotAudio[:4]) != "RIFF" {
		t.Errorf("uploaded %d bytes, want a 364 byte WAV", len(gotAudio))
	}

	// "auto" leaves detection to the API.
	if _, err := p.Transcribe(context.Background(), make([]float32, 16), "auto"); err != nil {
		t.Fatalf("Transcribe(auto) error = %v", err)
	}
	if gotLanguage != "" {
		t.Errorf("language = %q for auto, want empty", gotLanguage)
	}
}

func TestOpenAI_NotReady(t *testing.T) {
	p := NewOpenAI(OpenAIConfig{})
	if p.IsReady() {
		t.Error("provider without key should not be ready")
	}
	if _, err := p.Transcribe(context.Background(), nil, ""); !errors.Is(err, ErrNotReady) {
		t.Errorf("Transcribe() error = %v, want ErrNotReady", err)
	}
}

type stubProvider struct {
	name   string
	ready  bool
	closed bool
}

func (s *stubProvider) Name() string        { return s.name }
func (s *stubProvider) DisplayName() string { return s.name }
func (s *stubProvider) IsReady() bool       { return s.ready }

func (s *stubProvider) Close() error {
	s.closed = true
	return nil
}

func (s *stubProvider) Transcribe(context.Context, []float32, string) (*TranscribeResult, error) {
	return &TranscribeResult{Text: s.name}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b", ready: true}
	r.Register(b)
	r.Register(a)

	if got := r.Get("a"); got != a {
		t.Errorf("Get(a) = %v", got)
	}
	if got := r.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %v, want nil", got)
	}
	if list := r.List(); len(list) != 2 || list[0].Name() != "a" {
		t.Errorf("List() = %v", list)
	}
	if got := r.Ready(); got != b {
		t.Errorf("Ready() = %v, want b", got)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Close() did not close every provider")
	}
	if len(r.List()) != 0 {
		t.Error("registry not empty after Close")
	}
}
