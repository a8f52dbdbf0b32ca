// Package stt provides the speech-to-text provider interface and its
// OpenAI implementation.
package stt

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// SampleRate is the PCM rate providers expect.
const SampleRate = 16000

// ErrNotReady is returned when a provider is missing credentials.
var ErrNotReady = errors.New("stt: provider not ready")

// TranscribeResult is the text recognised in one audio clip.
type TranscribeResult struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Provider turns audio into text.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// DisplayName returns the human-readable provider name.
	DisplayName() string

	// IsReady reports whether Transcribe can be called.
	IsReady() bool

	// Transcribe converts mono float32 PCM at SampleRate to text.
	// language is a language code, empty or "auto" to detect.
	Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error)

	// Close releases resources held by the provider.
	Close() error
}

// Registry holds registered providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider called name, or nil.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns the registered providers sorted by name.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Ready returns the first ready provider in name order, or nil.
func (r *Registry) Ready() Provider {
	for _, p := range r.List() {
		if p.IsReady() {
			return p
		}
	}
	return nil
}

// Close releases all providers and returns the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for name, p := range r.providers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.providers, name)
	}
	return first
}
