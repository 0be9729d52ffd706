package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/llm"
	"github.com/MrWong99/huddle/pkg/provider/stt"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration block.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one provider kind's name to constructor table.
type factories[T any] map[string]Factory[T]

func (f factories[T]) create(kind string, e ProviderEntry) (T, error) {
	var zero T
	factory, ok := f[e.Name]
	if !ok {
		return zero, fmt.Errorf("%s provider %q: %w", kind, e.Name, ErrProviderNotRegistered)
	}
	p, err := factory(e)
	if err != nil {
		return zero, fmt.Errorf("config: create %s provider %q: %w", kind, e.Name, err)
	}
	return p, nil
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   factories[llm.Provider]
	stt   factories[stt.Transcriber]
	tts   factories[tts.Provider]
	audio factories[audio.Platform]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:   make(factories[llm.Provider]),
		stt:   make(factories[stt.Transcriber]),
		tts:   make(factories[tts.Provider]),
		audio: make(factories[audio.Platform]),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Transcriber]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterAudio registers a voice platform factory under name.
func (r *Registry) RegisterAudio(name string, factory Factory[audio.Platform]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateLLM instantiates the LLM provider named by entry.Name.
// Returns [ErrProviderNotRegistered] if no factory is registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create("llm", entry)
}

// CreateSTT instantiates the transcriber named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create("stt", entry)
}

// CreateTTS instantiates the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create("tts", entry)
}

// CreateAudio instantiates the voice platform named by entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create("audio", entry)
}

// Names returns the sorted registered provider names of kind ("llm", "stt",
// "tts" or "audio").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	case "stt":
		return slices.Sorted(maps.Keys(r.stt))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts))
	case "audio":
		return slices.Sorted(maps.Keys(r.audio))
	}
	return nil
}
