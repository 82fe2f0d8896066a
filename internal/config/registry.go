package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/domainscribe/pkg/audio"
	"github.com/MrWong99/domainscribe/pkg/provider/llm"
	"github.com/MrWong99/domainscribe/pkg/provider/stt"
	"github.com/MrWong99/domainscribe/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ClassifierFactory builds one speech classifier per recording session.
type ClassifierFactory func(vad.Sensitivity) (vad.Classifier, error)

// factories is one provider kind's name → constructor table.
type factories[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	audio factories[audio.Backend]
	vad   factories[ClassifierFactory]
	stt   factories[stt.Transcriber]
	llm   factories[llm.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio: newFactories[audio.Backend]("audio"),
		vad:   newFactories[ClassifierFactory]("vad"),
		stt:   newFactories[stt.Transcriber]("stt"),
		llm:   newFactories[llm.Provider]("llm"),
	}
}

// RegisterAudio registers an audio backend factory under name. Subsequent
// calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = factory
}

// RegisterVAD registers a classifier factory constructor under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (ClassifierFactory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// CreateAudio instantiates the audio backend registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create(entry)
}

// CreateVAD returns the classifier factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (ClassifierFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vad.create(entry)
}

// CreateSTT instantiates the transcriber registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// Names returns the sorted provider names registered for kind ("audio",
// "vad", "stt" or "llm"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "audio":
		return r.audio.names()
	case "vad":
		return r.vad.names()
	case "stt":
		return r.stt.names()
	case "llm":
		return r.llm.names()
	}
	return nil
}
