package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned when a [ProviderEntry] names a
// backend no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// VADFactory builds a classifier. Classifiers are tuned by
// voice.aggressiveness, so they also receive the voice settings.
type VADFactory func(entry ProviderEntry, voice VoiceConfig) (vad.Classifier, error)

// Factory builds one pipeline backend from its config entry.
type Factory[P any] func(entry ProviderEntry) (P, error)

// factories is the per-kind half of a [Registry]. Later registrations under
// the same name win.
type factories[F any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]F
}

func newFactories[F any](kind string) *factories[F] {
	return &factories[F]{kind: kind, byName: make(map[string]F)}
}

func (f *factories[F]) set(name string, factory F) {
	f.mu.Lock()
	f.byName[name] = factory
	f.mu.Unlock()
}

func (f *factories[F]) get(name string) (F, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	factory, ok := f.byName[name]
	if !ok {
		return factory, fmt.Errorf("%w: %s/%q (registered: %s)",
			ErrProviderNotRegistered, f.kind, name, strings.Join(slices.Sorted(maps.Keys(f.byName)), ", "))
	}
	return factory, nil
}

func (f *factories[F]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.byName))
}

// Registry resolves the provider names of a [ProvidersConfig] to
// constructors, one namespace per pipeline stage. It is safe for concurrent
// use.
type Registry struct {
	vad *factories[VADFactory]
	stt *factories[Factory[stt.Provider]]
	llm *factories[Factory[llm.Provider]]
	tts *factories[Factory[tts.Provider]]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad: newFactories[VADFactory]("vad"),
		stt: newFactories[Factory[stt.Provider]]("stt"),
		llm: newFactories[Factory[llm.Provider]]("llm"),
		tts: newFactories[Factory[tts.Provider]]("tts"),
	}
}

func (r *Registry) RegisterVAD(name string, f VADFactory)            { r.vad.set(name, f) }
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { r.stt.set(name, f) }
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.llm.set(name, f) }
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { r.tts.set(name, f) }

// Names lists the registered names per stage, e.g. Names()["llm"].
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		r.vad.kind: r.vad.names(),
		r.stt.kind: r.stt.names(),
		r.llm.kind: r.llm.names(),
		r.tts.kind: r.tts.names(),
	}
}

// CreateVAD builds the classifier named by entry, tuned by voice.
func (r *Registry) CreateVAD(entry ProviderEntry, voice VoiceConfig) (vad.Classifier, error) {
	f, err := r.vad.get(entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry, voice)
}

func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) { return create(r.stt, entry) }
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return create(r.llm, entry) }
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) { return create(r.tts, entry) }

func create[P any](f *factories[Factory[P]], entry ProviderEntry) (P, error) {
	factory, err := f.get(entry.Name)
	if err != nil {
		var zero P
		return zero, err
	}
	return factory(entry)
}
