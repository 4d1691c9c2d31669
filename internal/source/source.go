package source

import (
	"fmt"

	"SignalScanner/internal/ports"
)

// Registry keeps a mapping from source names to their implementations, so
// the configured ingestion source (live collector, replay file, ...) can be
// resolved at wiring time.
type Registry struct {
	sources map[string]ports.MessageSource
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[string]ports.MessageSource{}}
}

// Register adds or replaces a message source implementation.
func (r *Registry) Register(src ports.MessageSource) {
	if r.sources == nil {
		r.sources = map[string]ports.MessageSource{}
	}
	r.sources[src.Name()] = src
}

// Resolve returns a source by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.MessageSource, error) {
	if src, ok := r.sources[name]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("message source %s is not registered", name)
}
