package controller

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/warren-mq/warren/logger"
)

// Registry maps camelized controller names ("TestUser") to their
// definitions. The namespace only qualifies names in logs; lookup is
// by bare name.
type Registry struct {
	namespace string
	log       zerolog.Logger

	mu          sync.RWMutex
	controllers map[string]*Definition
}

// NewRegistry builds an empty registry under a namespace, e.g. "Rpc".
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace:   namespace,
		log:         logger.Component("registry"),
		controllers: map[string]*Definition{},
	}
}

// Namespace returns the configured controller namespace.
func (r *Registry) Namespace() string { return r.namespace }

// Register adds a controller. Registering the same name twice replaces
// the earlier definition.
func (r *Registry) Register(d *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.controllers[d.Name()]; exists {
		r.log.Warn().Str("controller", r.Qualify(d.Name())).Msg("controller replaced")
	}
	r.controllers[d.Name()] = d
}

// Resolve looks a controller up by its camelized name.
func (r *Registry) Resolve(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.controllers[name]
	return d, ok
}

// Qualify renders the namespaced name used in logs and error bodies.
func (r *Registry) Qualify(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "::" + name
}

// Names returns the registered controller names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	return names
}
