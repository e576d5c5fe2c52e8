package events

import "sort"

// Registry maps event names to handlers. It is built once at startup and never
// modified afterwards.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry copies handlers into a new Registry.
func NewRegistry(handlers map[string]Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for name, h := range handlers {
		if h != nil {
			r.handlers[name] = h
		}
	}
	return r
}

// Lookup returns the handler registered for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered event names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
