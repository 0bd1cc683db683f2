package payment

import (
	"fmt"
	"sort"
	"strings"
)

// Registry resolves gateways by the name stored on each payment
type Registry struct {
	gateways    map[string]Gateway
	defaultName string
}

// NewRegistry creates a registry whose Default() is the gateway named defaultName
func NewRegistry(defaultName string, gateways ...Gateway) *Registry {
	r := &Registry{
		gateways:    make(map[string]Gateway, len(gateways)),
		defaultName: strings.ToLower(defaultName),
	}
	for _, g := range gateways {
		r.gateways[strings.ToLower(g.Name())] = g
	}
	return r
}

// Get returns the gateway registered under name
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
	return g, nil
}

// Default returns the gateway used for new payments
func (r *Registry) Default() (Gateway, error) {
	return r.Get(r.defaultName)
}

// Names lists the registered gateway names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
