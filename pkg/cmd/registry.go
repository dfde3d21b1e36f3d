package cmd

import (
	"sort"
	"sync"
)

// Registry stores commands by name. It does not dispatch; the router looks
// commands up and runs them with its own invocation.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	mws      []Middleware
}

// NewRegistry returns an empty registry whose commands are wrapped with mws.
func NewRegistry(mws ...Middleware) *Registry {
	return &Registry{commands: make(map[string]Command), mws: mws}
}

// Register adds c wrapped in the registry middleware.
func (r *Registry) Register(c Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[c.Name()] = Apply(c, r.mws...)
}

// Get returns the command with the given name, or nil.
func (r *Registry) Get(name string) Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[name]
}

// GetAll returns all registered commands, sorted by name.
func (r *Registry) GetAll() []Command {
	r.mu.RLock()
	list := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}
