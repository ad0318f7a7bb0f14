// Package plugin implements the bouncer's plugin manager: a process-global
// registry of named plugins and a per-proxy handler that enables/disables
// them, matching the lifecycle contract in the plugin catalogue (init/fini
// hooks, relay-exception bookkeeping for in-band bots).
package plugin

import (
	"fmt"

	"github.com/kalisko-irc/bouncer/internal/proxy"
	"github.com/kalisko-irc/bouncer/internal/timer"
)

// Context is everything a plugin's Initialize/Finalize hook needs: the
// proxy it is being enabled on and the shared timer service for scheduling
// (keepalive's challenge/expiry timers, perform's nothing, etc). Store lets
// a plugin stash per-activation state (timer handles, detach tokens)
// between its own Initialize and Finalize calls; state is keyed by the
// plugin's own name, so unrelated plugins sharing a proxy never collide.
type Context struct {
	Proxy  *proxy.Proxy
	Timers *timer.Service

	store   map[string]any
	handler *Handler
}

// Handler returns the per-proxy Handler this Context belongs to, letting a
// plugin (namely the "plugin" management bot) enable/disable its siblings.
func (c *Context) Handler() *Handler {
	return c.handler
}

// Set stashes v under key, scoped to this Context (one per proxy, shared by
// every plugin enabled on it).
func (c *Context) Set(key string, v any) {
	if c.store == nil {
		c.store = make(map[string]any)
	}
	c.store[key] = v
}

// Get retrieves a value previously stored with Set.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.store[key]
	return v, ok
}

// Delete removes a value previously stored with Set.
func (c *Context) Delete(key string) {
	delete(c.store, key)
}

// Plugin is a named, registerable unit of bouncer behaviour. Initialize is
// called once per proxy it is enabled on and must return false (refusing
// activation, leaving no partial state) if it cannot start; Finalize tears
// down whatever Initialize set up.
type Plugin struct {
	Name       string
	Initialize func(ctx *Context) bool
	Finalize   func(ctx *Context)
}

// Registry is a process-global name -> Plugin mapping populated at startup
// (see cmd/bouncerd) before any proxy enables plugins against it.
type Registry struct {
	plugins map[string]*Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*Plugin)}
}

// Register adds p to the registry, replacing any existing plugin of the
// same name.
func (r *Registry) Register(p *Plugin) {
	r.plugins[p.Name] = p
}

// Lookup returns the registered plugin named name, if any.
func (r *Registry) Lookup(name string) (*Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// Handler is the per-proxy plugin handler: the set of plugins currently
// enabled on one proxy. Created by EnablePlugins, torn down by DisableAll.
type Handler struct {
	registry *Registry
	ctx      *Context
	enabled  map[string]*Plugin
}

// EnablePlugins creates a Handler for proxy p backed by registry and
// timers. Calling Enable before this returns a Handler is not representable
// in this API — the compiler enforces the "plugins not enabled on the
// proxy" precondition structurally, instead of at runtime.
func EnablePlugins(registry *Registry, p *proxy.Proxy, timers *timer.Service) *Handler {
	h := &Handler{
		registry: registry,
		ctx:      &Context{Proxy: p, Timers: timers},
		enabled:  make(map[string]*Plugin),
	}
	h.ctx.handler = h
	return h
}

// Enable activates the named plugin on this handler's proxy. It fails if
// the plugin is already loaded, does not exist, or its Initialize hook
// returns false; in every failure case no partial state is left behind.
func (h *Handler) Enable(name string) error {
	if _, already := h.enabled[name]; already {
		return fmt.Errorf("plugin: %q is already loaded", name)
	}
	p, ok := h.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("plugin: %q does not exist", name)
	}
	if !p.Initialize(h.ctx) {
		return fmt.Errorf("plugin: %q failed to initialize", name)
	}
	h.enabled[name] = p
	return nil
}

// Disable deactivates the named plugin, calling its Finalize hook. It fails
// if the plugin is not currently loaded on this handler.
func (h *Handler) Disable(name string) error {
	p, ok := h.enabled[name]
	if !ok {
		return fmt.Errorf("plugin: %q is not loaded", name)
	}
	p.Finalize(h.ctx)
	delete(h.enabled, name)
	return nil
}

// DisableAll finalizes every enabled plugin, in no particular order. It is
// the teardown counterpart of EnablePlugins.
func (h *Handler) DisableAll() {
	for name, p := range h.enabled {
		p.Finalize(h.ctx)
		delete(h.enabled, name)
	}
}

// IsEnabled reports whether name is currently enabled on this handler.
func (h *Handler) IsEnabled(name string) bool {
	_, ok := h.enabled[name]
	return ok
}

// Enabled returns the names of every plugin currently enabled, in no
// particular order.
func (h *Handler) Enabled() []string {
	names := make([]string, 0, len(h.enabled))
	for name := range h.enabled {
		names = append(names, name)
	}
	return names
}
