// Package bouncer is the orchestrator (C9): it reads the configuration
// tree's irc/bouncers map, builds one upstream connection, Proxy, and
// plugin Handler per entry, wires the reattach replay, and keeps the
// running set in sync with the configuration tree across hot reloads.
package bouncer

import (
	"fmt"
	"sync"

	"github.com/kalisko-irc/bouncer/internal/config"
	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircconn"
	"github.com/kalisko-irc/bouncer/internal/log"
	"github.com/kalisko-irc/bouncer/internal/metrics"
	"github.com/kalisko-irc/bouncer/internal/netio"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/proxy"
	"github.com/kalisko-irc/bouncer/internal/timer"
)

var logger = log.For("bouncer")

type instance struct {
	conn    *ircconn.Connection
	proxy   *proxy.Proxy
	handler *plugin.Handler
}

// Manager owns every running bouncer instance and keeps it in sync with a
// configuration tree.
type Manager struct {
	loop     *netio.Loop
	listener *proxy.Listener
	registry *plugin.Registry
	timers   *timer.Service
	metrics  *metrics.Metrics

	mu      sync.Mutex
	running map[string]*instance
}

// New creates an empty Manager. Call Sync to bring up bouncers from a
// configuration tree.
func New(loop *netio.Loop, listener *proxy.Listener, registry *plugin.Registry, timers *timer.Service, m *metrics.Metrics) *Manager {
	return &Manager{
		loop:     loop,
		listener: listener,
		registry: registry,
		timers:   timers,
		metrics:  m,
		running:  make(map[string]*instance),
	}
}

// Sync reconciles the running set against cfg: bouncers present in cfg but
// not yet running are started; bouncers running but absent from cfg are
// torn down. A bouncer already running when Sync is called is left
// untouched — changing a live bouncer's remote/password/plugin list
// requires removing and re-adding its entry (see DESIGN.md). Errors
// starting individual bouncers are collected and returned, not fatal to the
// rest of the sync.
func (m *Manager) Sync(cfg *config.Root) []error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	seen := make(map[string]struct{}, len(cfg.IRC.Bouncers))

	for name, bc := range cfg.IRC.Bouncers {
		seen[name] = struct{}{}
		if _, already := m.running[name]; already {
			continue
		}
		inst, err := m.start(name, bc)
		if err != nil {
			errs = append(errs, fmt.Errorf("bouncer %q: %w", name, err))
			continue
		}
		m.running[name] = inst
		logger.WithField("bouncer", name).Info("bouncer started")
	}

	for name, inst := range m.running {
		if _, ok := seen[name]; ok {
			continue
		}
		m.stop(inst)
		delete(m.running, name)
		logger.WithField("bouncer", name).Info("bouncer removed")
	}

	return errs
}

// Stop tears down every running bouncer. Used on process shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, inst := range m.running {
		m.stop(inst)
		delete(m.running, name)
	}
}

func (m *Manager) start(name string, bc config.Bouncer) (*instance, error) {
	remote := bc.Remote
	conn, err := ircconn.Create(m.loop, remote.Server, remote.Port, remote.Password, remote.User, remote.Real, remote.Nick)
	if err != nil {
		return nil, err
	}
	if remote.Throttle {
		conn.EnableThrottle()
	}
	ircconn.EnableTracking(conn)

	p := proxy.New(m.loop, name, conn, bc.Password, m.metrics)
	m.listener.Register(p)

	handler := plugin.EnablePlugins(m.registry, p, m.timers)
	for _, pluginName := range bc.Plugins {
		if err := handler.Enable(pluginName); err != nil {
			logger.WithError(err).WithField("plugin", pluginName).Warn("failed to enable plugin")
		}
	}

	p.Bus.Attach(p, "client_authenticated", p, eventbus.PriorityNormal, func(_ any, ev proxy.ProxyEvent) {
		replay(conn, p, ev.Client)
	})

	return &instance{conn: conn, proxy: p, handler: handler}, nil
}

func (m *Manager) stop(inst *instance) {
	inst.proxy.Bus.Detach(inst.proxy, "client_authenticated", inst.proxy)
	inst.handler.DisableAll()
	inst.proxy.Free("bouncer removed from configuration")
	inst.conn.Free()
}

// replay implements the reattach replay contract: for each channel the
// upstream currently believes itself a member of, send the reattached
// client a synthetic JOIN and ask the upstream for fresh NAMES/TOPIC, then
// fire bouncer_reattached so plugins (messagebuffer) can layer in further
// state.
func replay(conn *ircconn.Connection, p *proxy.Proxy, c *proxy.Client) {
	if c == nil || conn.Tracker == nil {
		return
	}

	nick := conn.Nick()
	host := conn.Socket.Host
	for _, channel := range conn.Tracker.Channels() {
		c.SendLine(fmt.Sprintf(":%s!%s@%s JOIN %s", nick, conn.User, host, channel))
		conn.Send("NAMES %s", channel)
		conn.Send("TOPIC %s", channel)
	}

	p.Bus.Trigger(p, "bouncer_reattached", proxy.ProxyEvent{Kind: proxy.EventReattached, Client: c})
}
