// Package proxy implements the per-user IRC bouncer proxy: a server socket
// accepting downstream clients, a PASS-based authentication state machine,
// bidirectional relay with relay exceptions, and replay hooks for
// reattaching clients.
package proxy

import (
	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircconn"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/metrics"
	"github.com/kalisko-irc/bouncer/internal/netio"
)

// ProxyEventKind distinguishes the shapes of a Proxy-level Event.
type ProxyEventKind int

const (
	EventClientAuthenticated ProxyEventKind = iota
	EventClientDisconnected
	EventReattached
	EventClientCommand
	EventClientMessage
)

// ProxyEvent is the argument delivered to listeners attached to a Proxy's
// Bus.
type ProxyEvent struct {
	Kind    ProxyEventKind
	Client  *Client
	Message *ircmsg.Message // set for EventClientCommand and EventClientMessage
}

// Proxy is a single named bouncer endpoint wrapping one upstream
// ircconn.Connection. The wrapped connection is borrowed, not owned: Free
// never disconnects it.
type Proxy struct {
	Name     string
	Irc      *ircconn.Connection
	Password string
	Clients  []*Client

	relayExceptions map[string]struct{}

	Bus *eventbus.Bus[*Proxy, ProxyEvent]

	loop     *netio.Loop
	listener *Listener
	metrics  *metrics.Metrics
}

// New creates a Proxy wrapping irc and wires the upstream-to-clients relay
// listener on irc's line event. m may be nil (metrics disabled).
func New(loop *netio.Loop, name string, irc *ircconn.Connection, password string, m *metrics.Metrics) *Proxy {
	p := &Proxy{
		Name:            name,
		Irc:             irc,
		Password:        password,
		relayExceptions: make(map[string]struct{}),
		Bus:             eventbus.New[*Proxy, ProxyEvent](),
		loop:            loop,
		metrics:         m,
	}

	irc.Bus.Attach(irc, "line", p, eventbus.PriorityNormal, func(_ any, ev ircconn.Event) {
		p.relayToClients(ev.Message)
	})

	irc.SetMetrics(m, name)

	return p
}

// AddRelayException registers target (a PRIVMSG/NOTICE first parameter) as
// never forwarded upstream: client lines addressed to it are intercepted,
// typically by an in-band plugin bot.
func (p *Proxy) AddRelayException(target string) {
	p.relayExceptions[target] = struct{}{}
}

// RemoveRelayException reverses AddRelayException.
func (p *Proxy) RemoveRelayException(target string) {
	delete(p.relayExceptions, target)
}

// HasRelayException reports whether target is currently intercepted.
func (p *Proxy) HasRelayException(target string) bool {
	_, ok := p.relayExceptions[target]
	return ok
}

// relayToClients forwards a verbatim upstream line to every authenticated
// client, skipping PING (the upstream keepalive is answered by whoever owns
// the upstream connection, never forwarded downstream).
func (p *Proxy) relayToClients(msg *ircmsg.Message) {
	if msg.Command == "PING" {
		return
	}
	for _, c := range p.Clients {
		if !c.authenticated {
			continue
		}
		c.writeLine(p.loop, msg.Raw)
	}
}

func (p *Proxy) removeClient(c *Client) {
	for i, cc := range p.Clients {
		if cc == c {
			p.Clients = append(p.Clients[:i], p.Clients[i+1:]...)
			return
		}
	}
}

func (p *Proxy) setListener(l *Listener) { p.listener = l }

// Free sends reason to every attached client as a QUIT, disconnects them,
// detaches the relay listener from the upstream connection, and
// unregisters from the owning Listener. The wrapped upstream connection is
// left untouched.
func (p *Proxy) Free(reason string) {
	for _, c := range p.Clients {
		c.writeLine(p.loop, "QUIT :"+reason)
		p.loop.Disconnect(c.socket)
	}
	p.Clients = nil

	p.Irc.Bus.Detach(p.Irc, "line", p)
	if p.listener != nil {
		p.listener.Unregister(p)
	}
}
