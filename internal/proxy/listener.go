package proxy

import (
	"fmt"
	"strings"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/metrics"
	"github.com/kalisko-irc/bouncer/internal/netio"
)

// serverSource is the prefix the listener itself speaks as, before a client
// has attached to a proxy and inherited that proxy's upstream host.
const serverSource = "kalisko.proxy"

// Listener is the process-global server socket downstream bouncer clients
// connect to. One Listener serves every registered Proxy; a client
// identifies which proxy it wants via the PASS handshake.
type Listener struct {
	loop    *netio.Loop
	socket  *netio.Socket
	metrics *metrics.Metrics

	proxies map[string]*Proxy
	clients map[*netio.Socket]*Client
}

// NewListener binds a server socket on port and wires its accept path. m
// may be nil (metrics disabled).
func NewListener(loop *netio.Loop, port int, m *metrics.Metrics) (*Listener, error) {
	sock, err := netio.NewServer(port)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		loop:    loop,
		socket:  sock,
		metrics: m,
		proxies: make(map[string]*Proxy),
		clients: make(map[*netio.Socket]*Client),
	}

	loop.Bus.Attach(sock, "accept", nil, eventbus.PriorityNormal, func(_ any, ev netio.Event) {
		l.onAccept(ev.Accepted)
	})
	loop.EnablePolling(sock)

	return l, nil
}

// Addr returns the listener's bound address, useful to discover an
// ephemeral port requested with port 0.
func (l *Listener) Addr() string {
	return l.socket.Addr().String()
}

// Register makes p reachable by PASS <p.Name>:<password>.
func (l *Listener) Register(p *Proxy) {
	l.proxies[p.Name] = p
	p.setListener(l)
	if l.metrics != nil {
		l.metrics.ProxyClients.WithLabelValues(p.Name).Set(0)
	}
}

// Unregister removes p; already-attached clients are unaffected (Proxy.Free
// is responsible for disconnecting them first).
func (l *Listener) Unregister(p *Proxy) {
	delete(l.proxies, p.Name)
}

func (l *Listener) onAccept(sock *netio.Socket) {
	l.loop.EnablePolling(sock)

	c := &Client{socket: sock, loop: l.loop, Bus: eventbus.New[*Client, ClientEvent]()}
	l.clients[sock] = c

	l.loop.Bus.Attach(sock, "read", c, eventbus.PriorityNormal, func(_ any, ev netio.Event) {
		c.onRead(ev.Fragment)
	})
	l.loop.Bus.Attach(sock, "disconnect", c, eventbus.PriorityNormal, func(_ any, _ netio.Event) {
		l.onClientDisconnect(c)
	})
	c.Bus.Attach(c, "line", nil, eventbus.PriorityNormal, func(_ any, ev ClientEvent) {
		l.onClientLine(c, ev.Message)
	})

	c.writeLine(l.loop, fmt.Sprintf(":%s NOTICE AUTH :*** Welcome... please use PASS [id]:[password]", serverSource))
}

func (l *Listener) onClientLine(c *Client, msg *ircmsg.Message) {
	if !c.authenticated {
		if msg.Command == "PASS" {
			l.authenticate(c, msg)
		}
		return
	}

	p := c.proxy
	switch msg.Command {
	case "PING":
		c.writeLine(l.loop, "PONG :"+pingToken(msg))
	case "USER":
		// Dropped silently: the bouncer already authenticated upstream.
	case "QUIT":
		l.loop.Disconnect(c.socket)
	case "PRIVMSG", "NOTICE":
		if len(msg.Params) > 0 && p.HasRelayException(msg.Params[0]) {
			if l.metrics != nil {
				l.metrics.RelayExceptionsTotal.WithLabelValues(p.Name).Inc()
			}
			p.Bus.Trigger(p, "client_command", ProxyEvent{Kind: EventClientCommand, Client: c, Message: msg})
			return
		}
		p.Irc.Send("%s", msg.Raw)
		p.Bus.Trigger(p, "client_message", ProxyEvent{Kind: EventClientMessage, Client: c, Message: msg})
	default:
		p.Irc.Send("%s", msg.Raw)
	}
}

func pingToken(msg *ircmsg.Message) string {
	if msg.HasTrailing {
		return msg.Trailing
	}
	if len(msg.Params) > 0 {
		return msg.Params[0]
	}
	return ""
}

func (l *Listener) authenticate(c *Client, msg *ircmsg.Message) {
	cred := authToken(msg)
	name, password, ok := splitCredential(cred)
	if !ok {
		c.writeLine(l.loop, fmt.Sprintf(":%s NOTICE AUTH :*** Invalid IRC proxy ID %s", serverSource, cred))
		return
	}

	p, exists := l.proxies[name]
	if !exists {
		c.writeLine(l.loop, fmt.Sprintf(":%s NOTICE AUTH :*** Invalid IRC proxy ID %s", serverSource, name))
		return
	}
	if p.Password != password {
		c.writeLine(l.loop, fmt.Sprintf(":%s NOTICE AUTH :*** Login incorrect for IRC proxy ID %s", serverSource, name))
		return
	}

	c.proxy = p
	c.authenticated = true
	p.Clients = append(p.Clients, c)

	host := serverSource
	if p.Irc != nil && p.Irc.Socket != nil && p.Irc.Socket.Host != "" {
		host = p.Irc.Socket.Host
	}
	nick := p.Irc.Nick()
	c.writeLine(l.loop, fmt.Sprintf(":%s 001 %s :You were successfully authenticated...", host, nick))
	c.writeLine(l.loop, fmt.Sprintf(":%s 251 %s :There are %d clients online on this bouncer", host, nick, len(p.Clients)))

	if l.metrics != nil {
		l.metrics.ProxyClients.WithLabelValues(p.Name).Set(float64(len(p.Clients)))
	}
	p.Bus.Trigger(p, "client_authenticated", ProxyEvent{Kind: EventClientAuthenticated, Client: c})
}

func authToken(msg *ircmsg.Message) string {
	if len(msg.Params) > 0 && msg.Params[0] != "" {
		return msg.Params[0]
	}
	if msg.HasTrailing {
		return msg.Trailing
	}
	return ""
}

func splitCredential(s string) (name, password string, ok bool) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func (l *Listener) onClientDisconnect(c *Client) {
	delete(l.clients, c.socket)
	l.loop.Bus.Detach(c.socket, "read", c)
	l.loop.Bus.Detach(c.socket, "disconnect", c)
	c.Bus.Detach(c, "line", nil)

	if c.proxy == nil {
		return
	}
	p := c.proxy
	p.removeClient(c)
	c.proxy = nil
	c.authenticated = false

	if l.metrics != nil {
		l.metrics.ProxyClients.WithLabelValues(p.Name).Set(float64(len(p.Clients)))
	}
	p.Bus.Trigger(p, "client_disconnected", ProxyEvent{Kind: EventClientDisconnected, Client: c})
}
