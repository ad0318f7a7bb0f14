// Package ircconn implements the upstream IRC connection: handshake,
// inbound line framing, rate-limited outbound, and (in tracker.go) channel
// membership tracking across reconnects.
package ircconn

import (
	"fmt"
	"time"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/metrics"
	"github.com/kalisko-irc/bouncer/internal/netio"
)

// EventKind distinguishes the shapes of a Connection-level Event.
type EventKind int

const (
	EventLine EventKind = iota
	EventPinged
	EventNick
	EventReconnect
	EventSend
	EventDisconnect
	EventChannelJoin
	EventChannelPart
)

// Event is the argument delivered to listeners attached to a Connection's
// Bus.
type Event struct {
	Kind    EventKind
	Message *ircmsg.Message // set for EventLine
	Line    string          // set for EventSend: the line, without trailing "\n"
	OldNick string          // set for EventNick
	NewNick string          // set for EventNick
	Channel string          // set for EventChannelJoin/EventChannelPart
	Err     error           // set for EventDisconnect, when caused by a connect/I/O error
}

// sendMaxLen mirrors the reference implementation's fixed-capacity format
// buffer: a line longer than this is truncated at the boundary, and framing
// still terminates with "\n".
const sendMaxLen = 4096

// Connection is a single upstream IRC connection.
type Connection struct {
	loop   *netio.Loop
	Socket *netio.Socket
	Bus    *eventbus.Bus[*Connection, Event]

	User     string
	RealName string
	Password string

	nick string

	inbound netio.FrameSink

	throttleEnabled    bool
	outbound           []string
	throttleCreditTime time.Time

	Tracker *ChannelTracker

	nowFn        func() time.Time
	writeNowHook func(line string) // test seam; bypasses Bus/Loop when set

	metrics   *metrics.Metrics
	proxyName string
}

// SetMetrics attaches the gauges this Connection updates as it drains its
// outbound throttle queue. proxyName labels every series it touches. m may
// be nil, which disables metrics updates entirely.
func (c *Connection) SetMetrics(m *metrics.Metrics, proxyName string) {
	c.metrics = m
	c.proxyName = proxyName
}

// Create creates a client socket to server:port, wires the four listeners
// described in the spec (socket connected/read/disconnect, and the
// connection's own "line") plus one on the loop's global "sockets_polled"
// tick that drives DrainThrottle, and initiates an asynchronous connect. It
// returns an error (and tears down any partial state) only on invalid
// arguments; connection failures surface later as a "disconnect" event.
func Create(loop *netio.Loop, server string, port int, password, user, real, nick string) (*Connection, error) {
	if server == "" || nick == "" {
		return nil, fmt.Errorf("ircconn: server and nick are required")
	}

	c := &Connection{
		loop:     loop,
		Socket:   netio.NewClient(server, port),
		Bus:      eventbus.New[*Connection, Event](),
		User:     user,
		RealName: real,
		Password: password,
		nick:     nick,
		nowFn:    time.Now,
	}

	loop.Bus.Attach(c.Socket, "connected", nil, eventbus.PriorityNormal, func(_ any, _ netio.Event) {
		if c.metrics != nil {
			c.metrics.ProxyConnected.WithLabelValues(c.proxyName).Set(1)
		}
		c.authenticate()
	})
	loop.Bus.Attach(c.Socket, "read", nil, eventbus.PriorityNormal, func(_ any, ev netio.Event) {
		c.onRead(ev.Fragment)
	})
	loop.Bus.Attach(c.Socket, "disconnect", nil, eventbus.PriorityNormal, func(_ any, ev netio.Event) {
		if c.metrics != nil {
			c.metrics.ProxyConnected.WithLabelValues(c.proxyName).Set(0)
			if ev.Err != nil {
				c.metrics.UpstreamConnectErrors.Inc()
			}
		}
		c.Bus.Trigger(c, "disconnect", Event{Kind: EventDisconnect, Err: ev.Err})
	})
	c.Bus.Attach(c, "line", nil, eventbus.PriorityNormal, func(_ any, ev Event) {
		c.handleLine(ev.Message)
	})
	loop.Bus.Attach(nil, "sockets_polled", c, eventbus.PriorityNormal, func(_ any, _ netio.Event) {
		c.DrainThrottle()
	})

	loop.EnablePolling(c.Socket)
	loop.ConnectAsync(c.Socket, 10*time.Second)

	return c, nil
}

// Nick returns the currently known nickname (server-assigned after 001/NICK
// echo, user-supplied before then).
func (c *Connection) Nick() string { return c.nick }

func (c *Connection) authenticate() {
	if c.Password != "" {
		c.Send("PASS %s", c.Password)
	}
	c.Send("USER %s 0 0 :%s", c.User, c.RealName)
	c.Send("NICK %s", c.nick)
}

func (c *Connection) onRead(fragment []byte) {
	for _, line := range c.inbound.Feed(fragment) {
		if line == "" {
			continue // collapse successive newlines
		}
		msg := ircmsg.Parse(line)
		if msg == nil || msg.Command == "" {
			continue
		}
		c.Bus.Trigger(c, "line", Event{Kind: EventLine, Message: msg})
	}
}

func (c *Connection) handleLine(msg *ircmsg.Message) {
	switch msg.Command {
	case "PING":
		c.SendFirst("PONG :%s", msg.Trailing)
		c.Bus.Trigger(c, "pinged", Event{Kind: EventPinged})
	case "001":
		if len(msg.Params) > 0 && msg.Params[0] != c.nick {
			old := c.nick
			c.nick = msg.Params[0]
			c.Bus.Trigger(c, "nick", Event{Kind: EventNick, OldNick: old, NewNick: c.nick})
		}
		c.Bus.Trigger(c, "reconnect", Event{Kind: EventReconnect})
	case "NICK":
		if msg.Prefix == "" {
			return
		}
		mask := ircmsg.ParseUserMask(msg.Prefix)
		if mask.Nick == c.nick {
			old := c.nick
			c.nick = msg.Trailing
			if c.nick == "" && len(msg.Params) > 0 {
				c.nick = msg.Params[0]
			}
			c.Bus.Trigger(c, "nick", Event{Kind: EventNick, OldNick: old, NewNick: c.nick})
		}
	}
}

// Send formats into a fixed-capacity buffer and queues or writes it,
// appending a trailing "\n"; it fires "send" once the line actually leaves
// the connection (immediately, if throttling is disabled).
func (c *Connection) Send(format string, args ...any) {
	c.enqueue(formatLine(format, args...), false)
}

// SendFirst is like Send but jumps the outbound queue's head when
// throttling is enabled.
func (c *Connection) SendFirst(format string, args ...any) {
	c.enqueue(formatLine(format, args...), true)
}

func formatLine(format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	if len(s) > sendMaxLen {
		s = s[:sendMaxLen]
	}
	return s
}

func (c *Connection) enqueue(line string, first bool) {
	if !c.throttleEnabled {
		c.writeNow(line)
		return
	}
	if first {
		c.outbound = append([]string{line}, c.outbound...)
	} else {
		c.outbound = append(c.outbound, line)
	}
	c.reportQueueDepth()
}

func (c *Connection) reportQueueDepth() {
	if c.metrics == nil {
		return
	}
	c.metrics.ThrottleQueueDepth.WithLabelValues(c.proxyName).Set(float64(len(c.outbound)))
}

func (c *Connection) writeNow(line string) {
	if c.writeNowHook != nil {
		c.writeNowHook(line)
		return
	}
	c.Bus.Trigger(c, "send", Event{Kind: EventSend, Line: line})
	_ = c.loop.WriteRaw(c.Socket, []byte(line+"\n"))
}

// EnableThrottle turns on credit-based output throttling for this
// connection; the credit is drained once per "sockets_polled" tick (see
// DrainThrottle, attached to the loop's global tick in Create and detached
// in Free).
func (c *Connection) EnableThrottle() {
	if c.throttleEnabled {
		return
	}
	c.throttleEnabled = true
	c.outbound = nil
	c.throttleCreditTime = c.now()
	c.reportQueueDepth()
}

// DisableThrottle turns off throttling. If flush is true, any queued lines
// are sent immediately (in order) before the queue is discarded; otherwise
// they are simply dropped.
func (c *Connection) DisableThrottle(flush bool) {
	if !c.throttleEnabled {
		return
	}
	c.throttleEnabled = false
	pending := c.outbound
	c.outbound = nil
	c.reportQueueDepth()
	if flush && c.Socket.Connected() {
		for _, line := range pending {
			c.writeNow(line)
		}
	}
}

func (c *Connection) now() time.Time {
	if c.nowFn != nil {
		return c.nowFn()
	}
	return time.Now()
}

// DrainThrottle runs one iteration of the credit-based token bucket: cost
// 2+length(line) units per line at a drain rate of 120 units/s (so
// (2+length(line))/120 seconds of credit per line), 10-second look-ahead
// ceiling. It is safe to call unconditionally on every
// "sockets_polled" tick; it is a no-op when throttling is disabled.
func (c *Connection) DrainThrottle() {
	if !c.throttleEnabled {
		return
	}
	if !c.Socket.Connected() {
		c.DisableThrottle(false)
		return
	}

	now := c.now()
	if now.After(c.throttleCreditTime) {
		c.throttleCreditTime = now
	}

	for len(c.outbound) > 0 && c.throttleCreditTime.Sub(now) < 10*time.Second {
		line := c.outbound[0]
		c.outbound = c.outbound[1:]
		c.writeNow(line)
		cost := time.Duration((2.0+float64(len(line)))/120.0*1e9) * time.Nanosecond
		c.throttleCreditTime = c.throttleCreditTime.Add(cost)
	}
	c.reportQueueDepth()
}

// Reconnect re-initiates the connection. It is only valid while the socket
// is disconnected; authentication is re-issued by the "connected" listener
// wired in Create.
func (c *Connection) Reconnect() error {
	if c.Socket.State() != netio.StateDisconnected {
		return fmt.Errorf("ircconn: cannot reconnect a connection that is not disconnected")
	}
	c.loop.ConnectAsync(c.Socket, 10*time.Second)
	return nil
}

// Disconnect forcibly disconnects the underlying socket, firing "disconnect"
// the same way an I/O failure would, without tearing down the Connection's
// own listeners the way Free does.
func (c *Connection) Disconnect() {
	c.loop.Disconnect(c.Socket)
}

// Free tears down the connection: disables throttling without flushing,
// detaches its listeners, and disconnects the socket.
func (c *Connection) Free() {
	c.DisableThrottle(false)
	c.loop.Bus.Detach(c.Socket, "connected", nil)
	c.loop.Bus.Detach(c.Socket, "read", nil)
	c.loop.Bus.Detach(c.Socket, "disconnect", nil)
	c.loop.Bus.Detach(nil, "sockets_polled", c)
	c.Bus.Detach(c, "line", nil)
	c.loop.Disconnect(c.Socket)
}
