package proxy

import (
	"fmt"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/netio"
)

// ClientEventKind distinguishes the shapes of a Client-level Event.
type ClientEventKind int

const (
	ClientEventLine ClientEventKind = iota
)

// ClientEvent is the argument delivered to listeners attached to a Client's
// own bus.
type ClientEvent struct {
	Kind    ClientEventKind
	Message *ircmsg.Message
}

// Client is a single downstream bouncer connection: a socket that has not
// yet authenticated, or has authenticated and attached to a Proxy.
//
// Invariant: proxy is non-nil if and only if authenticated is true; proxy
// is a borrowed back-pointer (the Proxy owns the Client via its Clients
// slice, not the other way around).
type Client struct {
	proxy         *Proxy
	socket        *netio.Socket
	authenticated bool
	inbound       netio.FrameSink
	loop          *netio.Loop

	Bus *eventbus.Bus[*Client, ClientEvent]
}

// Authenticated reports whether the client has completed the PASS
// handshake and attached to a Proxy.
func (c *Client) Authenticated() bool { return c.authenticated }

// Proxy returns the client's attached Proxy, or nil if still unauthenticated.
func (c *Client) Proxy() *Proxy { return c.proxy }

func (c *Client) onRead(fragment []byte) {
	for _, line := range c.inbound.Feed(fragment) {
		if line == "" {
			continue
		}
		msg := ircmsg.Parse(line)
		if msg == nil || msg.Command == "" {
			continue
		}
		c.Bus.Trigger(c, "line", ClientEvent{Kind: ClientEventLine, Message: msg})
	}
}

// writeLine sends a raw line to the client, appending the trailing "\n".
func (c *Client) writeLine(loop *netio.Loop, line string) {
	_ = loop.WriteRaw(c.socket, []byte(line+"\n"))
}

// SendLine writes a raw, fully-formed IRC line directly to the client,
// bypassing relay/auth logic entirely. Used by plugins replaying buffered
// state to a single target that may not be the client's own nick.
func (c *Client) SendLine(line string) {
	c.writeLine(c.loop, line)
}

// Reply sends a PRIVMSG to the client as if spoken by source, addressed to
// the client's (shared, upstream) nick. Used by in-band bots replying to a
// relay-exception command.
func (c *Client) Reply(source, text string) {
	if c.proxy == nil {
		return
	}
	nick := c.proxy.Irc.Nick()
	c.writeLine(c.loop, fmt.Sprintf(":%s PRIVMSG %s :%s", source, nick, text))
}
