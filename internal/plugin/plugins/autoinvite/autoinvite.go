// Package autoinvite implements the autoinvite plugin: automatically
// joining any channel the bouncer's upstream nick is invited to.
package autoinvite

import (
	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircconn"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/plugin"
)

// Name is this plugin's registry key.
const Name = "autoinvite"

// New returns the autoinvite plugin.
func New() *plugin.Plugin {
	return &plugin.Plugin{
		Name: Name,
		Initialize: func(ctx *plugin.Context) bool {
			conn := ctx.Proxy.Irc
			conn.Bus.Attach(conn, "line", ctx, eventbus.PriorityNormal, func(_ any, ev ircconn.Event) {
				onLine(ctx, ev)
			})
			return true
		},
		Finalize: func(ctx *plugin.Context) {
			conn := ctx.Proxy.Irc
			conn.Bus.Detach(conn, "line", ctx)
		},
	}
}

func onLine(ctx *plugin.Context, ev ircconn.Event) {
	msg := ev.Message
	if msg.Command != "INVITE" || len(msg.Params) < 1 {
		return
	}
	if msg.Params[0] != ctx.Proxy.Irc.Nick() {
		return
	}

	channel := channelFromInvite(msg)
	if channel == "" {
		return
	}
	ctx.Proxy.Irc.Send("JOIN %s", channel)
}

func channelFromInvite(msg *ircmsg.Message) string {
	if msg.HasTrailing {
		return msg.Trailing
	}
	if len(msg.Params) > 1 {
		return msg.Params[1]
	}
	return ""
}
