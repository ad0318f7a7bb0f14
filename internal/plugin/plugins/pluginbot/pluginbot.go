// Package pluginbot implements the "plugin" plugin: an in-band virtual bot
// at *plugin letting an authenticated client list, load, and unload the
// other plugins enabled on its proxy.
package pluginbot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/bot"
	"github.com/kalisko-irc/bouncer/internal/proxy"
)

// Name is this plugin's registry key.
const Name = "plugin"

// botTarget is the virtual bot's relay-exception target.
const botTarget = "*plugin"

type state struct {
	ctx *plugin.Context
}

// New returns the plugin-management bot.
func New() *plugin.Plugin {
	return &plugin.Plugin{
		Name: Name,
		Initialize: func(ctx *plugin.Context) bool {
			s := &state{ctx: ctx}
			ctx.Set(Name, s)

			ctx.Proxy.AddRelayException(botTarget)
			ctx.Proxy.Bus.Attach(ctx.Proxy, "client_command", s, eventbus.PriorityNormal, func(_ any, ev proxy.ProxyEvent) {
				onCommand(ev, s)
			})
			return true
		},
		Finalize: func(ctx *plugin.Context) {
			v, ok := ctx.Get(Name)
			if !ok {
				return
			}
			s := v.(*state)

			ctx.Proxy.Bus.Detach(ctx.Proxy, "client_command", s)
			ctx.Proxy.RemoveRelayException(botTarget)
			ctx.Delete(Name)
		},
	}
}

func onCommand(ev proxy.ProxyEvent, s *state) {
	if ev.Message == nil || len(ev.Message.Params) == 0 || ev.Message.Params[0] != botTarget {
		return
	}
	reply := bot.ReplierFor(ev, botTarget)
	cmd := bot.Parse(ev.Message)
	h := s.ctx.Handler()

	switch cmd.Name {
	case "help":
		reply("commands: help, list, load <name>, unload <name>")
	case "list":
		names := h.Enabled()
		if len(names) == 0 {
			reply("no plugins loaded")
			return
		}
		sort.Strings(names)
		reply("loaded: " + strings.Join(names, ", "))
	case "load":
		if len(cmd.Args) != 1 {
			reply("usage: load <name>")
			return
		}
		if err := h.Enable(cmd.Args[0]); err != nil {
			reply(err.Error())
			return
		}
		reply(fmt.Sprintf("loaded %s", cmd.Args[0]))
	case "unload":
		if len(cmd.Args) != 1 {
			reply("usage: unload <name>")
			return
		}
		if cmd.Args[0] == Name {
			reply("refusing to unload the plugin bot itself")
			return
		}
		if err := h.Disable(cmd.Args[0]); err != nil {
			reply(err.Error())
			return
		}
		reply(fmt.Sprintf("unloaded %s", cmd.Args[0]))
	default:
		reply("unknown command, try help")
	}
}
