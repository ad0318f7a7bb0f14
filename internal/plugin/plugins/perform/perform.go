// Package perform implements the perform plugin: a per-proxy ordered list
// of raw IRC command strings replayed on every upstream reconnect, editable
// in-band through a virtual *perform bot.
package perform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircconn"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/bot"
	"github.com/kalisko-irc/bouncer/internal/proxy"
)

// Name is this plugin's registry key.
const Name = "perform"

// botTarget is the virtual bot's relay-exception target.
const botTarget = "*perform"

type state struct {
	proxy    *proxy.Proxy
	commands []string
}

// New returns a perform plugin shared by every bouncer; byBouncer is
// irc/perform from the configuration tree, keyed by bouncer name.
func New(byBouncer map[string][]string) *plugin.Plugin {
	return &plugin.Plugin{
		Name: Name,
		Initialize: func(ctx *plugin.Context) bool {
			s := &state{proxy: ctx.Proxy, commands: append([]string(nil), byBouncer[ctx.Proxy.Name]...)}
			ctx.Set(Name, s)

			ctx.Proxy.AddRelayException(botTarget)
			ctx.Proxy.Irc.Bus.Attach(ctx.Proxy.Irc, "reconnect", s, eventbus.PriorityNormal, func(_ any, _ ircconn.Event) {
				onReconnect(s)
			})
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

			ctx.Proxy.Irc.Bus.Detach(ctx.Proxy.Irc, "reconnect", s)
			ctx.Proxy.Bus.Detach(ctx.Proxy, "client_command", s)
			ctx.Proxy.RemoveRelayException(botTarget)
			ctx.Delete(Name)
		},
	}
}

func onReconnect(s *state) {
	for _, cmd := range s.commands {
		s.proxy.Irc.Send("%s", cmd)
	}
}

func onCommand(ev proxy.ProxyEvent, s *state) {
	if ev.Message == nil || len(ev.Message.Params) == 0 || ev.Message.Params[0] != botTarget {
		return
	}
	reply := bot.ReplierFor(ev, botTarget)
	cmd := bot.Parse(ev.Message)

	switch cmd.Name {
	case "help":
		reply("commands: help, list, clear, delete <n>, add <command>, execute")
	case "list":
		if len(s.commands) == 0 {
			reply("perform list is empty")
			return
		}
		for i, c := range s.commands {
			reply(fmt.Sprintf("%d: %s", i+1, c))
		}
	case "clear":
		s.commands = nil
		reply("perform list cleared")
	case "delete":
		n, err := deleteIndex(cmd.Args, len(s.commands))
		if err != nil {
			reply(err.Error())
			return
		}
		s.commands = append(s.commands[:n], s.commands[n+1:]...)
		reply("deleted")
	case "add":
		if len(cmd.Args) == 0 {
			reply("usage: add <command>")
			return
		}
		s.commands = append(s.commands, strings.Join(cmd.Args, " "))
		reply("added")
	case "execute":
		onReconnect(s)
		reply("executed")
	default:
		reply("unknown command, try help")
	}
}

// deleteIndex parses a 1-based "delete <n>" argument into a 0-based slice
// index, validating it against the current list length.
func deleteIndex(args []string, length int) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: delete <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > length {
		return 0, fmt.Errorf("no such entry")
	}
	return n - 1, nil
}
