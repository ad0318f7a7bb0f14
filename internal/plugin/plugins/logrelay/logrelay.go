// Package logrelay implements the shared machinery behind the
// log_debug/info/warning/error plugins: each subscribes to the process-wide
// logging bus and mirrors lines at its own level to every authenticated
// client of the proxy it is enabled on, as a PRIVMSG from a virtual *log
// bot.
package logrelay

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/log"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/bot"
)

// botTarget is the virtual bot's relay-exception-style target; log relays
// never accept in-band commands, but still speak from this mask.
const botTarget = "*log"

// botSource is the full mask every relayed line is spoken as.
var botSource = bot.Source(botTarget)

var tagColor = map[logrus.Level]*color.Color{
	logrus.DebugLevel: color.New(color.FgCyan),
	logrus.InfoLevel:  color.New(color.FgGreen),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.ErrorLevel: color.New(color.FgRed),
}

type state struct {
	ctx   *plugin.Context
	level logrus.Level
	tag   string
}

// New returns a log relay plugin named name, mirroring only lines logged at
// exactly level.
func New(name string, level logrus.Level) *plugin.Plugin {
	return &plugin.Plugin{
		Name: name,
		Initialize: func(ctx *plugin.Context) bool {
			s := &state{ctx: ctx, level: level, tag: tag(level)}
			ctx.Set(name, s)
			log.Bus.Attach(struct{}{}, "log", s, eventbus.PriorityNormal, func(_ any, ev log.Event) {
				onLog(s, ev)
			})
			return true
		},
		Finalize: func(ctx *plugin.Context) {
			v, ok := ctx.Get(name)
			if !ok {
				return
			}
			s := v.(*state)
			log.Bus.Detach(struct{}{}, "log", s)
			ctx.Delete(name)
		},
	}
}

func onLog(s *state, ev log.Event) {
	if ev.Level != s.level {
		return
	}
	nick := s.ctx.Proxy.Irc.Nick()
	line := fmt.Sprintf(":%s PRIVMSG %s :%s %s: %s", botSource, nick, s.tag, ev.Module, ev.Message)
	for _, c := range s.ctx.Proxy.Clients {
		if !c.Authenticated() {
			continue
		}
		c.SendLine(line)
	}
}

func tag(level logrus.Level) string {
	c, ok := tagColor[level]
	if !ok {
		c = color.New(color.FgWhite)
	}
	return c.Sprintf("[%s]", level.String())
}
