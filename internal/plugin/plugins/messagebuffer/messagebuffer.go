// Package messagebuffer implements the messagebuffer plugin: a per-target,
// bounded scrollback of recent PRIVMSG traffic replayed to a client on
// reattach.
package messagebuffer

import (
	"fmt"
	"sort"
	"time"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircconn"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/bot"
	"github.com/kalisko-irc/bouncer/internal/proxy"
)

// botSource is the mask replayed lines are framed as; messagebuffer has no
// in-band commands, but still speaks from the same kind of virtual source
// every plugin-originated line uses.
var botSource = bot.Source("*messagebuffer")

// Name is this plugin's registry key.
const Name = "messagebuffer"

// defaultMaxLines is the per-target cap absent any override.
const defaultMaxLines = 50

// Config configures the plugin's default and per-target line caps, sourced
// from irc/bouncers/<name>/messagebuffer.
type Config struct {
	MaxLines int
	Specific map[string]int
}

// DefaultConfig returns the reference 50-line default with no per-target
// overrides.
func DefaultConfig() Config {
	return Config{MaxLines: defaultMaxLines}
}

type entry struct {
	at  time.Time
	raw string
}

type state struct {
	proxy   *proxy.Proxy
	cfg     Config
	buffers map[string][]entry
}

// New returns a messagebuffer plugin shared by every bouncer; byBouncer is
// keyed by bouncer name, typically irc/bouncers/<name>/messagebuffer from
// the configuration tree. A bouncer absent from byBouncer gets
// DefaultConfig().
func New(byBouncer map[string]Config) *plugin.Plugin {
	return &plugin.Plugin{
		Name: Name,
		Initialize: func(ctx *plugin.Context) bool {
			cfg, ok := byBouncer[ctx.Proxy.Name]
			if !ok || cfg.MaxLines <= 0 {
				cfg = DefaultConfig()
			}
			s := &state{proxy: ctx.Proxy, cfg: cfg, buffers: make(map[string][]entry)}
			ctx.Set(Name, s)

			ctx.Proxy.Irc.Bus.Attach(ctx.Proxy.Irc, "line", s, eventbus.PriorityNormal, func(_ any, ev ircconn.Event) {
				onUpstreamLine(s, ev)
			})
			ctx.Proxy.Bus.Attach(ctx.Proxy, "client_message", s, eventbus.PriorityNormal, func(_ any, ev proxy.ProxyEvent) {
				onClientMessage(s, ev)
			})
			ctx.Proxy.Bus.Attach(ctx.Proxy, "bouncer_reattached", s, eventbus.PriorityNormal, func(_ any, ev proxy.ProxyEvent) {
				onReattached(s, ev)
			})
			return true
		},
		Finalize: func(ctx *plugin.Context) {
			v, ok := ctx.Get(Name)
			if !ok {
				return
			}
			s := v.(*state)

			ctx.Proxy.Irc.Bus.Detach(ctx.Proxy.Irc, "line", s)
			ctx.Proxy.Bus.Detach(ctx.Proxy, "client_message", s)
			ctx.Proxy.Bus.Detach(ctx.Proxy, "bouncer_reattached", s)
			ctx.Delete(Name)
		},
	}
}

func onUpstreamLine(s *state, ev ircconn.Event) {
	msg := ev.Message
	if msg.Command != "PRIVMSG" || len(msg.Params) == 0 {
		return
	}
	target := msg.Params[0]
	if target == s.proxy.Irc.Nick() {
		target = ircmsg.ParseUserMask(msg.Prefix).Nick
	}
	record(s, target, msg.Raw)
}

func onClientMessage(s *state, ev proxy.ProxyEvent) {
	msg := ev.Message
	if msg.Command != "PRIVMSG" || len(msg.Params) == 0 {
		return
	}
	record(s, msg.Params[0], msg.Raw)
}

func record(s *state, target, raw string) {
	if s.proxy.HasRelayException(target) {
		return
	}
	maxLines := s.cfg.MaxLines
	if n, ok := s.cfg.Specific[target]; ok && n > 0 {
		maxLines = n
	}

	buf := append(s.buffers[target], entry{at: time.Now(), raw: raw})
	if len(buf) > maxLines {
		buf = buf[len(buf)-maxLines:]
	}
	s.buffers[target] = buf
}

func onReattached(s *state, ev proxy.ProxyEvent) {
	if ev.Client == nil {
		return
	}

	targets := make([]string, 0, len(s.buffers))
	for t := range s.buffers {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, target := range targets {
		buf := s.buffers[target]
		if len(buf) == 0 {
			continue
		}
		ev.Client.SendLine(frame(target, "Message buffer playback..."))
		for _, e := range buf {
			ev.Client.SendLine(e.raw)
		}
		ev.Client.SendLine(frame(target, "Message buffer playback complete!"))
		delete(s.buffers, target)
	}
}

func frame(target, text string) string {
	return fmt.Sprintf(":%s PRIVMSG %s :%s", botSource, target, text)
}
