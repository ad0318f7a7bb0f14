// Package messagelog implements the messagelog plugin: an append-only,
// per-target transcript of PRIVMSG traffic written to disk.
package messagelog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircconn"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/proxy"
)

// Name is this plugin's registry key.
const Name = "messagelog"

// Config configures the plugin's root directory, sourced from
// irc/messageLogRoot; one root is shared by every bouncer, each proxy
// writing under <root>/<proxy name>.
type Config struct {
	Root string
}

type state struct {
	proxy *proxy.Proxy
	cfg   Config
}

// New returns a messagelog plugin writing under cfg.Root.
func New(cfg Config) *plugin.Plugin {
	return &plugin.Plugin{
		Name: Name,
		Initialize: func(ctx *plugin.Context) bool {
			s := &state{proxy: ctx.Proxy, cfg: cfg}
			ctx.Set(Name, s)

			ctx.Proxy.Irc.Bus.Attach(ctx.Proxy.Irc, "line", s, eventbus.PriorityNormal, func(_ any, ev ircconn.Event) {
				onUpstreamLine(s, ev)
			})
			ctx.Proxy.Bus.Attach(ctx.Proxy, "client_message", s, eventbus.PriorityNormal, func(_ any, ev proxy.ProxyEvent) {
				onClientMessage(s, ev)
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
	appendEntry(s, target, msg.Raw)
}

func onClientMessage(s *state, ev proxy.ProxyEvent) {
	msg := ev.Message
	if msg.Command != "PRIVMSG" || len(msg.Params) == 0 {
		return
	}
	appendEntry(s, msg.Params[0], msg.Raw)
}

func appendEntry(s *state, target, raw string) {
	if s.proxy.HasRelayException(target) {
		return
	}

	dir := filepath.Join(s.cfg.Root, s.proxy.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	path := filepath.Join(dir, sanitize(target)+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "%s %s\n", time.Now().Format(time.RFC3339), raw)
}

// sanitize lowercases target and replaces anything that isn't a safe
// filename character with an underscore.
func sanitize(target string) string {
	target = strings.ToLower(target)
	var b strings.Builder
	for _, r := range target {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '#':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
