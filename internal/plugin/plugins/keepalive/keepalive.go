// Package keepalive implements the keepalive plugin: a PING/PONG challenge
// on a timer, escalating to a forced disconnect and scheduled reconnect
// when the upstream stops answering.
package keepalive

import (
	"strconv"
	"time"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircconn"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/proxy"
	"github.com/kalisko-irc/bouncer/internal/timer"
)

// Name is this plugin's registry key.
const Name = "keepalive"

// Config holds the plugin's three timers, configurable via
// irc/keepalive/{interval,timeout,reconnectTimeout}.
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	ReconnectTimeout time.Duration
}

// DefaultConfig mirrors the reference implementation's defaults: a 120s
// challenge interval, 10s challenge timeout, 10s reconnect delay.
func DefaultConfig() Config {
	return Config{
		Interval:         120 * time.Second,
		Timeout:          10 * time.Second,
		ReconnectTimeout: 10 * time.Second,
	}
}

type state struct {
	cfg  Config
	conn *ircconn.Connection

	pending   bool
	challenge string
	counter   int64

	scheduleTimer *timer.Timer
	expiryTimer   *timer.Timer
}

// New returns a keepalive plugin configured with cfg.
func New(cfg Config) *plugin.Plugin {
	return &plugin.Plugin{
		Name: Name,
		Initialize: func(ctx *plugin.Context) bool {
			s := &state{cfg: cfg, conn: ctx.Proxy.Irc}
			ctx.Set(Name, s)

			s.conn.Bus.Attach(s.conn, "line", s, eventbus.PriorityNormal, func(_ any, ev ircconn.Event) {
				onLine(ctx, s, ev)
			})
			s.conn.Bus.Attach(s.conn, "disconnect", s, eventbus.PriorityNormal, func(_ any, _ ircconn.Event) {
				onDisconnect(ctx, s)
			})
			s.conn.Bus.Attach(s.conn, "reconnect", s, eventbus.PriorityNormal, func(_ any, _ ircconn.Event) {
				armSchedule(ctx, s)
			})
			ctx.Proxy.Bus.Attach(ctx.Proxy, "bouncer_reattached", s, eventbus.PriorityNormal, func(_ any, _ proxy.ProxyEvent) {
				armSchedule(ctx, s)
			})

			if s.conn.Socket.Connected() {
				armSchedule(ctx, s)
			}
			return true
		},
		Finalize: func(ctx *plugin.Context) {
			v, ok := ctx.Get(Name)
			if !ok {
				return
			}
			s := v.(*state)

			s.conn.Bus.Detach(s.conn, "line", s)
			s.conn.Bus.Detach(s.conn, "disconnect", s)
			s.conn.Bus.Detach(s.conn, "reconnect", s)
			ctx.Proxy.Bus.Detach(ctx.Proxy, "bouncer_reattached", s)
			cancelTimers(ctx, s)
			ctx.Delete(Name)
		},
	}
}

func armSchedule(ctx *plugin.Context, s *state) {
	cancelScheduleTimer(ctx, s)
	s.scheduleTimer = ctx.Timers.AddTimeout(s.cfg.Interval, func() { challenge(ctx, s) })
}

func challenge(ctx *plugin.Context, s *state) {
	if s.pending {
		// A previous challenge is still outstanding; skip this round but
		// keep the schedule alive.
		armSchedule(ctx, s)
		return
	}

	s.counter++
	s.challenge = strconv.FormatInt(s.counter, 10)
	s.pending = true
	s.conn.SendFirst("PING :%s", s.challenge)
	s.expiryTimer = ctx.Timers.AddTimeout(s.cfg.Timeout, func() { onExpiry(s) })
	armSchedule(ctx, s)
}

func onExpiry(s *state) {
	if !s.pending {
		return
	}
	s.pending = false
	s.conn.Disconnect()
}

func onLine(ctx *plugin.Context, s *state, ev ircconn.Event) {
	if ev.Message.Command != "PONG" || !s.pending {
		return
	}
	if pongToken(ev.Message) == s.challenge {
		s.pending = false
		cancelExpiryTimer(ctx, s)
	}
}

func pongToken(msg *ircmsg.Message) string {
	if msg.HasTrailing {
		return msg.Trailing
	}
	if len(msg.Params) > 0 {
		return msg.Params[len(msg.Params)-1]
	}
	return ""
}

func onDisconnect(ctx *plugin.Context, s *state) {
	s.pending = false
	cancelScheduleTimer(ctx, s)
	cancelExpiryTimer(ctx, s)
	ctx.Timers.AddTimeout(s.cfg.ReconnectTimeout, func() {
		_ = s.conn.Reconnect()
	})
}

func cancelScheduleTimer(ctx *plugin.Context, s *state) {
	if s.scheduleTimer != nil {
		ctx.Timers.Cancel(s.scheduleTimer)
		s.scheduleTimer = nil
	}
}

func cancelExpiryTimer(ctx *plugin.Context, s *state) {
	if s.expiryTimer != nil {
		ctx.Timers.Cancel(s.expiryTimer)
		s.expiryTimer = nil
	}
}

func cancelTimers(ctx *plugin.Context, s *state) {
	cancelScheduleTimer(ctx, s)
	cancelExpiryTimer(ctx, s)
}
