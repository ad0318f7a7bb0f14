// Package lua implements the "lua" plugin: an in-band virtual bot at *lua
// that forwards its trailing text to a pluggable Evaluator and replays the
// result line by line.
package lua

import (
	"strings"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/bot"
	"github.com/kalisko-irc/bouncer/internal/proxy"
)

// Name is this plugin's registry key.
const Name = "lua"

// botTarget is the virtual bot's relay-exception target.
const botTarget = "*lua"

// Evaluator evaluates a snippet of text and returns its result, split into
// the lines it should be replayed as. A real embedding would hand this off
// to a Lua interpreter; none is wired into this module, so New defaults to
// TrivialEvaluator.
type Evaluator interface {
	Eval(source string) ([]string, error)
}

type state struct {
	eval Evaluator
}

// New returns a lua bot backed by eval. Pass nil to use TrivialEvaluator.
func New(eval Evaluator) *plugin.Plugin {
	if eval == nil {
		eval = TrivialEvaluator{}
	}
	return &plugin.Plugin{
		Name: Name,
		Initialize: func(ctx *plugin.Context) bool {
			s := &state{eval: eval}
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
	source := ev.Message.Trailing
	if source == "" {
		reply("usage: <expression>")
		return
	}

	lines, err := s.eval.Eval(source)
	if err != nil {
		reply("error: " + err.Error())
		return
	}
	for _, line := range lines {
		reply(line)
	}
}

// TrivialEvaluator understands a handful of arithmetic forms ("2 + 2",
// "10 * 4") and otherwise echoes its input verbatim, one line per newline in
// the source. It exists to exercise the bot-dispatch and line-replay
// contract without embedding a real interpreter.
type TrivialEvaluator struct{}

// Eval implements Evaluator.
func (TrivialEvaluator) Eval(source string) ([]string, error) {
	if result, ok := evalArithmetic(source); ok {
		return []string{result}, nil
	}
	return strings.Split(source, "\n"), nil
}
