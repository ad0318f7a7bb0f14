// Package log provides the bouncer's structured logging: a logrus entry per
// module, matching the reference runtime's log(module, level, message)
// contract, plus a Bus that the log_debug/info/warning/error plugins
// subscribe to (see Event), implemented as a logrus Hook rather than a
// second, parallel dispatch path.
package log

import (
	"github.com/sirupsen/logrus"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
)

var base = logrus.New()

// For returns a logging entry scoped to module, e.g. log.For("irc_proxy").
func For(module string) *logrus.Entry {
	return base.WithField("module", module)
}

// SetLevel sets the minimum level base and every module entry will emit.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Event is the argument delivered to Bus listeners: one per logged line
// that passed the configured level filter.
type Event struct {
	Module  string
	Level   logrus.Level
	Message string
}

// Bus fires "log" once per emitted line, module-tagged; subscribed to by
// the log relay plugins to mirror lines into authenticated bouncer clients.
var Bus = eventbus.New[struct{}, Event]()

type busHook struct{}

func (busHook) Levels() []logrus.Level { return logrus.AllLevels }

func (busHook) Fire(e *logrus.Entry) error {
	module, _ := e.Data["module"].(string)
	Bus.Trigger(struct{}{}, "log", Event{Module: module, Level: e.Level, Message: e.Message})
	return nil
}

func init() {
	base.AddHook(busHook{})
}
