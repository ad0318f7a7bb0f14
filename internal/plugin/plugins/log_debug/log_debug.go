// Package log_debug registers the debug-level log relay plugin.
package log_debug

import (
	"github.com/sirupsen/logrus"

	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/logrelay"
)

// Name is this plugin's registry key.
const Name = "log_debug"

// New returns the debug-level log relay plugin.
func New() *plugin.Plugin {
	return logrelay.New(Name, logrus.DebugLevel)
}
