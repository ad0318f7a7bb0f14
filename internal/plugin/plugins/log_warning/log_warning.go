// Package log_warning registers the warning-level log relay plugin.
package log_warning

import (
	"github.com/sirupsen/logrus"

	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/logrelay"
)

// Name is this plugin's registry key.
const Name = "log_warning"

// New returns the warning-level log relay plugin.
func New() *plugin.Plugin {
	return logrelay.New(Name, logrus.WarnLevel)
}
