// Package log_info registers the info-level log relay plugin.
package log_info

import (
	"github.com/sirupsen/logrus"

	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/logrelay"
)

// Name is this plugin's registry key.
const Name = "log_info"

// New returns the info-level log relay plugin.
func New() *plugin.Plugin {
	return logrelay.New(Name, logrus.InfoLevel)
}
