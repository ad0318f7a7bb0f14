// Package log_error registers the error-level log relay plugin.
package log_error

import (
	"github.com/sirupsen/logrus"

	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/logrelay"
)

// Name is this plugin's registry key.
const Name = "log_error"

// New returns the error-level log relay plugin.
func New() *plugin.Plugin {
	return logrelay.New(Name, logrus.ErrorLevel)
}
