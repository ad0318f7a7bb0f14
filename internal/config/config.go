// Package config loads the bouncer's configuration tree: a typed union of
// string/integer/float/list/map values, backed by viper (format-agnostic:
// YAML, TOML, JSON) and bound into structs via mapstructure tags, the same
// two-library combination nabbar-golib's component config loaders use.
package config

import (
	"github.com/spf13/viper"
)

// Remote describes the upstream IRC server a bouncer connects to.
type Remote struct {
	Server   string `mapstructure:"server"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Real     string `mapstructure:"real"`
	Nick     string `mapstructure:"nick"`
	Password string `mapstructure:"password"`
	Throttle bool   `mapstructure:"throttle"`
}

// MessageBufferOverride overrides the default per-target line cap for one
// specific target.
type MessageBufferOverride struct {
	MaxLines int `mapstructure:"maxLines"`
}

// MessageBuffer configures the messagebuffer plugin for one bouncer.
type MessageBuffer struct {
	MaxLines int                              `mapstructure:"maxLines"`
	Specific map[string]MessageBufferOverride `mapstructure:"specific"`
}

// Bouncer is one entry under irc/bouncers/<name>.
type Bouncer struct {
	Remote        Remote        `mapstructure:"remote"`
	Password      string        `mapstructure:"password"`
	Plugins       []string      `mapstructure:"plugins"`
	MessageBuffer MessageBuffer `mapstructure:"messagebuffer"`
}

// Keepalive configures the keepalive plugin's timers, in seconds.
type Keepalive struct {
	Interval         int `mapstructure:"interval"`
	Timeout          int `mapstructure:"timeout"`
	ReconnectTimeout int `mapstructure:"reconnectTimeout"`
}

// Proxy configures the process-global bouncer listener.
type Proxy struct {
	Port string `mapstructure:"port"`
}

// IRC is the irc/ subtree.
type IRC struct {
	Bouncers       map[string]Bouncer  `mapstructure:"bouncers"`
	Perform        map[string][]string `mapstructure:"perform"`
	Keepalive      Keepalive           `mapstructure:"keepalive"`
	Proxy          Proxy               `mapstructure:"proxy"`
	MessageLogRoot string              `mapstructure:"messageLogRoot"`
}

// Root is the whole configuration tree.
type Root struct {
	IRC IRC `mapstructure:"irc"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("irc.proxy.port", "6677")
	v.SetDefault("irc.keepalive.interval", 120)
	v.SetDefault("irc.keepalive.timeout", 10)
	v.SetDefault("irc.keepalive.reconnectTimeout", 10)
	v.SetDefault("irc.bouncers", map[string]any{})
	v.SetDefault("irc.perform", map[string]any{})
	v.SetDefault("irc.messageLogRoot", "messagelogs")
}

// Load reads and unmarshals path into a Root. The file format is inferred
// from its extension (viper supports YAML/TOML/JSON/etc. transparently).
func Load(path string) (*Root, error) {
	v := viper.New()
	v.SetConfigFile(path)
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var root Root
	if err := v.Unmarshal(&root); err != nil {
		return nil, err
	}
	return &root, nil
}
