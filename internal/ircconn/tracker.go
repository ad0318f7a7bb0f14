package ircconn

import (
	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
)

// Channel is a channel the tracked connection currently believes itself to
// be a member of.
type Channel struct {
	Name string
}

// ChannelTracker follows self-JOIN/PART on a Connection and maintains its
// current channel set, clearing it whenever the upstream disconnects (a
// reconnect will rebuild it from scratch as JOINs replay).
type ChannelTracker struct {
	conn     *Connection
	channels map[string]*Channel
}

// EnableTracking attaches the tracker's listeners to conn and returns it.
// Calling it twice on the same Connection is a no-op that returns the
// existing tracker.
func EnableTracking(conn *Connection) *ChannelTracker {
	if conn.Tracker != nil {
		return conn.Tracker
	}

	t := &ChannelTracker{conn: conn, channels: make(map[string]*Channel)}
	conn.Tracker = t

	conn.Bus.Attach(conn, "line", t, eventbus.PriorityNormal, func(_ any, ev Event) {
		t.onLine(ev.Message)
	})
	conn.Bus.Attach(conn, "disconnect", t, eventbus.PriorityNormal, func(_ any, _ Event) {
		t.channels = make(map[string]*Channel)
	})

	return t
}

func (t *ChannelTracker) onLine(msg *ircmsg.Message) {
	switch msg.Command {
	case "JOIN":
		if msg.Prefix == "" {
			return
		}
		mask := ircmsg.ParseUserMask(msg.Prefix)
		if mask.Nick != t.conn.Nick() {
			return
		}
		name := channelName(msg)
		if name == "" {
			return
		}
		t.channels[name] = &Channel{Name: name}
		t.conn.Bus.Trigger(t.conn, "channel_join", Event{Kind: EventChannelJoin, Channel: name})
	case "PART":
		if msg.Prefix == "" {
			return
		}
		mask := ircmsg.ParseUserMask(msg.Prefix)
		if mask.Nick != t.conn.Nick() {
			return
		}
		name := channelName(msg)
		if name == "" {
			return
		}
		delete(t.channels, name)
		t.conn.Bus.Trigger(t.conn, "channel_part", Event{Kind: EventChannelPart, Channel: name})
	}
}

func channelName(msg *ircmsg.Message) string {
	if len(msg.Params) > 0 && msg.Params[0] != "" {
		return msg.Params[0]
	}
	if msg.HasTrailing {
		return msg.Trailing
	}
	return ""
}

// Channels returns the current set of tracked channel names.
func (t *ChannelTracker) Channels() []string {
	names := make([]string, 0, len(t.channels))
	for name := range t.channels {
		names = append(names, name)
	}
	return names
}

// Has reports whether name is currently tracked.
func (t *ChannelTracker) Has(name string) bool {
	_, ok := t.channels[name]
	return ok
}

// Disable detaches the tracker's listeners from its connection.
func (t *ChannelTracker) Disable() {
	t.conn.Bus.Detach(t.conn, "line", t)
	t.conn.Bus.Detach(t.conn, "disconnect", t)
	t.conn.Tracker = nil
}
