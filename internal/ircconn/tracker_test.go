package ircconn

import (
	"sort"
	"testing"

	"github.com/kalisko-irc/bouncer/internal/eventbus"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
)

func newTrackerTestConn(nick string) *Connection {
	return &Connection{
		Bus:  eventbus.New[*Connection, Event](),
		nick: nick,
	}
}

func deliver(c *Connection, raw string) {
	msg := ircmsg.Parse(raw)
	c.Bus.Trigger(c, "line", Event{Kind: EventLine, Message: msg})
}

func TestTrackerTracksSelfJoin(t *testing.T) {
	c := newTrackerTestConn("bob")
	tr := EnableTracking(c)

	var joined []string
	c.Bus.Attach(c, "channel_join", nil, eventbus.PriorityNormal, func(_ any, ev Event) {
		joined = append(joined, ev.Channel)
	})

	deliver(c, ":bob!user@host JOIN #general")
	deliver(c, ":someoneelse!user@host JOIN #general") // not self, ignored
	deliver(c, ":bob!user@host JOIN #other")

	got := tr.Channels()
	sort.Strings(got)
	want := []string{"#general", "#other"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Channels() = %v, want %v", got, want)
	}
	if len(joined) != 2 {
		t.Fatalf("channel_join fired %d times, want 2", len(joined))
	}
	if !tr.Has("#general") || !tr.Has("#other") {
		t.Fatalf("expected both channels tracked")
	}
}

func TestTrackerUntracksSelfPart(t *testing.T) {
	c := newTrackerTestConn("bob")
	tr := EnableTracking(c)

	var parted []string
	c.Bus.Attach(c, "channel_part", nil, eventbus.PriorityNormal, func(_ any, ev Event) {
		parted = append(parted, ev.Channel)
	})

	deliver(c, ":bob!user@host JOIN #general")
	deliver(c, ":someoneelse!user@host PART #general") // not self, ignored
	if !tr.Has("#general") {
		t.Fatalf("expected #general still tracked after another user's PART")
	}

	deliver(c, ":bob!user@host PART #general :bye")
	if tr.Has("#general") {
		t.Fatalf("expected #general untracked after self PART")
	}
	if len(parted) != 1 || parted[0] != "#general" {
		t.Fatalf("channel_part fired %v, want [#general]", parted)
	}
}

func TestTrackerClearsOnDisconnect(t *testing.T) {
	c := newTrackerTestConn("bob")
	tr := EnableTracking(c)

	deliver(c, ":bob!user@host JOIN #general")
	if len(tr.Channels()) != 1 {
		t.Fatalf("expected 1 tracked channel before disconnect")
	}

	c.Bus.Trigger(c, "disconnect", Event{Kind: EventDisconnect})
	if len(tr.Channels()) != 0 {
		t.Fatalf("expected tracked channels cleared on disconnect, got %v", tr.Channels())
	}
}

func TestTrackerIgnoresMalformedMask(t *testing.T) {
	c := newTrackerTestConn("bob")
	tr := EnableTracking(c)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("tracker panicked on malformed prefix: %v", r)
		}
	}()

	deliver(c, "JOIN #general") // no prefix at all
	deliver(c, ":!!!@@@ JOIN #general")
	deliver(c, ":bob JOIN") // no channel param

	if len(tr.Channels()) != 0 {
		t.Fatalf("expected no channels tracked from malformed input, got %v", tr.Channels())
	}
}

func TestEnableTrackingIsIdempotent(t *testing.T) {
	c := newTrackerTestConn("bob")
	tr1 := EnableTracking(c)
	tr2 := EnableTracking(c)
	if tr1 != tr2 {
		t.Fatalf("EnableTracking called twice returned different trackers")
	}
}

func TestTrackerDisableDetaches(t *testing.T) {
	c := newTrackerTestConn("bob")
	tr := EnableTracking(c)
	tr.Disable()

	if c.Tracker != nil {
		t.Fatalf("expected conn.Tracker cleared after Disable")
	}
	if n := c.Bus.ListenerCount(c, "line"); n != 0 {
		t.Fatalf("expected tracker's line listener detached, got %d remaining", n)
	}

	// A line delivered after Disable must not resurrect tracking.
	deliver(c, ":bob!user@host JOIN #general")
	if len(tr.Channels()) != 0 {
		t.Fatalf("expected tracker inert after Disable, got %v", tr.Channels())
	}
}
