// Package bot factors out the small command-parsing idiom shared by every
// in-band virtual bot (*perform, *plugin, *lua; *log takes no commands and
// uses only Source): turning a
// PRIVMSG/NOTICE addressed to the bot's relay-exception target into a
// command name plus argument string, and a closure to send replies back.
package bot

import (
	"fmt"
	"strings"

	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/proxy"
)

// Command is a single parsed bot invocation.
type Command struct {
	Name string   // the first whitespace-separated word of the trailing text
	Args []string // the remaining words
}

// Parse extracts a Command from msg's trailing text, the body of a PRIVMSG
// or NOTICE addressed to a bot's relay-exception target. An empty trailing
// text yields a zero-value Command whose Name is "".
func Parse(msg *ircmsg.Message) Command {
	text := msg.Trailing
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}

// Replier sends a single line of text back to whichever client issued the
// command that is being handled, speaking as the bot's own relay-exception
// target (e.g. "*perform").
type Replier func(line string)

// Source formats target (a bot's relay-exception target, e.g. "*perform")
// as the full source mask every in-band bot reply is sent from.
func Source(target string) string {
	return fmt.Sprintf("%s!kalisko@kalisko.proxy", target)
}

// ReplierFor builds a Replier that answers ev's client as target, using the
// source mask every in-band bot speaks from.
func ReplierFor(ev proxy.ProxyEvent, target string) Replier {
	c := ev.Client
	source := Source(target)
	return func(line string) {
		if c == nil {
			return
		}
		c.Reply(source, line)
	}
}
