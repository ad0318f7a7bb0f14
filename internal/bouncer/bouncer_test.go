package bouncer

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalisko-irc/bouncer/internal/config"
	"github.com/kalisko-irc/bouncer/internal/netio"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/plugin/plugins/autoinvite"
	"github.com/kalisko-irc/bouncer/internal/proxy"
	"github.com/kalisko-irc/bouncer/internal/timer"
)

type harness struct {
	t         *testing.T
	loop      *netio.Loop
	listener  *proxy.Listener
	manager   *Manager
	upstream  net.Conn
	upstreamR *bufio.Reader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithRemote(t, config.Remote{Throttle: false})
}

// newHarnessWithRemote is like newHarness but lets the caller override the
// remote's Throttle flag (and anything else Remote carries besides
// server/port/user/real/nick, which are always filled in to match the
// accepted loopback listener).
func newHarnessWithRemote(t *testing.T, remoteOverrides config.Remote) *harness {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	timers := timer.NewService()
	loop := netio.NewLoop(timers.Fire)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	listener, err := proxy.NewListener(loop, 0, nil)
	require.NoError(t, err)

	registry := plugin.NewRegistry()
	registry.Register(autoinvite.New())

	m := New(loop, listener, registry, timers, nil)

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	remote := remoteOverrides
	remote.Server, remote.Port, remote.User, remote.Real, remote.Nick = host, port, "user", "Real Name", "bob"

	cfg := &config.Root{IRC: config.IRC{Bouncers: map[string]config.Bouncer{
		"home": {
			Remote:   remote,
			Password: "secret",
			Plugins:  []string{"autoinvite"},
		},
	}}}

	errs := m.Sync(cfg)
	require.Empty(t, errs)

	upstream, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = upstream.Close() })
	r := bufio.NewReader(upstream)
	_, _ = r.ReadString('\n') // USER
	_, _ = r.ReadString('\n') // NICK
	_, err = upstream.Write([]byte(":irc.example.org 001 bob :Welcome\r\n"))
	require.NoError(t, err)

	return &harness{t: t, loop: loop, listener: listener, manager: m, upstream: upstream, upstreamR: r}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	done := make(chan string, 1)
	go func() {
		line, err := r.ReadString('\n')
		if err != nil {
			done <- ""
			return
		}
		done <- strings.TrimRight(line, "\r\n")
	}()
	select {
	case line := <-done:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading a line")
		return ""
	}
}

func TestSyncStartsConfiguredBouncer(t *testing.T) {
	h := newHarness(t)

	client, err := net.Dial("tcp", h.listener.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	r := bufio.NewReader(client)
	readLine(t, r) // welcome

	_, err = client.Write([]byte("PASS home:secret\n"))
	require.NoError(t, err)
	require.Contains(t, readLine(t, r), "001 bob")
}

func TestThrottledBouncerStillAuthenticatesUpstream(t *testing.T) {
	// A throttled remote must still drain its queued PASS/USER/NICK
	// handshake off the loop's own "sockets_polled" tick; nothing else
	// drives DrainThrottle.
	h := newHarnessWithRemote(t, config.Remote{Throttle: true})

	client, err := net.Dial("tcp", h.listener.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	r := bufio.NewReader(client)
	readLine(t, r) // welcome

	_, err = client.Write([]byte("PASS home:secret\n"))
	require.NoError(t, err)
	require.Contains(t, readLine(t, r), "001 bob")
}

func TestSyncRemovesDeletedBouncer(t *testing.T) {
	h := newHarness(t)
	require.Len(t, h.manager.running, 1)

	errs := h.manager.Sync(&config.Root{})
	require.Empty(t, errs)
	require.Empty(t, h.manager.running)
}

func TestReattachReplaysTrackedChannels(t *testing.T) {
	h := newHarness(t)

	_, err := h.upstream.Write([]byte(":bob!user@h JOIN #lobby\r\n"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	client, err := net.Dial("tcp", h.listener.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	r := bufio.NewReader(client)
	readLine(t, r) // welcome

	_, err = client.Write([]byte("PASS home:secret\n"))
	require.NoError(t, err)
	readLine(t, r) // 001
	readLine(t, r) // 251

	require.Contains(t, readLine(t, r), "JOIN #lobby")
	require.Equal(t, "NAMES #lobby", readLine(t, h.upstreamR))
	require.Equal(t, "TOPIC #lobby", readLine(t, h.upstreamR))
}
