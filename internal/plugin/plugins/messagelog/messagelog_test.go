package messagelog

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalisko-irc/bouncer/internal/ircconn"
	"github.com/kalisko-irc/bouncer/internal/ircmsg"
	"github.com/kalisko-irc/bouncer/internal/netio"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/proxy"
)

func newTestProxy(t *testing.T) *proxy.Proxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	loop := netio.NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	conn, err := ircconn.Create(loop, host, port, "", "user", "Real Name", "bob")
	require.NoError(t, err)

	upstream, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = upstream.Close() })
	r := bufio.NewReader(upstream)
	_, _ = r.ReadString('\n')
	_, _ = r.ReadString('\n')
	_, err = upstream.Write([]byte(":irc.example.org 001 bob :Welcome\r\n"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	return proxy.New(loop, "P", conn, "secret", nil)
}

func TestMessageLogWritesUpstreamQuery(t *testing.T) {
	root := t.TempDir()
	p := newTestProxy(t)
	pl := New(Config{Root: root})
	ctx := &plugin.Context{Proxy: p}
	require.True(t, pl.Initialize(ctx))
	defer pl.Finalize(ctx)

	// A PRIVMSG addressed to our own nick: the log target is the sender.
	p.Irc.Bus.Trigger(p.Irc, "line", ircconn.Event{
		Kind:    ircconn.EventLine,
		Message: ircmsg.Parse(":alice!a@h PRIVMSG bob :hi there"),
	})

	path := filepath.Join(root, "P", "alice.log")
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "PRIVMSG bob :hi there")
}

func TestMessageLogWritesChannelTarget(t *testing.T) {
	root := t.TempDir()
	p := newTestProxy(t)
	pl := New(Config{Root: root})
	ctx := &plugin.Context{Proxy: p}
	require.True(t, pl.Initialize(ctx))
	defer pl.Finalize(ctx)

	p.Irc.Bus.Trigger(p.Irc, "line", ircconn.Event{
		Kind:    ircconn.EventLine,
		Message: ircmsg.Parse(":alice!a@h PRIVMSG #General :hello channel"),
	})

	path := filepath.Join(root, "P", "#general.log")
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMessageLogSkipsRelayException(t *testing.T) {
	root := t.TempDir()
	p := newTestProxy(t)
	p.AddRelayException("*perform")
	pl := New(Config{Root: root})
	ctx := &plugin.Context{Proxy: p}
	require.True(t, pl.Initialize(ctx))
	defer pl.Finalize(ctx)

	p.Irc.Bus.Trigger(p.Irc, "line", ircconn.Event{
		Kind:    ircconn.EventLine,
		Message: ircmsg.Parse(":alice!a@h PRIVMSG *perform :list"),
	})

	_, err := os.Stat(filepath.Join(root, "P"))
	require.True(t, os.IsNotExist(err))
}
