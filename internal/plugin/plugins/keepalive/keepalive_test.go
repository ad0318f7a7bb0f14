package keepalive

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kalisko-irc/bouncer/internal/ircconn"
	"github.com/kalisko-irc/bouncer/internal/netio"
	"github.com/kalisko-irc/bouncer/internal/plugin"
	"github.com/kalisko-irc/bouncer/internal/proxy"
	"github.com/kalisko-irc/bouncer/internal/timer"
)

type harness struct {
	t         *testing.T
	upstream  net.Conn
	upstreamR *bufio.Reader
	conn      *ircconn.Connection
	proxy     *proxy.Proxy
	timers    *timer.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	timers := timer.NewService()
	loop := netio.NewLoop(timers.Fire)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	conn, err := ircconn.Create(loop, host, port, "", "user", "Real Name", "bob")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	upstream, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { _ = upstream.Close() })
	r := bufio.NewReader(upstream)
	_, _ = r.ReadString('\n') // USER
	_, _ = r.ReadString('\n') // NICK
	if _, err := upstream.Write([]byte(":irc.example.org 001 bob :Welcome\r\n")); err != nil {
		t.Fatalf("write 001: %v", err)
	}

	p := proxy.New(loop, "P", conn, "secret", nil)

	return &harness{t: t, upstream: upstream, upstreamR: r, conn: conn, proxy: p, timers: timers}
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
	case <-time.After(3 * time.Second):
		t.Fatal("timed out reading a line")
		return ""
	}
}

func TestKeepaliveChallengesAndAcceptsPong(t *testing.T) {
	h := newHarness(t)
	cfg := Config{Interval: 20 * time.Millisecond, Timeout: 2 * time.Second, ReconnectTimeout: 20 * time.Millisecond}
	pl := New(cfg)

	ctx := &plugin.Context{Proxy: h.proxy, Timers: h.timers}
	if !pl.Initialize(ctx) {
		t.Fatal("Initialize returned false")
	}
	defer pl.Finalize(ctx)

	line := readLine(t, h.upstreamR)
	if !strings.HasPrefix(line, "PING :") {
		t.Fatalf("expected a PING challenge, got %q", line)
	}
	token := strings.TrimPrefix(line, "PING :")

	if _, err := h.upstream.Write([]byte("PONG :" + token + "\r\n")); err != nil {
		t.Fatalf("write pong: %v", err)
	}

	// Give the loop a moment to process the PONG, then confirm the upstream
	// is still connected -- the challenge was acknowledged, so no forced
	// disconnect has occurred.
	time.Sleep(200 * time.Millisecond)
	if !h.conn.Socket.Connected() {
		t.Fatal("connection was disconnected despite an acknowledged PONG")
	}
}

func TestKeepaliveDisconnectsOnMissedPong(t *testing.T) {
	h := newHarness(t)
	cfg := Config{Interval: 20 * time.Millisecond, Timeout: 20 * time.Millisecond, ReconnectTimeout: 2 * time.Second}
	pl := New(cfg)

	ctx := &plugin.Context{Proxy: h.proxy, Timers: h.timers}
	if !pl.Initialize(ctx) {
		t.Fatal("Initialize returned false")
	}
	defer pl.Finalize(ctx)

	readLine(t, h.upstreamR) // the PING challenge; never answered

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h.conn.Socket.State() == netio.StateDisconnected {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected the connection to be force-disconnected after a missed PONG")
}
