package autoinvite

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
)

type harness struct {
	t         *testing.T
	upstream  net.Conn
	upstreamR *bufio.Reader
	conn      *ircconn.Connection
	proxy     *proxy.Proxy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	loop := netio.NewLoop(nil)
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

	return &harness{t: t, upstream: upstream, upstreamR: r, conn: conn, proxy: p}
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

func TestAutoinviteJoinsOnSelfInvite(t *testing.T) {
	h := newHarness(t)
	pl := New()

	ctx := &plugin.Context{Proxy: h.proxy}
	if !pl.Initialize(ctx) {
		t.Fatal("Initialize returned false")
	}
	defer pl.Finalize(ctx)

	if _, err := h.upstream.Write([]byte(":alice!a@h INVITE bob #secret\r\n")); err != nil {
		t.Fatalf("write invite: %v", err)
	}

	line := readLine(t, h.upstreamR)
	if line != "JOIN #secret" {
		t.Fatalf("line = %q, want %q", line, "JOIN #secret")
	}
}

func TestAutoinviteIgnoresInviteToOtherNick(t *testing.T) {
	h := newHarness(t)
	pl := New()

	ctx := &plugin.Context{Proxy: h.proxy}
	if !pl.Initialize(ctx) {
		t.Fatal("Initialize returned false")
	}
	defer pl.Finalize(ctx)

	if _, err := h.upstream.Write([]byte(":alice!a@h INVITE carol #other\r\n")); err != nil {
		t.Fatalf("write invite: %v", err)
	}
	// Follow up with a PING, which the connection always answers; if the
	// PONG arrives without a JOIN in front of it, the invite was ignored.
	if _, err := h.upstream.Write([]byte("PING :sentinel\r\n")); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	line := readLine(t, h.upstreamR)
	if line != "PONG :sentinel" {
		t.Fatalf("line = %q, want the PONG reply (invite should have been ignored)", line)
	}
}
