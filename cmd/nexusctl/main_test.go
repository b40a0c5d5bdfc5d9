package main

import (
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/wsnexus/config"
	"github.com/wricardo/wsnexus/nexus"
	"github.com/wricardo/wsnexus/server"
)

func startRelay(t *testing.T) string {
	t.Helper()

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	srv, err := server.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = srv.Wait()
	})
	return srv.URL()
}

func hostSession(t *testing.T, addr, name string) *nexus.Nexus {
	t.Helper()

	h := nexus.New(addr, nexus.WithIgnoreWarnings())
	t.Cleanup(func() { h.Close("", 0) })

	hosting, err := h.Host(nexus.Name(name))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = hosting.Wait(ctx)
	require.NoError(t, err)
	return h
}

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := newCommand(strings.NewReader(stdin), &out)
	require.NoError(t, cmd.Run(ctx, append([]string{"nexusctl"}, args...)))
	return out.String()
}

func TestDefaultURLReachesDefaultRelay(t *testing.T) {
	u, err := url.Parse(nexus.DefaultURL)
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, strconv.Itoa(config.Default().Port), u.Port())

	var got string
	cmd := newCommand(strings.NewReader(""), &bytes.Buffer{})
	cmd.Before = nil
	cmd.Commands[0].Action = func(ctx context.Context, c *cli.Command) error {
		got = c.String("url")
		return nil
	}
	require.NoError(t, cmd.Run(context.Background(), []string{"nexusctl", "list"}))
	assert.Equal(t, nexus.DefaultURL, got)
}

func TestList(t *testing.T) {
	relayURL := startRelay(t)
	assert.Equal(t, "No hosts.\n", run(t, "", "--url", relayURL, "list"))

	hostSession(t, relayURL, "Pac-Man")
	out := run(t, "", "--url", relayURL, "list")
	assert.Contains(t, out, `"name":"Pac-Man"`)
	assert.Contains(t, out, `"id":1`)
}

func TestJoinSendsStdin(t *testing.T) {
	relayURL := startRelay(t)
	h := hostSession(t, relayURL, "Pac-Man")
	inbox := make(chan nexus.Message, 2)
	h.OnMessage().On(func(m nexus.Message) { inbox <- m })

	out := run(t, "hello\n", "--url", relayURL, "join", "Pac-Man")
	assert.Contains(t, out, `* joined "Pac-Man"`)

	select {
	case m := <-inbox:
		assert.Equal(t, "hello", m.Text())
		assert.Equal(t, 1, m.ClientID)
	case <-time.After(5 * time.Second):
		t.Fatal("host got nothing")
	}
}

func TestJoinUnknownHost(t *testing.T) {
	relayURL := startRelay(t)

	cmd := newCommand(strings.NewReader(""), &bytes.Buffer{})
	err := cmd.Run(context.Background(), []string{"nexusctl", "--url", relayURL, "join", "Galaga"})
	assert.ErrorIs(t, err, nexus.ErrNoSuchHost)
}

func TestJoinOrHost(t *testing.T) {
	relayURL := startRelay(t)

	out := run(t, "", "--url", relayURL, "join", "--or-host", "Tetris")
	assert.Contains(t, out, `* nobody hosts "Tetris", hosting it`)
}
