package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/infoxp/pkg/mcpserver"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

// TestMain doubles as the local peer: when INFOXP_PEER is set the test
// binary serves a small registry over stdio instead of running tests.
func TestMain(m *testing.M) {
	if os.Getenv("INFOXP_PEER") == "1" {
		s, err := mcpserver.New(peerRegistry(), mcpserver.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
		if err != nil {
			os.Exit(2)
		}
		if err := s.ServeStdio(context.Background(), os.Stdin, os.Stdout); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type echoArgs struct {
	Text string `json:"text" jsonschema:"required"`
}

func peerRegistry() *tool.Registry {
	reg := tool.NewRegistry()
	_ = tool.RegisterFunc(reg, "echo", "Echo the input.",
		func(ctx context.Context, args echoArgs) (*tool.Result, error) {
			return tool.Text("echo: " + args.Text), nil
		})
	_ = tool.RegisterFunc(reg, "fail", "Always fails.",
		func(ctx context.Context, args struct{}) (*tool.Result, error) {
			return nil, errors.New("kaboom")
		})
	return reg
}

func localPeerConfig(origin string) Config {
	return Config{
		Origin:         origin,
		ConnectTimeout: MinConnectTimeout,
		Command:        os.Args[0],
		Args:           []string{"-test.run=^$"},
		Env:            map[string]string{"INFOXP_PEER": "1"},
	}
}

type fakeChannel struct {
	closed atomic.Bool
	lists  atomic.Int32
	result *tool.Result
}

func (f *fakeChannel) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	f.lists.Add(1)
	return []tool.Descriptor{{Name: "echo"}}, nil
}

func (f *fakeChannel) CallTool(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	if f.result != nil {
		return f.result, nil
	}
	return tool.Text(name), nil
}

func (f *fakeChannel) Close() error {
	f.closed.Store(true)
	return nil
}

func countingDial(ch Channel, err error, calls *atomic.Int32) dialFunc {
	return func(ctx context.Context, cfg Config) (Channel, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return ch, err
	}
}

func TestNew_ClampsConnectTimeout(t *testing.T) {
	assert.Equal(t, DefaultConnectTimeout, New(Config{}).cfg.ConnectTimeout)
	assert.Equal(t, MinConnectTimeout, New(Config{ConnectTimeout: 100 * time.Millisecond}).cfg.ConnectTimeout)
	assert.Equal(t, 3*time.Second, New(Config{ConnectTimeout: 3 * time.Second}).cfg.ConnectTimeout)

	c := New(Config{})
	assert.Equal(t, DefaultCommand, c.cfg.Command)
	assert.Equal(t, []string{"stdio"}, c.cfg.Args)
}

func TestConnect_Idempotent(t *testing.T) {
	var remote, local atomic.Int32
	ch := &fakeChannel{}
	c := New(Config{Origin: "http://peer.example/mcp"})
	c.dialRemote = countingDial(ch, nil, &remote)
	c.dialLocal = countingDial(nil, errors.New("unused"), &local)

	var wg sync.WaitGroup
	got := make([]Channel, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := c.Connect(context.Background())
			assert.NoError(t, err)
			got[i] = conn
		}(i)
	}
	wg.Wait()

	for _, conn := range got {
		assert.Same(t, ch, conn)
	}
	assert.Equal(t, int32(1), remote.Load())
	assert.Zero(t, local.Load())
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, TierRemote, c.Tier())
}

func TestConnect_NoOriginGoesLocal(t *testing.T) {
	var remote, local atomic.Int32
	ch := &fakeChannel{}
	c := New(Config{})
	c.dialRemote = countingDial(nil, errors.New("unused"), &remote)
	c.dialLocal = countingDial(ch, nil, &local)

	conn, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, ch, conn)
	assert.Zero(t, remote.Load())
	assert.Equal(t, TierLocal, c.Tier())
}

func TestConnect_RemoteErrorFallsBack(t *testing.T) {
	var remote, local atomic.Int32
	ch := &fakeChannel{}
	c := New(Config{Origin: "http://peer.example/mcp"})
	c.dialRemote = countingDial(nil, errors.New("connection refused"), &remote)
	c.dialLocal = countingDial(ch, nil, &local)

	conn, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, ch, conn)
	assert.Equal(t, int32(1), remote.Load())
	assert.Equal(t, int32(1), local.Load())

	_, err = c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), remote.Load(), "remote is never retried")
}

func TestConnect_LateRemoteIsClosed(t *testing.T) {
	late := &fakeChannel{}
	release := make(chan struct{})
	c := New(Config{Origin: "http://peer.example/mcp", ConnectTimeout: MinConnectTimeout})
	c.dialRemote = func(ctx context.Context, cfg Config) (Channel, error) {
		<-release
		return late, nil
	}
	c.dialLocal = func(ctx context.Context, cfg Config) (Channel, error) {
		return &fakeChannel{}, nil
	}

	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TierLocal, c.Tier())

	close(release)
	assert.Eventually(t, late.closed.Load, time.Second, 10*time.Millisecond)
}

func TestConnect_BothTiersFail(t *testing.T) {
	var remote, local atomic.Int32
	c := New(Config{Origin: "http://peer.example/mcp"})
	c.dialRemote = countingDial(nil, errors.New("refused"), &remote)
	c.dialLocal = countingDial(nil, errors.New("exec: not found"), &local)

	_, err := c.Connect(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorContains(t, connErr.Remote, "refused")
	assert.ErrorContains(t, connErr.Local, "not found")
	assert.ErrorIs(t, err, tool.ErrUnavailable)
	assert.Equal(t, StateFailed, c.State())

	_, err = c.CallTool(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, tool.ErrUnavailable)
	assert.Equal(t, int32(1), remote.Load())
	assert.Equal(t, int32(1), local.Load())
}

func TestConnect_DisableLocal(t *testing.T) {
	var remote, local atomic.Int32
	c := New(Config{Origin: "http://peer.example/mcp", DisableLocal: true})
	c.dialRemote = countingDial(nil, errors.New("refused"), &remote)
	c.dialLocal = countingDial(&fakeChannel{}, nil, &local)

	_, err := c.Connect(context.Background())
	assert.ErrorIs(t, err, tool.ErrUnavailable)
	assert.Zero(t, local.Load())
}

func TestListTools_Cached(t *testing.T) {
	ch := &fakeChannel{}
	c := New(Config{})
	c.dialLocal = func(ctx context.Context, cfg Config) (Channel, error) { return ch, nil }

	for range 3 {
		tools, err := c.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, tools, 1)
	}
	assert.Equal(t, int32(1), ch.lists.Load())
}

func TestCallTool_PeerErrorResult(t *testing.T) {
	ch := &fakeChannel{result: &tool.Result{IsError: true, Content: []tool.Content{{Type: tool.ContentText, Text: "kaboom"}}}}
	c := New(Config{})
	c.dialLocal = func(ctx context.Context, cfg Config) (Channel, error) { return ch, nil }

	_, err := c.CallTool(context.Background(), "fail", nil)
	var peerErr *PeerError
	require.ErrorAs(t, err, &peerErr)
	assert.Equal(t, "fail", peerErr.Tool)
	assert.Equal(t, "kaboom", peerErr.Error())
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	c := New(Config{})
	c.dialLocal = func(ctx context.Context, cfg Config) (Channel, error) { return ch, nil }

	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.True(t, ch.closed.Load())
	assert.Equal(t, StateClosed, c.State())

	_, err = c.Connect(context.Background())
	assert.ErrorIs(t, err, tool.ErrUnavailable)
}

func TestNew_LocalTimeoutDefault(t *testing.T) {
	assert.Equal(t, DefaultLocalTimeout, New(Config{}).cfg.LocalTimeout)
	assert.Equal(t, time.Second, New(Config{LocalTimeout: time.Second}).cfg.LocalTimeout)
}

func TestConnect_LocalTimeout(t *testing.T) {
	c := New(Config{LocalTimeout: 50 * time.Millisecond})
	c.dialLocal = func(ctx context.Context, cfg Config) (Channel, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Connect(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, tool.ErrUnavailable)
		assert.ErrorContains(t, err, "did not initialize within 50ms")
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not honor the local timeout")
	}
	assert.Equal(t, StateFailed, c.State())
}

func TestClose_CancelsConnectInProgress(t *testing.T) {
	dialing := make(chan struct{})
	late := &fakeChannel{}
	c := New(Config{})
	c.dialLocal = func(ctx context.Context, cfg Config) (Channel, error) {
		close(dialing)
		<-ctx.Done()
		return late, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Connect(context.Background())
		done <- err
	}()
	<-dialing

	closed := make(chan struct{})
	go func() {
		_ = c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited for the connect in progress")
	}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, tool.ErrUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect was not cancelled by Close")
	}
	assert.True(t, late.closed.Load())
	assert.Equal(t, StateClosed, c.State())
}

func TestConnect_WaitersHonorTheirContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := New(Config{})
	c.dialLocal = func(ctx context.Context, cfg Config) (Channel, error) {
		<-release
		return &fakeChannel{}, nil
	}
	go func() { _, _ = c.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateConnectingLocal }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// A spawned peer that never answers initialize is killed once the local
// timeout elapses, and Close does not wait on it.
func TestConnect_SilentLocalPeerIsKilled(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	c := New(Config{Command: sleep, Args: []string{"30"}, LocalTimeout: 300 * time.Millisecond})
	start := time.Now()
	_, err = c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, tool.ErrUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)

	closed := make(chan struct{})
	go func() {
		_ = c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked after a failed local connect")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		origin string
		kind   Kind
		want   Kind
		err    bool
	}{
		{"http://localhost:3030/mcp", KindAuto, KindStreamable, false},
		{"https://peer.example/sse", KindAuto, KindSSE, false},
		{"https://peer.example/sse/", KindAuto, KindSSE, false},
		{"http://localhost:3030", KindSSE, KindSSE, false},
		{"ws://localhost:3030/ws", KindAuto, KindWebSocket, false},
		{"wss://peer.example/ws", KindStreamable, KindWebSocket, false},
		{"ftp://peer.example", KindAuto, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			got, err := kindOf(tt.origin, tt.kind)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// An unreachable remote that never answers must give way to the spawned
// local peer once the connect timeout elapses.
func TestConnect_HungRemoteSpawnsLocalPeer(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}
	stop := make(chan struct{})
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-stop:
		case <-r.Context().Done():
		}
	}))
	defer hung.Close()
	defer close(stop)

	c := New(localPeerConfig(hung.URL + "/mcp"))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	start := time.Now()
	_, err := c.Connect(ctx)
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, MinConnectTimeout)
	assert.Less(t, elapsed, MinConnectTimeout+200*time.Millisecond)
	assert.Equal(t, TierLocal, c.Tier())

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "object", tools[0].Parameters["type"])

	res, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", res.String())

	_, err = c.CallTool(ctx, "fail", map[string]any{})
	var peerErr *PeerError
	require.ErrorAs(t, err, &peerErr)
	assert.Contains(t, peerErr.Message, "kaboom")
}

func TestConnect_RemoteProtocols(t *testing.T) {
	peer, err := mcpserver.New(peerRegistry())
	require.NoError(t, err)
	srv := httptest.NewServer(peer.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	origins := map[string]string{
		"streamable": srv.URL + "/mcp",
		"sse":        srv.URL + "/sse",
		"websocket":  wsURL + "/ws",
	}
	for name, origin := range origins {
		t.Run(name, func(t *testing.T) {
			cfg := localPeerConfig(origin)
			cfg.ConnectTimeout = 5 * time.Second
			cfg.DisableLocal = true
			c := New(cfg)
			defer c.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			tools, err := c.ListTools(ctx)
			require.NoError(t, err)
			require.Len(t, tools, 2)
			assert.Equal(t, TierRemote, c.Tier())

			res, err := c.CallTool(ctx, "echo", map[string]any{"text": name})
			require.NoError(t, err)
			assert.Equal(t, "echo: "+name, res.String())
		})
	}
}
