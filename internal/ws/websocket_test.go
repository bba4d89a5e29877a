package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lxzan/gws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poloniex/pkg/core"
)

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
}

func TestState_CompareAndSwap(t *testing.T) {
	s := &State{}
	s.Store(StateDisconnected)

	assert.True(t, s.CompareAndSwap(StateDisconnected, StateConnecting))
	assert.False(t, s.CompareAndSwap(StateDisconnected, StateConnected))
	assert.Equal(t, StateConnecting, s.Load())
}

type echoHandler struct {
	gws.BuiltinEventHandler
}

func (echoHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	_ = socket.WriteMessage(gws.OpcodeText, message.Bytes())
}

func echoServer(t *testing.T) string {
	t.Helper()

	upgrader := gws.NewUpgrader(echoHandler{}, &gws.ServerOption{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConn_ConnectAndEcho(t *testing.T) {
	conn := New(Config{URL: echoServer(t)})

	frames := make(chan []byte, 8)
	conn.OnFrame(func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		frames <- buf
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
	assert.True(t, conn.IsConnected())

	require.NoError(t, conn.WriteJSON([]any{1002, 1}))

	select {
	case frame := <-frames:
		assert.JSONEq(t, `[1002,1]`, string(frame))
	case <-time.After(3 * time.Second):
		t.Fatal("echoed frame not received")
	}

	require.NoError(t, conn.Close())
	assert.Equal(t, StateClosed, conn.State())
}

func TestConn_OnOpenHook(t *testing.T) {
	conn := New(Config{URL: echoServer(t)})

	opened := make(chan struct{}, 1)
	conn.OnOpen(func() { opened <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
	defer conn.Close()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("open hook not invoked")
	}
}

func TestConn_WriteBeforeConnect(t *testing.T) {
	conn := New(Config{URL: "ws://127.0.0.1:1"})

	assert.ErrorIs(t, conn.WriteMessage([]byte("hello")), core.ErrNotConnected)
	assert.ErrorIs(t, conn.WriteJSON([]any{1000}), core.ErrNotConnected)
}

func TestConn_CloseIdempotent(t *testing.T) {
	conn := New(Config{URL: echoServer(t)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestConn_ConnectFailure(t *testing.T) {
	conn := New(Config{URL: "ws://127.0.0.1:1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, conn.Connect(ctx))
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestConn_CalculateBackoff(t *testing.T) {
	conn := New(Config{
		URL:               "ws://example.test",
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  10 * time.Second,
	})

	assert.Equal(t, time.Second, conn.calculateBackoff(0))
	assert.Equal(t, 2*time.Second, conn.calculateBackoff(1))
	assert.Equal(t, 4*time.Second, conn.calculateBackoff(2))
	assert.Equal(t, 10*time.Second, conn.calculateBackoff(5))
}
