package repl

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_EchoesExpressionResult(t *testing.T) {
	handler := NewServer("ws-session.ry")
	srv := httptest.NewServer(handler)
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("1")))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "1", string(reply))
}

func TestServer_ReportsRuntimeErrors(t *testing.T) {
	handler := NewServer("ws-session.ry")
	srv := httptest.NewServer(handler)
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ret 1")))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(reply), "runtime error")
}

func TestServer_SessionStateSurvivesAcrossMessages(t *testing.T) {
	handler := NewServer("ws-session.ry")
	srv := httptest.NewServer(handler)
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x = 41")))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "41", string(reply))
}
