// File: server/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Interop test: a real listener, probed and driven with an independent
// WebSocket client implementation.

package server_test

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/momentics/cdpserve/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Timeout = 5 * time.Second
	cfg.Logger = log.New(io.Discard, "", 0)

	srv, err := server.New(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()
	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func TestServerVersionProbeThenUpgrade(t *testing.T) {
	srv := startServer(t)

	// Drivers probe /json/version on a throwaway connection first. The
	// server must finish with it quickly enough for the real connection
	// to be accepted next.
	probe, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer probe.Close()
	_, err = probe.Write([]byte("GET /json/version HTTP/1.1\r\nHost: " + srv.Addr() + "\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, probe.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp, err := io.ReadAll(probe)
	require.NoError(t, err)
	body := string(resp)
	assert.Contains(t, body, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, body, `"webSocketDebuggerUrl": "ws://`+srv.Addr()+`/"`)

	// Second connection upgrades and speaks the protocol.
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"id":7,"method":"Browser.getVersion"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)

	var reply struct {
		ID     int64 `json:"id"`
		Result struct {
			Product         string `json:"product"`
			ProtocolVersion string `json:"protocolVersion"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &reply))
	assert.Equal(t, int64(7), reply.ID)
	assert.True(t, strings.HasPrefix(reply.Result.Product, "cdpserve/"))
	assert.Equal(t, "1.3", reply.Result.ProtocolVersion)

	// Clean close handshake: the server answers with a 1000 close frame.
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close frame, got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestServerFragmentedMessage(t *testing.T) {
	srv := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"id":1,"method":"Browser.getVersion"}`)))

	// gorilla fragments once a payload exceeds its write buffer, so a
	// padded command forces a continuation sequence on the wire.
	large := `{"id":2,"method":"Browser.getVersion","params":{"pad":"` +
		strings.Repeat("x", 8192) + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(large)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var reply struct {
			ID int64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(data, &reply))
		assert.Equal(t, int64(i+1), reply.ID)
	}
}

func TestServerRejectsUnknownPath(t *testing.T) {
	srv := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 404 \r\n"))
}
