// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package mediastream

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicecore/internal/logging"
)

var upgrader = websocket.Upgrader{}

// newLoopbackPair starts a real httptest server speaking one upgraded
// websocket, and returns the server-side Conn plus the client dialer
// connection used to drive it.
func newLoopbackPair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- NewConn(ws, logging.NewTest())
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return <-connCh, client
}

func TestWaitForStartParsesStartPayload(t *testing.T) {
	conn, client := newLoopbackPair(t)

	require.NoError(t, client.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]string{
			"callId":         "call-1",
			"agentId":        "agent-1",
			"customerNumber": "+15551234567",
		},
	}))

	start, err := conn.WaitForStart()
	require.NoError(t, err)
	require.Equal(t, "call-1", start.CallID)
	require.Equal(t, "agent-1", start.AgentID)
	require.Equal(t, "+15551234567", start.CustomerNumber)
}

func TestMediaFramesBufferUntilHandlerAttachedThenFlush(t *testing.T) {
	conn, client := newLoopbackPair(t)
	require.NoError(t, client.WriteJSON(map[string]any{"event": "start"}))
	_, err := conn.WaitForStart()
	require.NoError(t, err)

	chunk := []byte{1, 2, 3, 4}
	payload := base64.StdEncoding.EncodeToString(chunk)
	require.NoError(t, client.WriteJSON(map[string]any{
		"event": "media",
		"media": map[string]string{"payload": payload},
	}))

	var mu sync.Mutex
	var got [][]byte
	received := make(chan struct{}, 1)

	// Give the pump goroutine time to buffer the frame before attaching.
	time.Sleep(50 * time.Millisecond)

	conn.AttachHandler(func(b []byte) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
	})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for buffered frame to flush")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, chunk, got[0])
}

func TestOnStopFiresOnStopEvent(t *testing.T) {
	conn, client := newLoopbackPair(t)
	require.NoError(t, client.WriteJSON(map[string]any{"event": "start"}))
	_, err := conn.WaitForStart()
	require.NoError(t, err)

	stopped := make(chan struct{})
	conn.OnStop(func() { close(stopped) })

	require.NoError(t, client.WriteJSON(map[string]any{"event": "stop"}))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onStop callback")
	}
}

func TestSendAudioWritesBase64MediaFrame(t *testing.T) {
	conn, client := newLoopbackPair(t)
	require.NoError(t, client.WriteJSON(map[string]any{"event": "start"}))
	_, err := conn.WaitForStart()
	require.NoError(t, err)

	require.NoError(t, conn.SendAudio([]byte{9, 8, 7}))

	var frame struct {
		Event string `json:"event"`
		Media struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	require.NoError(t, client.ReadJSON(&frame))
	require.Equal(t, "media", frame.Event)

	decoded, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 8, 7}, decoded)
}

func TestCloseIsIdempotentAndSuppressesFurtherSends(t *testing.T) {
	conn, _ := newLoopbackPair(t)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.SendAudio([]byte{1}))
}
