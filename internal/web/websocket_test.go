package web

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/digit-recognizer/internal/service"
)

func TestWebSocket_PushesUpdates(t *testing.T) {
	ts := setupTestServer(t, "cam0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.server.Hub().Run(ctx, ts.bus)

	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessagePrediction, msg.Type)
	assert.Equal(t, "snapshot", msg.Event)

	require.Eventually(t, func() bool { return ts.server.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ts.bus.Publish(service.Event{
		Type: service.EventTypeInferenceResult,
		Data: map[string]interface{}{"digit": 7, "label": "7", "tier": "high"},
	})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessagePrediction, msg.Type)
	assert.Equal(t, "inference.result", msg.Event)
	assert.Equal(t, "7", msg.Data["label"])

	ts.bus.Publish(service.Event{
		Type: service.EventTypeCameraError,
		Data: map[string]interface{}{"kind": "denied", "error": "camera access denied"},
	})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageNotification, msg.Type)
	assert.Equal(t, "Camera error: camera access denied", msg.Message)
}

func TestWebSocket_ClientDisconnect(t *testing.T) {
	ts := setupTestServer(t)

	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Eventually(t, func() bool { return ts.server.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return ts.server.Hub().ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestMessageFor(t *testing.T) {
	tests := []struct {
		event   service.EventType
		want    string
		message string
	}{
		{service.EventTypeInferenceResult, MessagePrediction, ""},
		{service.EventTypeCameraState, MessageCamera, ""},
		{service.EventTypeCameraEnumerated, MessageCamera, ""},
		{service.EventTypeCameraNone, MessageNotification, "No cameras found"},
		{service.EventTypeCameraUnsupported, MessageNotification, "Camera capture is not supported on this device"},
		{service.EventTypeInferenceFailed, MessageNotification, "Prediction failed: server returned 500"},
	}

	for _, tt := range tests {
		msg, ok := messageFor(service.Event{
			Type: tt.event,
			Data: map[string]interface{}{"error": "server returned 500"},
		})
		require.True(t, ok, tt.event)
		assert.Equal(t, tt.want, msg.Type, tt.event)
		assert.Equal(t, tt.message, msg.Message, tt.event)
	}

	for _, ignored := range []service.EventType{service.EventTypeLayoutChanged, service.EventTypeServiceStarted} {
		_, ok := messageFor(service.Event{Type: ignored})
		assert.False(t, ok, ignored)
	}
}
