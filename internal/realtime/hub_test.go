package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/audit"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClientWants(t *testing.T) {
	cases := []struct {
		name   string
		topics []string
		topic  string
		want   bool
	}{
		{"no filter receives everything", nil, "escrow.released", true},
		{"exact match", []string{"escrow.released"}, "escrow.released", true},
		{"prefix match", []string{"escrow"}, "escrow.released", true},
		{"prefix does not match unrelated", []string{"escrow"}, "escrowish.event", false},
		{"other topic filtered out", []string{"feedback"}, "escrow.released", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &client{topics: tc.topics}
			assert.Equal(t, tc.want, c.wants(tc.topic))
		})
	}
}

func dialTestHub(t *testing.T, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/ws", hub.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub := newTestHub()
	conn := dialTestHub(t, hub, "")

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish("escrow.released", map[string]string{"id": "esc_1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Topic   string            `json:"topic"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "escrow.released", got.Topic)
	assert.Equal(t, "esc_1", got.Payload["id"])
}

func TestHub_TopicFilter(t *testing.T) {
	hub := newTestHub()
	conn := dialTestHub(t, hub, "?topics=feedback")

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish("escrow.released", map[string]string{"id": "esc_1"})
	hub.Publish("feedback.submitted", map[string]string{"tx": "0xabc"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "feedback.submitted")
	assert.NotContains(t, string(msg), "escrow.released")
}

func TestHub_DisconnectDropsClient(t *testing.T) {
	hub := newTestHub()
	conn := dialTestHub(t, hub, "")

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ActsAsAuditSink(t *testing.T) {
	hub := newTestHub()
	conn := dialTestHub(t, hub, "")

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	err := hub.Append(context.Background(), audit.Event{
		ID:    "evt_1",
		Topic: "interaction.completed",
		Payload: map[string]string{
			"interaction": "int_1",
		},
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "interaction.completed")
}

func TestHub_PublishWithNoClientsIsSafe(t *testing.T) {
	hub := newTestHub()
	hub.Publish("escrow.released", map[string]string{"id": "esc_1"})
	assert.Equal(t, 0, hub.ClientCount())
}
