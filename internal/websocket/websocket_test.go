package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/logger"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = hub.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("topic"))
	}))
	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
	})
	return hub, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, topic string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?topic=" + topic
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubPublishesToTopicSubscribers(t *testing.T) {
	hub, srv, _ := startHub(t)
	board := dial(t, srv, domain.TopicLeaderboard)
	other := dial(t, srv, "other")

	require.Eventually(t, func() bool {
		return hub.TopicClients(domain.TopicLeaderboard) == 1 && hub.TopicClients("other") == 1
	}, 2*time.Second, 10*time.Millisecond)

	event := domain.Event{
		Topic: domain.TopicLeaderboard,
		Type:  domain.EventLeaderboardUpdated,
		Data:  map[string]any{"reason": "submit"},
	}
	require.NoError(t, hub.Publish(context.Background(), event))

	board.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := board.ReadMessage()
	require.NoError(t, err)

	var got domain.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, event.Topic, got.Topic)
	assert.Equal(t, event.Type, got.Type)
	assert.Equal(t, map[string]any{"reason": "submit"}, got.Data)

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "subscribers of other topics receive nothing")
}

func TestHubForgetsDisconnectedClients(t *testing.T) {
	hub, srv, _ := startHub(t)
	conn := dial(t, srv, domain.TopicLeaderboard)
	require.Eventually(t, func() bool {
		return hub.TopicClients(domain.TopicLeaderboard) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return hub.TopicClients(domain.TopicLeaderboard) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubShutdown(t *testing.T) {
	hub, srv, cancel := startHub(t)
	conn := dial(t, srv, domain.TopicLeaderboard)
	require.Eventually(t, func() bool {
		return hub.TopicClients(domain.TopicLeaderboard) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "the hub closes its clients on shutdown")

	require.Eventually(t, func() bool {
		err := hub.Publish(context.Background(), domain.Event{Topic: domain.TopicLeaderboard})
		return errors.Is(err, ErrHubClosed)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.TopicClients(domain.TopicLeaderboard))
}

func TestPublishHonoursContext(t *testing.T) {
	hub := NewHub(logger.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// nobody runs the hub, so the broadcast cannot be accepted
	err := hub.Publish(ctx, domain.Event{Topic: domain.TopicLeaderboard})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
