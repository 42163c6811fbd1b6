package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/points-leaderboard/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newFakeClient(hub *Hub, buffer int) *Client {
	return &Client{
		id:     domain.NewID(),
		hub:    hub,
		send:   make(chan []byte, buffer),
		logger: hub.logger,
	}
}

func receive(t *testing.T, ch <-chan []byte) Message {
	t.Helper()
	select {
	case data := <-ch:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestHub_TopicRouting(t *testing.T) {
	hub := newTestHub(t)

	board := newFakeClient(hub, 8)
	feed := newFakeClient(hub, 8)
	hub.Register(board)
	hub.Register(feed)
	hub.Subscribe(board, TopicLeaderboard)
	hub.Subscribe(feed, TopicHistory)

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(TopicLeaderboard) == 1 && hub.GetSubscriberCount(TopicHistory) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, hub.GetTotalConnections())

	hub.BroadcastClaim(domain.ClaimResult{UserID: "u1", Points: 4, TotalPoints: 9})
	msg := receive(t, feed.send)
	require.Equal(t, MessageTypeClaim, msg.Type)
	require.Equal(t, TopicHistory, msg.Topic)

	hub.BroadcastLeaderboard([]domain.LeaderboardEntry{{Rank: 1, UserID: "u1", Name: "Rahul", TotalPoints: 9}})
	msg = receive(t, board.send)
	require.Equal(t, MessageTypeLeaderboardUpdate, msg.Type)
	data := msg.Data.(map[string]any)
	require.EqualValues(t, 1, data["totalUsers"])

	require.Empty(t, board.send)
	require.Empty(t, feed.send)
}

func TestHub_SlowClientIsSkipped(t *testing.T) {
	hub := newTestHub(t)

	slow := newFakeClient(hub, 1)
	fast := newFakeClient(hub, 8)
	for _, c := range []*Client{slow, fast} {
		hub.Register(c)
		hub.Subscribe(c, TopicHistory)
	}
	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(TopicHistory) == 2
	}, time.Second, 5*time.Millisecond)

	for i := 1; i <= 3; i++ {
		hub.BroadcastClaim(domain.ClaimResult{UserID: "u", Points: i, TotalPoints: int64(i)})
	}
	for i := 0; i < 3; i++ {
		receive(t, fast.send)
	}
	require.Len(t, slow.send, 1)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := newTestHub(t)

	c := newFakeClient(hub, 1)
	hub.Register(c)
	hub.Subscribe(c, TopicLeaderboard)
	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(TopicLeaderboard) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Unregister(c)
	require.Eventually(t, func() bool {
		return hub.GetTotalConnections() == 0
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, hub.GetSubscriberCount(TopicLeaderboard))

	_, open := <-c.send
	require.False(t, open)
}

func TestServeWs_SubscribeAndReceive(t *testing.T) {
	hub := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, hub.logger, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	readMsg := func() Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Topic: "scores"}))
	require.Equal(t, MessageTypeError, readMsg().Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	require.Equal(t, MessageTypeError, readMsg().Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))
	require.Equal(t, MessageTypePong, readMsg().Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Topic: TopicHistory}))
	ack := readMsg()
	require.Equal(t, MessageTypeSubscribed, ack.Type)
	require.Equal(t, TopicHistory, ack.Topic)

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(TopicHistory) == 1
	}, time.Second, 5*time.Millisecond)

	hub.BroadcastClaim(domain.ClaimResult{UserID: "u1", Points: 10, TotalPoints: 10})
	msg := readMsg()
	require.Equal(t, MessageTypeClaim, msg.Type)
	require.EqualValues(t, 10, msg.Data.(map[string]any)["points"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeUnsubscribe, Topic: TopicHistory}))
	require.Equal(t, MessageTypeUnsubscribed, readMsg().Type)
	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(TopicHistory) == 0
	}, time.Second, 5*time.Millisecond)
}
