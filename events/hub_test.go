package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastOnNilHub(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() {
		hub.Broadcast("outfits.created", "o-1")
	})
	assert.Equal(t, 0, hub.ClientCount())
}

func TestBroadcastReachesConnectedClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	module := RegisterRoutes(router, nil)

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return module.Hub().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	module.Hub().Broadcast("outfits.deleted", "o-1", "o-2")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "outfits.deleted", event.Type)
	assert.Equal(t, []string{"o-1", "o-2"}, event.IDs)
	assert.False(t, event.At.IsZero())
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub()
	stuck := &client{conn: nil, send: make(chan Event)} // unbuffered and never read
	hub.add(stuck)
	require.Equal(t, 1, hub.ClientCount())

	hub.Broadcast("outfits.updated", "o-1")

	assert.Equal(t, 0, hub.ClientCount())

	_, open := <-stuck.send
	assert.False(t, open)
}

func TestClientDisconnectRemovesIt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	module := RegisterRoutes(router, nil)

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool {
		return module.Hub().ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return module.Hub().ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}
