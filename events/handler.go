package events

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"outfit_vault/authorization"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Module owns the websocket change feed.
type Module struct {
	hub *Hub
}

// RegisterRoutes mounts the change feed under /events.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard) *Module {
	module := &Module{hub: NewHub()}

	group := router.Group("/events")
	if guard != nil {
		group.Use(guard.RequireUnlocked())
	}
	group.GET("/ws", module.handleFeed)

	return module
}

// Hub exposes the broadcast hub for sibling modules.
func (m *Module) Hub() *Hub {
	if m == nil {
		return nil
	}
	return m.hub
}

func (m *Module) handleFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("events: websocket upgrade failed: %v", err)
		return
	}

	cl := &client{conn: conn, send: make(chan Event, sendBuffer)}
	m.hub.add(cl)

	go cl.writePump(m.hub)
	cl.readPump(m.hub)
}
