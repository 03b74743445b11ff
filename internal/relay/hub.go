// Package relay is a minimal websocket signal relay: every text frame a
// client sends is forwarded unchanged to every other client on the same
// topic. It knows nothing about the messages it carries.
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const (
	sendBuffer = 256
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks the clients of every topic.
type Hub struct {
	log logging.LeveledLogger

	mu     sync.RWMutex
	topics map[string]map[string]*client
}

type client struct {
	id    string
	topic string
	conn  *websocket.Conn
	send  chan []byte
}

// NewHub creates an empty hub.
func NewHub(lf logging.LoggerFactory) *Hub {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Hub{
		log:    lf.NewLogger("relay"),
		topics: make(map[string]map[string]*client),
	}
}

// Router returns a gin engine serving GET /ws/:topic and GET /health.
func (h *Hub) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.Clients("")})
	})
	r.GET("/ws/:topic", h.HandleTopic)
	return r
}

// HandleTopic upgrades the request and joins the client to its topic.
func (h *Hub) HandleTopic(c *gin.Context) {
	topic := c.Param("topic")
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("upgrade: %v", err)
		return
	}

	cl := &client{
		id:    uuid.NewString(),
		topic: topic,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
	}
	h.add(cl)
	h.log.Infof("client %s joined %s", cl.id, topic)

	go h.writePump(cl)
	go h.readPump(cl)
}

// Clients counts the clients on topic, or on every topic when topic is
// empty.
func (h *Hub) Clients(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if topic != "" {
		return len(h.topics[topic])
	}
	n := 0
	for _, peers := range h.topics {
		n += len(peers)
	}
	return n
}

func (h *Hub) add(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.topics[cl.topic]
	if peers == nil {
		peers = make(map[string]*client)
		h.topics[cl.topic] = peers
	}
	peers[cl.id] = cl
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.topics[cl.topic]
	if _, ok := peers[cl.id]; !ok {
		return
	}
	delete(peers, cl.id)
	close(cl.send)
	if len(peers) == 0 {
		delete(h.topics, cl.topic)
	}
}

// broadcast queues data for every client on from's topic except from.
// A client whose buffer is full misses the frame.
func (h *Hub) broadcast(from *client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, cl := range h.topics[from.topic] {
		if id == from.id {
			continue
		}
		select {
		case cl.send <- data:
		default:
			h.log.Warnf("client %s buffer full, frame dropped", id)
		}
	}
}

func (h *Hub) readPump(cl *client) {
	defer func() {
		h.remove(cl)
		cl.conn.Close()
		h.log.Infof("client %s left %s", cl.id, cl.topic)
	}()

	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugf("client %s: %v", cl.id, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.broadcast(cl, data)
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case data, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debugf("write to %s: %v", cl.id, err)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
