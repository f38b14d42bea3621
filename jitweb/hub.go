// Package jitweb serves a live view of the code emission runtime over
// HTTP: a websocket feed of installed functions plus JSON snapshots of
// the symbol table and arena occupancy.
package jitweb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/colorfulnotion/jitrt/jit"
	"github.com/colorfulnotion/jitrt/log"
)

const (
	SubFunctions = "subscribeFunctions"
	debugWeb     = log.WebMonitoring
)

// SubscriptionRequest is one incoming websocket message.
type SubscriptionRequest struct {
	Method string            `json:"method"`
	Params map[string]string `json:"params"` // "prefix" narrows the feed to matching names
}

// functionPayload is the outgoing feed message for one installed
// function.
type functionPayload struct {
	Method string `json:"method"`
	Result struct {
		Name string `json:"name"`
		Addr string `json:"addr"`
		Size int    `json:"size"`
	} `json:"result"`
}

func encodeRecord(rec jit.Record) ([]byte, error) {
	var payload functionPayload
	payload.Method = SubFunctions
	payload.Result.Name = rec.Name
	payload.Result.Addr = fmt.Sprintf("%#x", rec.Addr)
	payload.Result.Size = rec.Size
	return json.Marshal(payload)
}

type announcement struct {
	name string
	data []byte
}

// Hub fans announced records out to websocket clients. It is a symbol
// sink: Announce never blocks a build, so a saturated feed drops
// messages rather than stalling code generation.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	announce   chan announcement
	records    func() []jit.Record
	ctx        context.Context
	cancel     context.CancelFunc
}

func newHub(ctx context.Context, records func() []jit.Record) *Hub {
	cctx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		announce:   make(chan announcement, 64),
		records:    records,
		ctx:        cctx,
		cancel:     cancel,
	}
}

// Announce implements jit.SymbolSink.
func (h *Hub) Announce(rec jit.Record) {
	data, err := encodeRecord(rec)
	if err != nil {
		log.Warn(debugWeb, "announce payload not encoded", "name", rec.Name, "err", err)
		return
	}
	select {
	case h.announce <- announcement{name: rec.Name, data: data}:
	default:
	}
}

func (h *Hub) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case msg := <-h.announce:
			for client := range h.clients {
				if client.wants(msg.name) {
					client.sendData(msg.data)
				}
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection and its subscription state.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu         sync.Mutex
	subscribed bool
	prefix     string
}

func (c *Client) wants(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed && strings.HasPrefix(name, c.prefix)
}

func (c *Client) subscribe(prefix string) {
	c.mu.Lock()
	c.subscribed = true
	c.prefix = prefix
	c.mu.Unlock()
}

func (c *Client) sendData(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// readPump parses subscription messages. On subscribe the client first
// receives every already-installed function matching its prefix, then
// live announcements.
func (c *Client) readPump(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err) {
					log.Trace(debugWeb, "websocket close", "err", err)
				}
				return
			}

			var req SubscriptionRequest
			if err := json.Unmarshal(message, &req); err != nil {
				log.Warn(debugWeb, "invalid subscription message", "err", err)
				continue
			}

			switch req.Method {
			case SubFunctions:
				prefix := req.Params["prefix"]
				c.subscribe(prefix)
				if c.hub.records != nil {
					for _, rec := range c.hub.records() {
						if !strings.HasPrefix(rec.Name, prefix) {
							continue
						}
						if data, err := encodeRecord(rec); err == nil {
							c.sendData(data)
						}
					}
				}
				log.Debug(debugWeb, "client subscribed", "prefix", prefix)
			default:
				log.Warn(debugWeb, "unknown subscription method", "method", req.Method)
			}
		}
	}
}

func (c *Client) writePump(ctx context.Context, wg *sync.WaitGroup) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			for len(c.send) > 0 {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			w.Close()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request, wg *sync.WaitGroup) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(debugWeb, "websocket upgrade failed", "err", err)
		return
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
	hub.register <- client

	wg.Add(2)
	go client.writePump(hub.ctx, wg)
	go client.readPump(hub.ctx, wg)
}
