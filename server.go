package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket clients
var (
	wsClients   = make(map[*Client]bool)
	wsClientsMu sync.RWMutex
)

type Client struct {
	conn *websocket.Conn
	send chan interface{}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// newServerMux registers the monitor API and the live websocket feed.
func newServerMux() *http.ServeMux {
	upgrader := websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/monitor/state", handleMonitorState)
	mux.HandleFunc("/api/monitor/history", handleMonitorHistory)

	// Each cycle result is pushed as a "cycle" message; clients may ask for
	// a state snapshot with {"type":"state"}.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Upgrade:", err)
			return
		}

		log.Println("Client connected")

		client := &Client{conn: conn, send: make(chan interface{}, 256)}

		wsClientsMu.Lock()
		wsClients[client] = true
		wsClientsMu.Unlock()

		go client.writePump()

		defer func() {
			wsClientsMu.Lock()
			delete(wsClients, client)
			close(client.send) // This will stop writePump
			wsClientsMu.Unlock()
			log.Println("Client disconnected")
		}()

		client.send <- stateMessage()

		// read pump
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &req); err == nil && req.Type == "state" {
				select {
				case client.send <- stateMessage():
				default:
				}
			}
		}
	})
	return mux
}

func stateMessage() map[string]interface{} {
	return map[string]interface{}{
		"type":  "state",
		"state": serverState.snapshot(),
	}
}

// runServer serves the monitor API on addr until ctx is done.
func runServer(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: newServerMux()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Monitor server listening on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// broadcastJSON queues msg for every client, dropping it for clients whose
// queue is full.
func broadcastJSON(msg interface{}) {
	wsClientsMu.RLock()
	defer wsClientsMu.RUnlock()

	for client := range wsClients {
		select {
		case client.send <- msg:
		default:
		}
	}
}
