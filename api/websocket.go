// api/websocket.go

// WebSocket query gateway. Long-lived local clients (the bot process)
// connect once and ask about identifiers as they see them. Each request
// is a JSON object carrying a user_id; the answer comes from the local
// store, falling back to a network query on a miss.

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/frstrtr/rebot-sub001/node"
	"github.com/frstrtr/rebot-sub001/storage"
)

// WSServer serves spammer queries over WebSocket.
type WSServer struct {
	node     *node.Node
	server   *http.Server
	addr     string
	upgrader websocket.Upgrader
}

// NewWSServer creates a WebSocket gateway for a node.
func NewWSServer(n *node.Node, addr string) *WSServer {
	return &WSServer{
		node: n,
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local gateway, clients are trusted collaborators.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start starts the WebSocket server.
func (ws *WSServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", ws.handleConnection)

	ws.server = &http.Server{
		Addr:    ws.addr,
		Handler: mux,
	}

	log.Printf("WebSocket gateway listening on %s", ws.addr)
	err := ws.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the WebSocket server.
func (ws *WSServer) Stop() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}

type wsQuery struct {
	UserID  string `json:"user_id"`
	Network bool   `json:"network"`
}

type wsAnswer struct {
	OK        bool                   `json:"ok"`
	UserID    string                 `json:"user_id,omitempty"`
	Found     bool                   `json:"found"`
	IsSpammer bool                   `json:"is_spammer"`
	Record    *storage.SpammerRecord `json:"record,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// handleConnection upgrades and serves queries until the client hangs up.
func (ws *WSServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("WebSocket client connected: %s", conn.RemoteAddr())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		answer := ws.answerQuery(data)
		if err := conn.WriteJSON(answer); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
}

func (ws *WSServer) answerQuery(data []byte) wsAnswer {
	now := time.Now().Unix()

	var q wsQuery
	if err := json.Unmarshal(data, &q); err != nil {
		return wsAnswer{Error: "invalid query", Timestamp: now}
	}
	if q.UserID == "" {
		return wsAnswer{Error: "missing user_id", Timestamp: now}
	}

	rec, err := ws.node.Lookup(q.UserID)
	if err == nil && rec == nil && q.Network {
		rec, err = ws.node.LookupNetwork(q.UserID)
	}
	if err != nil {
		log.Printf("WebSocket query for %s failed: %v", q.UserID, err)
		return wsAnswer{UserID: q.UserID, Error: "lookup failed", Timestamp: now}
	}
	if rec == nil {
		return wsAnswer{OK: true, UserID: q.UserID, Found: false, Timestamp: now}
	}

	return wsAnswer{
		OK:        true,
		UserID:    rec.UserID,
		Found:     true,
		IsSpammer: rec.IsSpammer,
		Record:    rec,
		Timestamp: now,
	}
}
