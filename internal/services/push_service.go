package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"crosscall-backend/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by the CORS layer in front of the upgrade.
		return true
	},
}

// PushMessage is the envelope every WebSocket client receives.
type PushMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id"`
	Data      interface{} `json:"data"`
}

// RequestStatusUpdate is pushed on every lifecycle transition and when the
// expiry watcher flags a request cancel-eligible.
type RequestStatusUpdate struct {
	RequestID      string `json:"request_id"`
	Status         string `json:"status"`
	CancelEligible bool   `json:"cancel_eligible,omitempty"`
	Filler         string `json:"filler,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// PushService is a broadcast-only WebSocket hub. Clients subscribe to all
// lifecycle transitions; a slow client is dropped rather than allowed to
// block the hub.
type PushService struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func NewPushService() *PushService {
	return &PushService{clients: make(map[string]*wsClient)}
}

// HandleConnection upgrades the HTTP request and serves the client until it
// disconnects.
func (s *PushService) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()
	metrics.WSConnectedClients.Inc()
	log.Printf("WebSocket client %s connected", client.id)

	go s.writeLoop(client)
	s.readLoop(client)
}

func (s *PushService) readLoop(client *wsClient) {
	defer s.drop(client)
	client.conn.SetReadLimit(4096)
	for {
		// Inbound frames are only pings/noise; the hub is broadcast-only.
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *PushService) writeLoop(client *wsClient) {
	for payload := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
		metrics.WSMessagesSent.Inc()
	}
}

func (s *PushService) drop(client *wsClient) {
	s.mu.Lock()
	if _, ok := s.clients[client.id]; ok {
		delete(s.clients, client.id)
		close(client.send)
		metrics.WSConnectedClients.Dec()
	}
	s.mu.Unlock()
	client.conn.Close()
	log.Printf("WebSocket client %s disconnected", client.id)
}

// Broadcast sends one message to every connected client.
func (s *PushService) Broadcast(msgType string, data interface{}) {
	msg := PushMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.New().String(),
		Data:      data,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ Failed to marshal push message: %v", err)
		return
	}

	s.mu.RLock()
	stale := make([]*wsClient, 0)
	for _, client := range s.clients {
		select {
		case client.send <- payload:
		default:
			stale = append(stale, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range stale {
		s.drop(client)
	}
}

// BroadcastStatusUpdate pushes a request lifecycle transition.
func (s *PushService) BroadcastStatusUpdate(update RequestStatusUpdate) {
	s.Broadcast("request_status_update", update)
}
