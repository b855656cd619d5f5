package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
)

const notifierBuffer = 256

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// AnalysisNotifier keeps track of websocket clients and broadcasts analysis
// events to them. It implements analysis.Observer without blocking the
// pipeline: events are queued and dropped when the queue is full.
type AnalysisNotifier struct {
	mu        sync.Mutex
	clients   map[*wsClient]struct{}
	lastEvent *analysis.Event

	queue chan analysis.Event
	done  chan struct{}
	once  sync.Once
}

// NewAnalysisNotifier constructs a notifier and starts its delivery loop.
func NewAnalysisNotifier() *AnalysisNotifier {
	n := &AnalysisNotifier{
		clients: make(map[*wsClient]struct{}),
		queue:   make(chan analysis.Event, notifierBuffer),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// OnAnalysisEvent queues the event for delivery.
func (n *AnalysisNotifier) OnAnalysisEvent(e analysis.Event) {
	select {
	case <-n.done:
	case n.queue <- e:
	default:
		logrus.WithField("type", e.Type).Warn("analysis event dropped: notifier queue full")
	}
}

func (n *AnalysisNotifier) run() {
	for {
		select {
		case <-n.done:
			return
		case e := <-n.queue:
			n.Broadcast(e)
		}
	}
}

// Close stops delivery and disconnects every client.
func (n *AnalysisNotifier) Close() {
	n.once.Do(func() {
		close(n.done)
		n.mu.Lock()
		for client := range n.clients {
			_ = client.conn.Close()
			delete(n.clients, client)
		}
		n.mu.Unlock()
	})
}

// Register attaches a websocket connection and replays the last event.
func (n *AnalysisNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	last := n.lastEvent
	n.mu.Unlock()

	if last != nil {
		_ = client.writeJSON(*last)
	}
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *AnalysisNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the event to all registered websocket clients.
func (n *AnalysisNotifier) Broadcast(event analysis.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	if event.Type == analysis.EventCompleted || event.Type == analysis.EventDegraded || event.Type == analysis.EventCacheHit {
		snapshot := event
		n.lastEvent = &snapshot
	}
	clients := make([]*wsClient, 0, len(n.clients))
	for client := range n.clients {
		clients = append(clients, client)
	}
	n.mu.Unlock()

	// Writes happen outside n.mu so a slow socket cannot stall Register,
	// Clients or Close.
	for _, client := range clients {
		if err := client.writeJSON(event); err != nil {
			n.Unregister(client)
		}
	}
}

// LastEvent returns the most recent terminal event, if any.
func (n *AnalysisNotifier) LastEvent() *analysis.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastEvent == nil {
		return nil
	}
	event := *n.lastEvent
	return &event
}

// Clients returns the number of connected websocket clients.
func (n *AnalysisNotifier) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
