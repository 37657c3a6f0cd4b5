// Package broadcast is the authenticated publish/subscribe fabric. Topic
// membership lives in the hub; a publish to a topic reaches exactly its
// current member set.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bus-tracker/internal/auth"
)

const maxMessageBytes = 8 * 1024

// Authorizer decides whether a principal may join a topic. Connect-time
// auto-subscriptions (user-<id>, role-<role>) bypass it.
type Authorizer interface {
	CanJoin(ctx context.Context, p auth.Principal, topic string) error
}

// Handler receives inbound messages from connections.
type Handler interface {
	HandleMessage(c *Client, data []byte)
}

// Mirror receives a copy of every trip/vehicle topic publish, e.g. to relay
// it onto a message bus for non-websocket consumers. Best effort.
type Mirror interface {
	Mirror(topic string, data []byte)
}

// Metrics is implemented by the host to observe hub activity.
type Metrics interface {
	ConnectionsSet(n int)
	TopicsSet(n int)
	DeliveredAdd(n int)
	PrunedInc()
}

type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (o *Options) fillDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = o.PingInterval * 2
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

type Hub struct {
	resolver *auth.Resolver
	authz    Authorizer
	handler  Handler
	mirror   Mirror
	metrics  Metrics

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	sendBuffer   int

	upgrader websocket.Upgrader

	mu      sync.Mutex
	topics  map[string]map[*Client]bool
	members map[*Client]map[string]bool
}

func NewHub(resolver *auth.Resolver, authz Authorizer, opts Options) *Hub {
	opts.fillDefaults()
	return &Hub{
		resolver:     resolver,
		authz:        authz,
		pingInterval: opts.PingInterval,
		pongTimeout:  opts.PongTimeout,
		writeTimeout: opts.WriteTimeout,
		sendBuffer:   opts.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		topics:  make(map[string]map[*Client]bool),
		members: make(map[*Client]map[string]bool),
	}
}

// SetHandler wires the inbound message handler. Must be called before ServeWS.
func (h *Hub) SetHandler(handler Handler) { h.handler = handler }

func (h *Hub) SetMirror(m Mirror)   { h.mirror = m }
func (h *Hub) SetMetrics(m Metrics) { h.metrics = m }

// ServeWS authenticates the request, upgrades it and runs the connection. An
// unresolvable credential is rejected before any topic interaction.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}
	principal, err := h.resolver.Resolve(token)
	if err != nil {
		log.Printf("ws auth rejected: %v", err)
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	c := h.register(principal, conn)
	go c.writePump()
	go c.readPump()
}

// register adds a connection and auto-subscribes its user and role topics.
func (h *Hub) register(p auth.Principal, conn *websocket.Conn) *Client {
	c := &Client{
		hub:       h,
		conn:      conn,
		principal: p,
		send:      make(chan []byte, h.sendBuffer),
	}
	h.mu.Lock()
	h.members[c] = make(map[string]bool)
	h.joinLocked(c, UserTopic(p.ID))
	h.joinLocked(c, RoleTopic(string(p.Role)))
	h.updateGaugesLocked()
	h.mu.Unlock()
	log.Printf("ws connected: %s (%s)", p.ID, p.Role)
	return c
}

// unregister removes the connection from every topic it holds.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	topics, ok := h.members[c]
	if ok {
		for topic := range topics {
			h.leaveLocked(c, topic)
		}
		delete(h.members, c)
	}
	h.updateGaugesLocked()
	h.mu.Unlock()
	if ok {
		c.closeSend()
		log.Printf("ws disconnected: %s", c.principal.ID)
	}
}

// drop prunes a non-responsive or slow connection.
func (h *Hub) drop(c *Client) {
	h.unregister(c)
	if c.conn != nil {
		c.conn.Close()
	}
	if h.metrics != nil {
		h.metrics.PrunedInc()
	}
}

// Join subscribes the connection to a topic after authorization.
func (h *Hub) Join(ctx context.Context, c *Client, topic string) error {
	if _, _, err := ParseTopic(topic); err != nil {
		return err
	}
	if h.authz != nil {
		if err := h.authz.CanJoin(ctx, c.principal, topic); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[c]; !ok {
		return fmt.Errorf("connection is gone")
	}
	h.joinLocked(c, topic)
	h.updateGaugesLocked()
	return nil
}

// Leave unsubscribes the connection from a topic.
func (h *Hub) Leave(c *Client, topic string) {
	h.mu.Lock()
	h.leaveLocked(c, topic)
	if m, ok := h.members[c]; ok {
		delete(m, topic)
	}
	h.updateGaugesLocked()
	h.mu.Unlock()
}

func (h *Hub) joinLocked(c *Client, topic string) {
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][c] = true
	h.members[c][topic] = true
}

func (h *Hub) leaveLocked(c *Client, topic string) {
	if members, ok := h.topics[topic]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish fans payload out to the topic's current members and returns how
// many received it. Delivery goes through per-client buffers; one topic never
// blocks another.
func (h *Hub) Publish(topic string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("publish marshal error on %s: %v", topic, err)
		return 0
	}
	h.mu.Lock()
	members := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		members = append(members, c)
	}
	h.mu.Unlock()

	delivered := 0
	for _, c := range members {
		if c.enqueue(data) {
			delivered++
		}
	}
	if h.metrics != nil {
		h.metrics.DeliveredAdd(delivered)
	}
	if h.mirror != nil && mirrored(topic) {
		h.mirror.Mirror(topic, data)
	}
	return delivered
}

// Subscribers returns the current member count of a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) updateGaugesLocked() {
	if h.metrics == nil {
		return
	}
	h.metrics.ConnectionsSet(len(h.members))
	h.metrics.TopicsSet(len(h.topics))
}

// Only entity feeds are mirrored outward; user and role topics stay local.
func mirrored(topic string) bool {
	return strings.HasPrefix(topic, KindTrip+"-") || strings.HasPrefix(topic, KindVehicle+"-")
}

func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
