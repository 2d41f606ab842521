package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rewards-ledger/internal/domain"
)

// Message types
const (
	MessageTypeWalletUpdate      = "wallet_update"
	MessageTypeLevelUp           = "level_up"
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WalletUpdate is pushed to a user's channel after a balance change
type WalletUpdate struct {
	Balance            int64                `json:"balance"`
	RecentTransactions []domain.Transaction `json:"recent_transactions"`
}

// UserChannel is the private channel every connection of userID joins
func UserChannel(userID string) string {
	return "user:" + userID
}

// PeriodChannel is the channel of a leaderboard period
func PeriodChannel(p domain.Period) string {
	return "leaderboard:" + string(p)
}

// Relay carries encoded messages to every hub instance, including this one.
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
}

// Stats describes the hub's connections
type Stats struct {
	Connections int            `json:"connections"`
	Channels    map[string]int `json:"channels"`
}

type envelope struct {
	channel string
	data    []byte
}

type subscriptionRequest struct {
	client *Client
	period domain.Period
	leave  bool
}

// Hub tracks connected clients and fans messages out to channels. Every
// client sits in its user channel and in at most one period channel.
type Hub struct {
	// Clients by channel name
	channels map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan envelope
	subscribe   chan subscriptionRequest
	outbound    chan envelope
	relay       Relay
	snapshots   func(domain.Period) (domain.LeaderboardSnapshot, bool)
	onSubscribe func(domain.Period)

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		channels:   make(map[string]map[*Client]bool),
		allClients: make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
		subscribe:  make(chan subscriptionRequest, 64),
		outbound:   make(chan envelope, 256),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetRelay routes published messages through r instead of delivering them
// locally. r must feed them back through Deliver. Call it once, before the
// first publish.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
	go h.relayLoop()
}

// relayLoop is the only writer to the relay, so messages leave this instance
// in the order they were published.
func (h *Hub) relayLoop() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case env := <-h.outbound:
			ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
			err := h.relay.Publish(ctx, env.data)
			cancel()
			if err != nil {
				h.logger.Warn("relay publish failed, delivering locally", "channel", env.channel, "error", err)
				h.enqueue(env)
			}
		}
	}
}

// SetSnapshots sets the lookup used to greet new period subscribers with the
// last committed leaderboard.
func (h *Hub) SetSnapshots(fn func(domain.Period) (domain.LeaderboardSnapshot, bool)) {
	h.snapshots = fn
}

// OnSubscribe registers a hook run whenever a client joins a period channel
func (h *Hub) OnSubscribe(fn func(domain.Period)) {
	h.onSubscribe = fn
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.join(client, UserChannel(client.userID))
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id, "user_id", client.userID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				h.leave(client, UserChannel(client.userID))
				if client.period != "" {
					h.leave(client, PeriodChannel(client.period))
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.handleSubscription(req)

		case env := <-h.broadcast:
			h.fanOut(env)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) join(c *Client, channel string) {
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][c] = true
}

func (h *Hub) leave(c *Client, channel string) {
	if clients, ok := h.channels[channel]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
}

func (h *Hub) handleSubscription(req subscriptionRequest) {
	c := req.client

	h.mu.Lock()
	if _, ok := h.allClients[c]; !ok {
		h.mu.Unlock()
		return
	}
	previous := c.period
	if previous != "" {
		h.leave(c, PeriodChannel(previous))
		c.period = ""
	}
	if !req.leave {
		h.join(c, PeriodChannel(req.period))
		c.period = req.period
	}
	h.mu.Unlock()

	if req.leave {
		c.sendMessage(Message{Type: MessageTypeUnsubscribed, Channel: channelOf(previous), Timestamp: time.Now()})
		h.logger.Debug("client unsubscribed", "client_id", c.id, "period", previous)
		return
	}

	c.sendMessage(Message{Type: MessageTypeSubscribed, Channel: PeriodChannel(req.period), Timestamp: time.Now()})
	if h.snapshots != nil {
		if snap, ok := h.snapshots(req.period); ok {
			c.sendMessage(leaderboardMessage(snap))
		}
	}
	if h.onSubscribe != nil {
		h.onSubscribe(req.period)
	}
	h.logger.Debug("client subscribed", "client_id", c.id, "period", req.period, "previous", previous)
}

func channelOf(p domain.Period) string {
	if p == "" {
		return ""
	}
	return PeriodChannel(p)
}

// fanOut sends to every client in the channel. A full client buffer drops the
// message for that client only.
func (h *Hub) fanOut(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[env.channel] {
		select {
		case client.send <- env.data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id, "channel", env.channel)
		}
	}
}

// Deliver fans an encoded Message out to local subscribers of its channel
func (h *Hub) Deliver(payload []byte) {
	var head struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Channel == "" {
		h.logger.Warn("dropping message without channel", "error", err)
		return
	}
	h.enqueue(envelope{channel: head.Channel, data: payload})
}

func (h *Hub) enqueue(env envelope) {
	select {
	case h.broadcast <- env:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "channel", env.channel)
	}
}

// publish never blocks the caller and never reports failure; a reward must
// not depend on anyone listening.
func (h *Hub) publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}
	env := envelope{channel: msg.Channel, data: data}
	if h.relay == nil {
		h.enqueue(env)
		return
	}
	select {
	case h.outbound <- env:
	default:
		h.logger.Warn("relay queue full, dropping message", "channel", msg.Channel)
	}
}

// PublishWallet pushes a wallet update to the user's channel
func (h *Hub) PublishWallet(view domain.WalletView) {
	h.publish(Message{
		Type:    MessageTypeWalletUpdate,
		Channel: UserChannel(view.UserID),
		Data: WalletUpdate{
			Balance:            view.Balance,
			RecentTransactions: view.RecentTransactions,
		},
		Timestamp: time.Now(),
	})
}

// PublishLevelUp pushes a level-up to the user's channel
func (h *Hub) PublishLevelUp(lu domain.LevelUp) {
	h.publish(Message{
		Type:      MessageTypeLevelUp,
		Channel:   UserChannel(lu.UserID),
		Data:      lu,
		Timestamp: time.Now(),
	})
}

// PublishLeaderboard pushes a snapshot to the period's subscribers
func (h *Hub) PublishLeaderboard(snap domain.LeaderboardSnapshot) {
	h.publish(leaderboardMessage(snap))
}

func leaderboardMessage(snap domain.LeaderboardSnapshot) Message {
	return Message{
		Type:      MessageTypeLeaderboardUpdate,
		Channel:   PeriodChannel(snap.Period),
		Data:      snap,
		Timestamp: snap.ComputedAt,
	}
}

// Register adds a client to the hub and its user channel
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from every channel
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe moves a client into the period channel, leaving its previous one
func (h *Hub) Subscribe(client *Client, p domain.Period) {
	h.subscribe <- subscriptionRequest{client: client, period: p}
}

// Unsubscribe removes a client from its period channel
func (h *Hub) Unsubscribe(client *Client) {
	h.subscribe <- subscriptionRequest{client: client, leave: true}
}

// SubscriberCount returns the number of clients in a channel
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// TotalConnections returns the total number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

// Stats returns connection and per-period subscriber counts
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := Stats{Connections: len(h.allClients), Channels: map[string]int{}}
	for _, p := range domain.AllPeriods() {
		stats.Channels[PeriodChannel(p)] = len(h.channels[PeriodChannel(p)])
	}
	return stats
}
