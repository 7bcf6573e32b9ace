package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Layer carries group messages between processes.
type Layer interface {
	Publish(ctx context.Context, group string, msg Message) error
	Run(ctx context.Context, deliver func(group string, msg Message)) error
}

// Hub tracks group membership of the clients connected to this process.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	layer  Layer
	logger *slog.Logger
}

// NewHub builds a hub. With a nil layer, publishes are delivered locally.
func NewHub(layer Layer, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
		layer:  layer,
		logger: logger,
	}
}

// Join adds c to group.
func (h *Hub) Join(group string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Client]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}
}

// Leave removes c from group.
func (h *Hub) Leave(group string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(group, c)
}

// LeaveAll removes c from every group it joined.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for group := range h.groups {
		h.leaveLocked(group, c)
	}
}

func (h *Hub) leaveLocked(group string, c *Client) {
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Members returns the number of local clients in group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Publish sends msg to group. With a layer the message goes through it and
// reaches local members when the layer delivers it back.
func (h *Hub) Publish(ctx context.Context, group string, msg Message) error {
	msg.Group = group
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if h.layer != nil {
		return h.layer.Publish(ctx, group, msg)
	}
	h.Deliver(group, msg)
	return nil
}

// Deliver writes msg to every local member of group. Clients whose send
// queue is full are disconnected.
func (h *Hub) Deliver(group string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("realtime encode", slog.String("group", group), slog.Any("error", err))
		return
	}
	h.mu.RLock()
	var slow []*Client
	for c := range h.groups[group] {
		if !c.Enqueue(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("realtime client too slow, dropping", slog.String("client", c.ID()), slog.String("group", group))
		h.LeaveAll(c)
		c.Close()
	}
}

// Run blocks delivering messages from the layer until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.layer == nil {
		<-ctx.Done()
		return nil
	}
	return h.layer.Run(ctx, h.Deliver)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
