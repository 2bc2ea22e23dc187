// Package broadcast fans out engine events to WebSocket subscribers: the
// provisioning status feed, the users-in-change roster, and live provision
// logs. Delivery is at-most-once and best-effort; there is no replay.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wobcom/netbox-sub000/internal/domain"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
	"github.com/wobcom/netbox-sub000/internal/pkg/worker"
)

// Subscriber group names.
const (
	GroupProvisionStatus = "provision_status"
	GroupUsersInChange   = "users_in_change"
)

// sendBuffer bounds the per-subscriber queue. A subscriber that falls this
// far behind is dropped rather than slowing the publisher.
const sendBuffer = 16

// Submitter runs the per-subscriber pump tasks.
type Submitter interface {
	SubmitDetached(poolName string, task worker.Task) error
}

// Subscriber is one WebSocket connection in a group.
type Subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *Subscriber) close() {
	s.once.Do(func() {
		close(s.send)
	})
}

// Hub is the named-group broadcaster.
type Hub struct {
	submitter Submitter

	mu     sync.RWMutex
	groups map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub(submitter Submitter) *Hub {
	return &Hub{
		submitter: submitter,
		groups:    make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe attaches the connection to a group and pumps messages to it
// until the peer disconnects or the subscriber is dropped. Blocks for the
// lifetime of the connection.
func (h *Hub) Subscribe(group string, conn *websocket.Conn) {
	sub := &Subscriber{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Subscriber]struct{})
	}
	h.groups[group][sub] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.unsubscribe(group, sub)
		conn.Close()
	}()

	// Reader pump: discard inbound frames, detect disconnect.
	done := make(chan struct{})
	if err := h.submitter.SubmitDetached("general", func(_ context.Context) {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}); err != nil {
		logger.Warn("cannot start subscriber reader", zap.Error(err))
		return
	}

	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Publish sends the payload to every subscriber of the group. Subscribers
// whose queue is full are dropped.
func (h *Hub) Publish(group string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("cannot encode broadcast payload",
			zap.String("group", group), zap.Error(err))
		return
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.groups[group]))
	for sub := range h.groups[group] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.send <- data:
		default:
			logger.Debug("dropping slow broadcast subscriber",
				zap.String("group", group))
			h.unsubscribe(group, sub)
		}
	}
}

// SubscriberCount returns the current size of a group.
func (h *Hub) SubscriberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) unsubscribe(group string, sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.groups[group][sub]; ok {
		delete(h.groups[group], sub)
		sub.close()
	}
	h.mu.Unlock()
}

// statusPayload is the provision status broadcast shape.
type statusPayload struct {
	ID     int64       `json:"id"`
	Status statusLabel `json:"status"`
}

type statusLabel struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ProvisionStatus publishes a provision status transition.
func (h *Hub) ProvisionStatus(id int64, status domain.ProvisionStatus) {
	h.Publish(GroupProvisionStatus, statusPayload{
		ID:     id,
		Status: statusLabel{ID: string(status), Label: status.Label()},
	})
}

// UsersInChange publishes the users-in-change roster.
func (h *Hub) UsersInChange(users []string) {
	if users == nil {
		users = []string{}
	}
	h.Publish(GroupUsersInChange, map[string]interface{}{"users": users})
}
