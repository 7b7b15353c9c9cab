// Package sse streams routing activity to connected observers over
// Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"inbox_routing_backend/internal/events"
	"inbox_routing_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventMessageCreated       EventType = "message_created"
	EventLeadRouted           EventType = "lead_routed"
	EventLeadAssigned         EventType = "lead_assigned"
	EventLeadTransferred      EventType = "lead_transferred"
	EventConversationClosed   EventType = "conversation_closed"
	EventConversationReopened EventType = "conversation_reopened"
)

const clientBuffer = 32

// Event represents an SSE event payload
type Event struct {
	Type           EventType `json:"type"`
	LeadID         uuid.UUID `json:"leadId,omitempty"`
	ConversationID uuid.UUID `json:"conversationId,omitempty"`
	Data           any       `json:"data,omitempty"`
}

type client struct {
	userID   uuid.UUID
	tenantID uuid.UUID
	events   chan Event
	closed   bool
}

// Service manages SSE connections and fans events out per tenant.
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client // tenantID -> clients
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.tenantID] = append(s.clients[c.tenantID], c)
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.tenantID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.tenantID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(s.clients[c.tenantID]) == 0 {
		delete(s.clients, c.tenantID)
	}
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// ClientCount returns the number of connections observing a tenant.
func (s *Service) ClientCount(tenantID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[tenantID])
}

// Publish sends an event to every connection of a tenant. Slow clients
// whose buffer is full miss the event.
func (s *Service) Publish(tenantID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients[tenantID] {
		if c.closed {
			continue
		}
		select {
		case c.events <- event:
		default:
			if s.log != nil {
				s.log.Warn("sse buffer full, dropping event",
					slog.String("tenant_id", tenantID.String()),
					slog.String("user_id", c.userID.String()),
					slog.String("type", string(event.Type)),
				)
			}
		}
	}
}

// Handle forwards routing domain events to the tenant's observers.
func (s *Service) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadRouted:
		s.Publish(e.TenantID, Event{Type: EventLeadRouted, LeadID: e.LeadID, ConversationID: e.ConversationID, Data: e})
	case events.LeadAssigned:
		s.Publish(e.TenantID, Event{Type: EventLeadAssigned, LeadID: e.LeadID, Data: e})
	case events.LeadTransferred:
		s.Publish(e.TenantID, Event{Type: EventLeadTransferred, LeadID: e.LeadID, Data: e})
	case events.ConversationClosed:
		s.Publish(e.TenantID, Event{Type: EventConversationClosed, LeadID: e.LeadID, ConversationID: e.ConversationID, Data: e})
	case events.ConversationReopened:
		s.Publish(e.TenantID, Event{Type: EventConversationReopened, LeadID: e.LeadID, ConversationID: e.ConversationID, Data: e})
	}
	return nil
}

// Subscribe registers the service on the bus for every routing event.
func (s *Service) Subscribe(bus events.Bus) {
	for _, name := range events.RoutingEventNames {
		bus.Subscribe(name, s)
	}
}

// Handler returns a Gin handler for SSE connections
func (s *Service) Handler(getUserID func(*gin.Context) (uuid.UUID, bool), getTenantID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := getUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		tenantID, ok := getTenantID(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant ID is required"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{
			userID:   userID,
			tenantID: tenantID,
			events:   make(chan Event, clientBuffer),
		}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"userId": userID, "tenantId": tenantID})
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					continue
				}
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every client.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, clients := range s.clients {
		for _, c := range clients {
			if !c.closed {
				c.closed = true
				close(c.events)
			}
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
}
