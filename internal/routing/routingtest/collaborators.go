package routingtest

import (
	"context"
	"sync"

	"inbox_routing_backend/internal/routing/apikey"
	"inbox_routing_backend/internal/routing/domain"

	"github.com/google/uuid"
)

// SentText is one message handed to the transport.
type SentText struct {
	ChannelID string
	LeadID    string
	Text      string
}

// Sender records texts and optionally fails.
type Sender struct {
	mu   sync.Mutex
	sent []SentText
	Err  error
}

// SendText implements ports.Sender.
func (s *Sender) SendText(_ context.Context, channel domain.Channel, lead domain.Lead, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.sent = append(s.sent, SentText{ChannelID: channel.ID.String(), LeadID: lead.ID.String(), Text: text})
	return nil
}

// Sent returns a copy of every delivered text.
func (s *Sender) Sent() []SentText {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentText(nil), s.sent...)
}

// Broadcaster records broadcast messages and optionally fails.
type Broadcaster struct {
	mu       sync.Mutex
	messages []domain.Message
	Err      error
}

// BroadcastMessage implements ports.Broadcaster.
func (b *Broadcaster) BroadcastMessage(_ context.Context, _ domain.Conversation, message domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.messages = append(b.messages, message)
	return nil
}

// Messages returns a copy of every broadcast message.
func (b *Broadcaster) Messages() []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message(nil), b.messages...)
}

// APIKeys is an in-memory apikey.Lookup.
type APIKeys struct {
	mu   sync.Mutex
	keys map[string]apikey.Key
}

// Issue creates an active key and returns its plaintext.
func (k *APIKeys) Issue(tenantID uuid.UUID, channelID *uuid.UUID) string {
	plaintext, hash, prefix, err := apikey.Generate()
	if err != nil {
		panic(err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys == nil {
		k.keys = make(map[string]apikey.Key)
	}
	k.keys[hash] = apikey.Key{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ChannelID: channelID,
		KeyHash:   hash,
		KeyPrefix: prefix,
		IsActive:  true,
	}
	return plaintext
}

// GetAPIKeyByHash implements apikey.Lookup.
func (k *APIKeys) GetAPIKeyByHash(_ context.Context, keyHash string) (apikey.Key, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[keyHash]
	if !ok || !key.IsActive {
		return apikey.Key{}, apikey.ErrNotFound
	}
	return key, nil
}
