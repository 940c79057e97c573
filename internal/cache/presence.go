// Package cache holds the Redis-backed presence relay used on the server
// side, so a second instance can observe typing and online state. Keys:
//
//	<prefix>:typing:<conversationID> -> role, with the typing-window TTL
//	<prefix>:presence:<userID>       -> "1" while connected
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

type PresenceStore struct {
	client *redis.Client
	prefix string
	window time.Duration
}

func NewPresenceStore(client *redis.Client, prefix string, window time.Duration) *PresenceStore {
	return &PresenceStore{client: client, prefix: prefix, window: window}
}

func (s *PresenceStore) typingKey(convID string) string { return s.prefix + ":typing:" + convID }
func (s *PresenceStore) onlineKey(userID string) string { return s.prefix + ":presence:" + userID }

// SetTyping records the typing signal with the inactivity-window TTL; Redis
// expiry clears it without further input.
func (s *PresenceStore) SetTyping(ctx context.Context, convID string, role models.Role) error {
	return s.client.Set(ctx, s.typingKey(convID), string(role), s.window).Err()
}

// Typing returns the role currently typing in the conversation, if any.
func (s *PresenceStore) Typing(ctx context.Context, convID string) (models.Role, bool, error) {
	v, err := s.client.Get(ctx, s.typingKey(convID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return models.Role(v), true, nil
}

func (s *PresenceStore) SetOnline(ctx context.Context, userID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.onlineKey(userID), "1", ttl).Err()
}

func (s *PresenceStore) SetOffline(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.onlineKey(userID)).Err()
}

func (s *PresenceStore) Online(ctx context.Context, userID string) (bool, error) {
	v, err := s.client.Get(ctx, s.onlineKey(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}
