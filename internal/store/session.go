package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cinema-checkout/internal/status"
)

const (
	sessionKey    = "session"
	membershipKey = "membership_snapshot"
)

// Session identifies the signed-in customer. It is loaded once and passed
// explicitly to whatever constructs a payment controller; nothing reads it
// through a global.
type Session struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
}

// NoteBase derives the human part of a transfer note: username, else
// email, else "user" plus the uid tail.
func (s *Session) NoteBase() string {
	if s == nil {
		return "user"
	}
	if s.UserName != "" {
		return s.UserName
	}
	if s.UserEmail != "" {
		return s.UserEmail
	}
	if len(s.UserID) > 4 {
		return "user" + s.UserID[len(s.UserID)-4:]
	}
	return "user"
}

func LoadSession(ctx context.Context, s LocalStore) (*Session, error) {
	raw, err := s.Get(ctx, sessionKey)
	if errors.Is(err, status.ErrKeyNotFound) {
		return nil, status.ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	return &sess, nil
}

func SaveSession(ctx context.Context, s LocalStore, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	return s.Set(ctx, sessionKey, string(raw))
}

// SaveMembershipSnapshot persists the loyalty payload a successful
// confirmation may carry. Stored verbatim; other screens only display it.
func SaveMembershipSnapshot(ctx context.Context, s LocalStore, snapshot json.RawMessage) error {
	if len(snapshot) == 0 {
		return nil
	}
	return s.Set(ctx, membershipKey, string(snapshot))
}

func LoadMembershipSnapshot(ctx context.Context, s LocalStore) (json.RawMessage, error) {
	raw, err := s.Get(ctx, membershipKey)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
