package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// User is a GoTrue user. Raw keeps the full JSON document so callers can
// probe metadata fields without a schema.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
	Raw          []byte         `json:"-"`
}

// Session is the result of a successful sign-in.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// SignInWithPassword exchanges email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   body,
		apiKey: c.anonKey,
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		Session
		User json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	session := raw.Session
	if len(raw.User) > 0 {
		u, err := decodeUser(raw.User)
		if err != nil {
			return nil, err
		}
		session.User = u
	}
	return &session, nil
}

// GetUser resolves an access token to its user.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	resp, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/auth/v1/user",
		apiKey:     c.anonKey,
		bearer:     accessToken,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeUser(resp.Body)
}

// CreateUser registers a confirmed user through the admin API. It needs
// the service key.
func (c *Client) CreateUser(ctx context.Context, email, password string, metadata map[string]any) (*User, error) {
	if c.serviceKey == "" {
		return nil, fmt.Errorf("supabase: service key required to create users")
	}
	body, err := json.Marshal(map[string]any{
		"email":         email,
		"password":      password,
		"email_confirm": true,
		"user_metadata": metadata,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/admin/users",
		body:   body,
		apiKey: c.serviceKey,
	})
	if err != nil {
		return nil, err
	}
	return decodeUser(resp.Body)
}

func decodeUser(data []byte) (*User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	u.Raw = append([]byte(nil), data...)
	return &u, nil
}
