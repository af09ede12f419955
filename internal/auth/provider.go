package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/supabase"
	"github.com/greenhospital/reporting/pkg/logger"
)

// Session is returned by a successful login.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        Principal `json:"user"`
}

// Provider exchanges credentials for a session.
type Provider interface {
	Login(ctx context.Context, email, password string) (Session, error)
}

// Authenticator resolves bearer tokens to principals. The profile row is
// authoritative; when it cannot be read the principal falls back to token
// metadata so the user still gets a basic view.
type Authenticator struct {
	tokens   *TokenManager
	profiles storage.ProfileStore
	log      *logger.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens *TokenManager, profiles storage.ProfileStore, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Authenticator{tokens: tokens, profiles: profiles, log: log}
}

// Authenticate verifies token and loads the caller's profile.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	v, err := a.tokens.Verify(token)
	if err != nil {
		return Principal{}, err
	}
	return a.resolve(ctx, v.Claims.Subject, v.Claims.Email, v.Payload), nil
}

func (a *Authenticator) resolve(ctx context.Context, userID, email string, doc []byte) Principal {
	p, err := a.profiles.GetProfile(ctx, userID)
	if err == nil {
		return FromProfile(p)
	}
	a.log.WithContext(ctx).WithError(err).WithField("user_id", userID).Warn("profile lookup failed, using token metadata")
	return Fallback(userID, email, doc)
}

// LocalProvider checks bcrypt hashes held in memory and issues its own
// tokens. Profiles come from the configured store.
type LocalProvider struct {
	hashes   map[string][]byte
	profiles storage.ProfileStore
	tokens   *TokenManager
}

// NewLocalProvider creates a provider from email to bcrypt hash pairs.
func NewLocalProvider(hashes map[string]string, profiles storage.ProfileStore, tokens *TokenManager) *LocalProvider {
	m := make(map[string][]byte, len(hashes))
	for email, hash := range hashes {
		m[strings.ToLower(email)] = []byte(hash)
	}
	return &LocalProvider{hashes: m, profiles: profiles, tokens: tokens}
}

// Login verifies the password and issues a token.
func (p *LocalProvider) Login(ctx context.Context, email, password string) (Session, error) {
	hash, ok := p.hashes[strings.ToLower(email)]
	if !ok {
		// Compare anyway so unknown emails take as long as bad passwords.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Session{}, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return Session{}, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	}
	prof, err := p.profiles.GetProfileByEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("load profile: %w", err)
	}
	token, expires, err := p.tokens.Issue(prof)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, ExpiresAt: expires, User: FromProfile(prof)}, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)

// HashPassword returns a bcrypt hash suitable for LocalProvider.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", apperr.Invalid("password required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// SupabaseProvider signs in through GoTrue.
type SupabaseProvider struct {
	client *supabase.Client
	auth   *Authenticator
}

// NewSupabaseProvider creates a provider using client for sign-in and
// authenticator for profile resolution.
func NewSupabaseProvider(client *supabase.Client, authenticator *Authenticator) *SupabaseProvider {
	return &SupabaseProvider{client: client, auth: authenticator}
}

// Login performs the password grant and resolves the user's profile.
func (p *SupabaseProvider) Login(ctx context.Context, email, password string) (Session, error) {
	s, err := p.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		if supabase.IsUnauthorized(err) {
			return Session{}, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
		}
		return Session{}, fmt.Errorf("supabase sign-in: %w", err)
	}
	if s.User == nil {
		return Session{}, errors.New("supabase sign-in returned no user")
	}
	principal := p.auth.resolve(ctx, s.User.ID, s.User.Email, s.User.Raw)
	return Session{
		AccessToken: s.AccessToken,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(s.ExpiresIn) * time.Second),
		User:        principal,
	}, nil
}
