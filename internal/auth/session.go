package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"gwi.com/jedi-chat-client/internal/cache"
)

// CredentialStore persists the bearer credential between runs.
type CredentialStore interface {
	LoadCredential() (string, error)
	SaveCredential(credential string) error
	ClearCredential() error
}

// Poster sends a JSON request and decodes the JSON response.
type Poster interface {
	JSON(ctx context.Context, method, path string, body, out any) error
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

var ErrNoToken = errors.New("server returned no token")

// Session owns the credential of the signed in user.
type Session struct {
	mu         sync.RWMutex
	credential string

	creds CredentialStore
	cache *cache.Store
}

// NewSession restores the persisted credential, if any. Logout clears
// cacheStore.
func NewSession(creds CredentialStore, cacheStore *cache.Store) (*Session, error) {
	s := &Session{creds: creds, cache: cacheStore}
	if creds == nil {
		return s, nil
	}
	credential, err := creds.LoadCredential()
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	s.credential = credential
	return s, nil
}

// Credential returns the current bearer credential, empty when signed out.
func (s *Session) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

func (s *Session) SignedIn() bool {
	return s.Credential() != ""
}

func (s *Session) Login(ctx context.Context, api Poster, c Credentials) error {
	return s.authenticate(ctx, api, "/auth/login", c)
}

func (s *Session) Signup(ctx context.Context, api Poster, c Credentials) error {
	return s.authenticate(ctx, api, "/auth/signup", c)
}

func (s *Session) authenticate(ctx context.Context, api Poster, path string, c Credentials) error {
	var resp tokenResponse
	if err := api.JSON(ctx, http.MethodPost, path, c, &resp); err != nil {
		return fmt.Errorf("failed to authenticate %s: %w", c.Username, err)
	}
	if resp.Token == "" {
		return ErrNoToken
	}
	return s.SetCredential(resp.Token)
}

// SetCredential replaces and persists the credential.
func (s *Session) SetCredential(credential string) error {
	s.mu.Lock()
	s.credential = credential
	s.mu.Unlock()

	if s.creds == nil {
		return nil
	}
	if err := s.creds.SaveCredential(credential); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Logout forgets the credential and drops every cached value.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.credential = ""
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Clear()
	}
	if s.creds == nil {
		return nil
	}
	if err := s.creds.ClearCredential(); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	log.Println("Signed out, local cache cleared")
	return nil
}
