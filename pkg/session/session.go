// Package session resolves the authenticated user for a request. Execution
// entry points fail fast when no user is present.
package session

import (
	"context"
	"sync"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

type contextKey struct{}

// WithUser attaches a user to the context
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// ContextProvider reads the user from the request context. It is the normal
// provider when an outer layer has already authenticated the caller.
type ContextProvider struct{}

// CurrentUser returns the context's user or ErrUnauthenticated
func (ContextProvider) CurrentUser(ctx context.Context) (*domain.User, error) {
	user, ok := ctx.Value(contextKey{}).(*domain.User)
	if !ok || user == nil {
		return nil, domain.ErrUnauthenticated
	}
	return user, nil
}

// StaticProvider always returns one fixed user, for single-user deployments
// and the CLI.
type StaticProvider struct {
	mu   sync.RWMutex
	user *domain.User
}

// NewStaticProvider creates a provider bound to the given user
func NewStaticProvider(user *domain.User) *StaticProvider {
	return &StaticProvider{user: user}
}

// CurrentUser returns the bound user or ErrUnauthenticated when unset
func (p *StaticProvider) CurrentUser(ctx context.Context) (*domain.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil {
		return nil, domain.ErrUnauthenticated
	}
	return p.user, nil
}

// SetUser rebinds the provider, or clears it when user is nil
func (p *StaticProvider) SetUser(user *domain.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
}

type tokenKey struct{}

// WithToken attaches a bearer token to the context for TokenProvider
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenProvider resolves users from a static token table, typically loaded
// from configuration. The table is immutable after construction.
type TokenProvider struct {
	users map[string]domain.User
}

// NewTokenProvider creates a provider over a token→user table
func NewTokenProvider(users map[string]domain.User) *TokenProvider {
	table := make(map[string]domain.User, len(users))
	for token, user := range users {
		table[token] = user
	}
	return &TokenProvider{users: table}
}

// CurrentUser resolves the context's token against the table. A missing or
// unknown token is ErrUnauthenticated.
func (p *TokenProvider) CurrentUser(ctx context.Context) (*domain.User, error) {
	token, ok := ctx.Value(tokenKey{}).(string)
	if !ok || token == "" {
		return nil, domain.ErrUnauthenticated
	}
	user, ok := p.users[token]
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return &user, nil
}
