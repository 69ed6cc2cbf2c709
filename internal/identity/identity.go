// Package identity carries the authenticated caller through a request.
//
// A Context is constructed once at request entry from a verified
// credential and passed explicitly down the call chain — orchestration
// loop, tool executor, stores. It is never placed in a context.Context
// value, never persisted, and never overridden by anything the model
// supplies in tool arguments. The UserID here is the sole source of
// truth for data scoping.
package identity

import "github.com/google/uuid"

// Context identifies the authenticated caller for one request.
type Context struct {
	// UserID is the verified user identifier. Every store read and
	// write in the request is scoped by this value.
	UserID string

	// RequestID correlates log lines across the request. Assigned at
	// entry, purely diagnostic.
	RequestID string
}

// New returns a Context for a verified user with a fresh request ID.
func New(userID string) Context {
	return Context{
		UserID:    userID,
		RequestID: uuid.NewString(),
	}
}

// Provider verifies an inbound credential and yields the user it
// belongs to. Authentication itself (JWT issuance, OAuth flows) lives
// outside this service; the HTTP layer only needs token -> user.
type Provider interface {
	Verify(token string) (userID string, ok bool)
}

// StaticProvider is a fixed token table, loaded from config. Suitable
// for development and tests; production deployments front the service
// with a real identity provider.
type StaticProvider struct {
	tokens map[string]string
}

// NewStaticProvider builds a provider from a token -> user id map.
func NewStaticProvider(tokens map[string]string) *StaticProvider {
	m := make(map[string]string, len(tokens))
	for tok, user := range tokens {
		if tok != "" && user != "" {
			m[tok] = user
		}
	}
	return &StaticProvider{tokens: m}
}

// Verify implements Provider.
func (p *StaticProvider) Verify(token string) (string, bool) {
	user, ok := p.tokens[token]
	return user, ok
}
