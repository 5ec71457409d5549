// Package identity is the user-identity collaborator: it supplies a stable
// user id and notifies when one becomes available. Authentication itself is
// the host's concern.
package identity

import "sync"

// Provider exposes the current user identity.
type Provider interface {
	// CurrentUserID returns the signed-in user's id, or false while no
	// identity is available.
	CurrentUserID() (string, bool)

	// OnChange registers a callback invoked whenever the identity changes.
	// An empty id means the user signed out.
	OnChange(fn func(userID string))
}

// StaticProvider is a Provider whose identity the host sets explicitly.
// Thread-safe for concurrent access.
type StaticProvider struct {
	mu        sync.Mutex
	userID    string
	callbacks []func(string)
}

// NewStaticProvider creates a provider, optionally pre-seeded with a user id.
func NewStaticProvider(userID string) *StaticProvider {
	return &StaticProvider{userID: userID}
}

// CurrentUserID returns the current identity.
func (p *StaticProvider) CurrentUserID() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID, p.userID != ""
}

// OnChange registers an identity-change callback.
func (p *StaticProvider) OnChange(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, fn)
}

// Set updates the identity and notifies registered callbacks.
// Setting the same id again does not notify.
func (p *StaticProvider) Set(userID string) {
	p.mu.Lock()
	if p.userID == userID {
		p.mu.Unlock()
		return
	}
	p.userID = userID
	callbacks := make([]func(string), len(p.callbacks))
	copy(callbacks, p.callbacks)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(userID)
	}
}
