package auth

import (
	"context"
	"errors"
)

// Sentinel errors for auth store operations.
var (
	// ErrIdentityNotFound is returned when an identity does not exist.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrAPIKeyNotFound is returned when an API key hash has no match.
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// AuthStore provides credential lookup for authentication.
// This interface is defined in the domain to avoid circular imports.
// Implementations: in-memory (memory package).
type AuthStore interface {
	// GetAPIKey retrieves an API key by its hash.
	// Returns ErrAPIKeyNotFound if key doesn't exist.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// GetIdentity retrieves an identity by ID.
	// Returns ErrIdentityNotFound if identity doesn't exist.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// ListAPIKeys returns all stored API keys for iteration-based verification.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}
