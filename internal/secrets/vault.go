// Package secrets seals credentials with AES-256-GCM before they reach the
// event log database, so the generator API key never sits on disk in clear.
package secrets

import "context"

// KeyLLMAPIKey holds the generator API key.
const KeyLLMAPIKey = "llm_api_key"

// Vault stores and resolves named secrets. Values are decrypted in memory only.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore persists sealed values. Satisfied by *store.LibSQLStore.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
