// Package secrets keeps connection credentials out of the app file. A
// credential written as ${{secrets.KEY}} is resolved from the vault when the
// app is loaded.
package secrets

import "context"

// Vault stores secrets encrypted at rest and resolves them in memory only.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the persistence the vault writes ciphertext to.
// Satisfied by store.LibSQLStore and store.RedisStore.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
