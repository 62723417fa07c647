// Package secrets keeps collaborator credentials, such as the image API
// token, encrypted at rest in the workflow store.
package secrets

import "context"

// ImageAPITokenKey names the vault entry holding the image-generation API token.
const ImageAPITokenKey = "imagegen.api_token"

// Resolver is the read side of a Vault.
type Resolver interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
}

// Vault stores named secrets encrypted with AES-256-GCM. Plaintext only
// ever lives in memory.
type Vault interface {
	Resolver
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the persistence the vault writes ciphertext to.
// Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
