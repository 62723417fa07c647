package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/rendis/flowforge/pkg/schema"
)

const (
	keySize           = 32
	defaultIterations = 100_000
	// sealVersion prefixes every stored value so the format can change
	// without guessing.
	sealVersion byte = 1
)

// VaultConfig selects how the AES key is obtained. MasterKey wins over
// Passphrase; a passphrase needs a Salt.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 rounds, defaults to 100k
}

func (c VaultConfig) key() ([]byte, error) {
	switch {
	case len(c.MasterKey) > 0:
		if len(c.MasterKey) != keySize {
			return nil, schema.NewErrorf(schema.ErrCodeVault, "master key must be %d bytes, got %d", keySize, len(c.MasterKey))
		}
		return c.MasterKey, nil
	case c.Passphrase == "":
		return nil, schema.NewError(schema.ErrCodeVault, "vault needs a master key or a passphrase")
	case len(c.Salt) == 0:
		return nil, schema.NewError(schema.ErrCodeVault, "vault passphrase needs a salt")
	}
	rounds := c.Iterations
	if rounds <= 0 {
		rounds = defaultIterations
	}
	return pbkdf2.Key(sha256.New, c.Passphrase, c.Salt, rounds, keySize)
}

// AESVault seals values with AES-256-GCM before handing them to the store.
// The secret's name is bound in as associated data, so a sealed value
// copied under another name fails to open.
type AESVault struct {
	store SecretStore
	gcm   cipher.AEAD
}

// NewAESVault creates a vault over s.
func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := cfg.key()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeVault, "init cipher").WithCause(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeVault, "init gcm").WithCause(err)
	}
	return &AESVault{store: s, gcm: gcm}, nil
}

// seal returns version | nonce | ciphertext.
func (v *AESVault) seal(name string, plaintext []byte) ([]byte, error) {
	out := make([]byte, 1+v.gcm.NonceSize(), 1+v.gcm.NonceSize()+len(plaintext)+v.gcm.Overhead())
	out[0] = sealVersion
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("vault nonce: %w", err)
	}
	return v.gcm.Seal(out, out[1:], plaintext, []byte(name)), nil
}

func (v *AESVault) open(name string, sealed []byte) ([]byte, error) {
	ns := v.gcm.NonceSize()
	if len(sealed) < 1+ns+v.gcm.Overhead() {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q is truncated", name)
	}
	if sealed[0] != sealVersion {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q has unknown format %d", name, sealed[0])
	}
	plain, err := v.gcm.Open(nil, sealed[1:1+ns], sealed[1+ns:], []byte(name))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q cannot be opened with this key", name)
	}
	return plain, nil
}

// Store seals value and saves it under name.
func (v *AESVault) Store(ctx context.Context, name string, value []byte) error {
	sealed, err := v.seal(name, value)
	if err != nil {
		return err
	}
	return v.store.StoreSecret(ctx, name, sealed)
}

// Resolve loads and opens the secret called name.
func (v *AESVault) Resolve(ctx context.Context, name string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	return v.open(name, sealed)
}

func (v *AESVault) Delete(ctx context.Context, name string) error {
	return v.store.DeleteSecret(ctx, name)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
