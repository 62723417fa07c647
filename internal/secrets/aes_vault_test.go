package secrets

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/pkg/schema"
)

type memSecrets struct {
	mu   sync.Mutex
	rows map[string][]byte
}

func (m *memSecrets) StoreSecret(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[string][]byte)
	}
	m.rows[key] = bytes.Clone(value)
	return nil
}

func (m *memSecrets) GetSecret(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return bytes.Clone(v), nil
}

func (m *memSecrets) DeleteSecret(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.rows, key)
	return nil
}

func (m *memSecrets) ListSecrets(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func masterKey(seed byte) []byte {
	return bytes.Repeat([]byte{seed}, keySize)
}

func newVault(t *testing.T, s SecretStore) *AESVault {
	t.Helper()
	v, err := NewAESVault(s, VaultConfig{MasterKey: masterKey(7)})
	require.NoError(t, err)
	return v
}

func TestAESVault_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := &memSecrets{}
	v := newVault(t, s)

	require.NoError(t, v.Store(ctx, ImageAPITokenKey, []byte("r8_token")))

	got, err := v.Resolve(ctx, ImageAPITokenKey)
	require.NoError(t, err)
	assert.Equal(t, "r8_token", string(got))

	raw := s.rows[ImageAPITokenKey]
	assert.Equal(t, sealVersion, raw[0])
	assert.NotContains(t, string(raw), "r8_token")
}

func TestAESVault_FreshNoncePerStore(t *testing.T) {
	ctx := context.Background()
	s := &memSecrets{}
	v := newVault(t, s)

	require.NoError(t, v.Store(ctx, "a", []byte("same")))
	first := bytes.Clone(s.rows["a"])
	require.NoError(t, v.Store(ctx, "a", []byte("same")))
	assert.NotEqual(t, first, s.rows["a"])
}

func TestAESVault_PassphraseKey(t *testing.T) {
	ctx := context.Background()
	s := &memSecrets{}
	cfg := VaultConfig{Passphrase: "correct horse", Salt: []byte("flowforge-test"), Iterations: 1000}

	v1, err := NewAESVault(s, cfg)
	require.NoError(t, err)
	require.NoError(t, v1.Store(ctx, "k", []byte("v")))

	v2, err := NewAESVault(s, cfg)
	require.NoError(t, err)
	got, err := v2.Resolve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestAESVault_OpenFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		tamper func(s *memSecrets)
		vault  func(t *testing.T, s *memSecrets) *AESVault
	}{
		{
			name:   "wrong key",
			tamper: func(*memSecrets) {},
			vault: func(t *testing.T, s *memSecrets) *AESVault {
				v, err := NewAESVault(s, VaultConfig{MasterKey: masterKey(9)})
				require.NoError(t, err)
				return v
			},
		},
		{
			name: "moved under another name",
			tamper: func(s *memSecrets) {
				s.rows["token"] = s.rows["other"]
			},
		},
		{
			name:   "truncated",
			tamper: func(s *memSecrets) { s.rows["token"] = s.rows["token"][:5] },
		},
		{
			name:   "unknown format",
			tamper: func(s *memSecrets) { s.rows["token"][0] = 99 },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &memSecrets{}
			v := newVault(t, s)
			require.NoError(t, v.Store(ctx, "token", []byte("secret")))
			require.NoError(t, v.Store(ctx, "other", []byte("decoy")))
			tc.tamper(s)
			if tc.vault != nil {
				v = tc.vault(t, s)
			}

			_, err := v.Resolve(ctx, "token")
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeVault), err.Error())
		})
	}
}

func TestAESVault_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	v := newVault(t, &memSecrets{})

	for _, k := range []string{ImageAPITokenKey, "webhook.signing_key"} {
		require.NoError(t, v.Store(ctx, k, []byte("x")))
	}
	keys, err := v.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ImageAPITokenKey, "webhook.signing_key"}, keys)

	require.NoError(t, v.Delete(ctx, "webhook.signing_key"))
	_, err = v.Resolve(ctx, "webhook.signing_key")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestVaultConfig_Rejects(t *testing.T) {
	tests := map[string]VaultConfig{
		"short master key":    {MasterKey: []byte("short")},
		"nothing configured":  {},
		"passphrase, no salt": {Passphrase: "pass"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewAESVault(&memSecrets{}, cfg)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
		})
	}
}
