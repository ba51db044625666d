package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovrium/sovrium/pkg/schema"
)

// memStore is an in-memory SecretStore.
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *memStore) DeleteSecret(_ context.Context, key string) error {
	if _, ok := m.data[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.data, key)
	return nil
}

func (m *memStore) ListSecrets(context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func masterKey(first byte) []byte {
	key := make([]byte, 32)
	key[0] = first
	return key
}

func newVault(t *testing.T) (*AESVault, *memStore) {
	t.Helper()
	s := newMemStore()
	v, err := NewAESVault(s, VaultConfig{MasterKey: masterKey(1)})
	require.NoError(t, err)
	return v, s
}

func TestAESVault_RoundTrip(t *testing.T) {
	v, s := newVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "notion_token", []byte("secret_abc")))
	assert.NotContains(t, string(s.data["notion_token"]), "secret_abc")

	val, err := v.Resolve(ctx, "notion_token")
	require.NoError(t, err)
	assert.Equal(t, "secret_abc", string(val))

	require.NoError(t, v.Store(ctx, "notion_token", []byte("secret_def")))
	val, err = v.Resolve(ctx, "notion_token")
	require.NoError(t, err)
	assert.Equal(t, "secret_def", string(val))
}

func TestAESVault_RandomNonce(t *testing.T) {
	v, s := newVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "a", []byte("same")))
	require.NoError(t, v.Store(ctx, "b", []byte("same")))
	assert.NotEqual(t, s.data["a"], s.data["b"])
}

func TestAESVault_Passphrase(t *testing.T) {
	s := newMemStore()
	cfg := VaultConfig{Passphrase: "correct horse", Salt: []byte("sovrium-test"), Iterations: 1000}
	v, err := NewAESVault(s, cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Store(ctx, "k", []byte("value")))

	again, err := NewAESVault(s, cfg)
	require.NoError(t, err)
	val, err := again.Resolve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "value", string(val))
}

func TestAESVault_WrongKey(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	v1, err := NewAESVault(s, VaultConfig{MasterKey: masterKey(1)})
	require.NoError(t, err)
	require.NoError(t, v1.Store(ctx, "k", []byte("hidden")))

	v2, err := NewAESVault(s, VaultConfig{MasterKey: masterKey(2)})
	require.NoError(t, err)
	_, err = v2.Resolve(ctx, "k")
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
}

func TestAESVault_DeleteAndList(t *testing.T) {
	v, _ := newVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "a", []byte("1")))
	require.NoError(t, v.Store(ctx, "b", []byte("2")))
	keys, err := v.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, v.Delete(ctx, "a"))
	_, err = v.Resolve(ctx, "a")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestAESVault_InvalidKeys(t *testing.T) {
	v, _ := newVault(t)
	ctx := context.Background()

	assert.True(t, schema.IsCode(v.Store(ctx, "has space", []byte("x")), schema.ErrCodeVault))
	_, err := v.Resolve(ctx, "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
}

func TestNewAESVault_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  VaultConfig
	}{
		{"short master key", VaultConfig{MasterKey: []byte("too-short")}},
		{"nothing", VaultConfig{}},
		{"passphrase without salt", VaultConfig{Passphrase: "pass"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAESVault(newMemStore(), tt.cfg)
			assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
		})
	}
}
