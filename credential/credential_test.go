package credential

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/hupe1980/toolmesh/mesherror"
)

// fakeKeyring keeps entries in a map; optionally fails every call to model
// an unavailable OS keyring.
type fakeKeyring struct {
	entries map[string]string
	broken  bool
}

func newFakeKeyring() *fakeKeyring {
	return &fakeKeyring{entries: make(map[string]string)}
}

func (k *fakeKeyring) Get(service, user string) (string, error) {
	if k.broken {
		return "", fmt.Errorf("keyring backend unavailable")
	}
	v, ok := k.entries[service+"|"+user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func (k *fakeKeyring) Set(service, user, secret string) error {
	if k.broken {
		return fmt.Errorf("keyring backend unavailable")
	}
	k.entries[service+"|"+user] = secret
	return nil
}

func (k *fakeKeyring) Delete(service, user string) error {
	if k.broken {
		return fmt.Errorf("keyring backend unavailable")
	}
	key := service + "|" + user
	if _, ok := k.entries[key]; !ok {
		return keyring.ErrNotFound
	}
	delete(k.entries, key)
	return nil
}

func newTestResolver(kr Keyring, env map[string]string) *Resolver {
	return NewResolver(func(o *Options) {
		o.Keyring = kr
		o.LookupEnv = func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		}
		o.Environ = func() []string {
			out := make([]string, 0, len(env))
			for k, v := range env {
				out = append(out, k+"="+v)
			}
			return out
		}
	})
}

func TestResolverPrecedence(t *testing.T) {
	t.Run("active profile wins over env", func(t *testing.T) {
		kr := newFakeKeyring()
		r := newTestResolver(kr, map[string]string{"ANTHROPIC_API_KEY": "env-key"})

		require.NoError(t, r.SaveProfile("anthropic", "work", "profile-key"))
		r.UseProfile("anthropic", "work")

		key, ok := r.Resolve("anthropic")
		require.True(t, ok)
		assert.Equal(t, "profile-key", key)
	})

	t.Run("well-known env var", func(t *testing.T) {
		r := newTestResolver(newFakeKeyring(), map[string]string{"OPENAI_API_KEY": "env-key"})

		key, ok := r.Resolve("openai")
		require.True(t, ok)
		assert.Equal(t, "env-key", key)
	})

	t.Run("saved profile without activation", func(t *testing.T) {
		kr := newFakeKeyring()
		r := newTestResolver(kr, nil)

		require.NoError(t, r.SaveProfile("anthropic", "personal", "saved-key"))

		key, ok := r.Resolve("anthropic")
		require.True(t, ok)
		assert.Equal(t, "saved-key", key)
	})

	t.Run("heuristic env scan", func(t *testing.T) {
		r := newTestResolver(newFakeKeyring(), map[string]string{"ACME_SECRET_KEY": "scanned"})

		key, ok := r.Resolve("acme")
		require.True(t, ok)
		assert.Equal(t, "scanned", key)
	})

	t.Run("total miss is absence not error", func(t *testing.T) {
		r := newTestResolver(newFakeKeyring(), map[string]string{"UNRELATED": "x"})

		key, ok := r.Resolve("anthropic")
		assert.False(t, ok)
		assert.Empty(t, key)
	})
}

func TestResolverKeyringUnavailable(t *testing.T) {
	kr := newFakeKeyring()
	kr.broken = true
	r := newTestResolver(kr, map[string]string{"ANTHROPIC_API_KEY": "env-key"})

	r.UseProfile("anthropic", "work")

	key, ok := r.Resolve("anthropic")
	require.True(t, ok, "broken keyring degrades to the env chain")
	assert.Equal(t, "env-key", key)
}

func TestResolverProfileLifecycle(t *testing.T) {
	kr := newFakeKeyring()
	r := newTestResolver(kr, nil)

	require.NoError(t, r.SaveProfile("openai", "a", "key-a"))
	require.NoError(t, r.SaveProfile("openai", "b", "key-b"))
	assert.Equal(t, []string{"a", "b"}, r.Profiles("openai"))

	r.UseProfile("openai", "b")
	key, ok := r.Resolve("openai")
	require.True(t, ok)
	assert.Equal(t, "key-b", key)

	require.NoError(t, r.DeleteProfile("openai", "b"))
	assert.Equal(t, []string{"a"}, r.Profiles("openai"))

	// The deleted profile was active; resolution falls back to what remains.
	key, ok = r.Resolve("openai")
	require.True(t, ok)
	assert.Equal(t, "key-a", key)

	require.NoError(t, r.DeleteProfile("openai", "missing"), "deleting an absent profile is a no-op")
}

func TestResolverSaveProfileValidation(t *testing.T) {
	r := newTestResolver(newFakeKeyring(), nil)

	assert.Error(t, r.SaveProfile("openai", "", "key"))
	assert.Error(t, r.SaveProfile("openai", "name", ""))
}

func TestErrMissing(t *testing.T) {
	err := ErrMissing("anthropic")
	require.Error(t, err)
	assert.Equal(t, mesherror.KindCredentialMissing, mesherror.KindOf(err))
	assert.Contains(t, err.Error(), "anthropic")
}
