package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"market-platform/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, creds ...string) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "nested", "user_settings.json"), creds)
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Credentials)
	assert.NotNil(t, doc.Defaults.Commands)
	assert.Nil(t, doc.CommandDefaults("/equity/price/historical"))
}

func TestStore_SaveAndLoad(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	doc := &models.MUserSettings{
		Credentials: map[string]string{"fmp_api_key": "secret"},
		Defaults: models.MDefaults{Commands: map[string]map[string]any{
			"/equity/price/historical": {"provider": "fmp", "interval": "1d"},
		}},
	}
	require.NoError(t, s.Save(ctx, doc))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Credentials["fmp_api_key"])
	assert.Equal(t, "fmp", got.CommandDefaults("/equity/price/historical")["provider"])

	// callers get private copies
	got.Credentials["fmp_api_key"] = "changed"
	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret", again.Credentials["fmp_api_key"])
}

func TestStore_ReloadsAfterExternalWrite(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCredential(ctx, "fmp_api_key", "one"))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "one", got.Credentials["fmp_api_key"])

	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"credentials":{"fmp_api_key":"two-longer"}}`), 0o644))
	require.NoError(t, os.Chtimes(s.Path(), later, later))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two-longer", got.Credentials["fmp_api_key"])
}

func TestStore_Update(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCommandDefaults(ctx, "/crypto/price/historical", map[string]any{"provider": "binance"}))
	require.NoError(t, s.SetCredential(ctx, "fmp_api_key", "k"))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "binance", got.CommandDefaults("/crypto/price/historical")["provider"])
	assert.Equal(t, "k", got.Credentials["fmp_api_key"])

	require.NoError(t, s.SetCommandDefaults(ctx, "/crypto/price/historical", nil))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.CommandDefaults("/crypto/price/historical"))
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			other := NewStore(s.Path(), nil)
			assert.NoError(t, other.SetCredential(ctx, name, name))
		}(name)
	}
	wg.Wait()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	for _, name := range names {
		assert.Equal(t, name, got.Credentials[name])
	}
}

func TestStore_CorruptFile(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "decode")
}

func TestStore_CancelledLock(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetCredential(ctx, "x", "y"))

	holder := NewStore(s.Path(), nil)
	locked, err := holder.lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer holder.lock.Unlock()

	cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	err = s.SetCredential(cctx, "x", "z")
	assert.Error(t, err)
}

// Environment tests mutate process state and are not parallel.

func TestStore_EnvOverlay(t *testing.T) {
	t.Setenv("FMP_API_KEY", "from-env")
	t.Setenv("MARKET_PLATFORM_BYBIT_API_KEY", "prefixed")
	t.Setenv("BYBIT_API_KEY", "plain")

	s := newStore(t, "fmp_api_key", "bybit_api_key", "binance_api_key")
	ctx := context.Background()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got.Credentials["fmp_api_key"])
	assert.Equal(t, "prefixed", got.Credentials["bybit_api_key"])
	assert.NotContains(t, got.Credentials, "binance_api_key")

	require.NoError(t, s.SetCredential(ctx, "fmp_api_key", "stored"))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stored", got.Credentials["fmp_api_key"])

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "prefixed")
}
