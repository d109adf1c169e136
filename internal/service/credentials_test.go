package service

import (
	"context"
	"testing"

	"chatgpt-ui-server/backend/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	value string
	err   error
	reads int
}

func (f *fakeSettings) GetValue(ctx context.Context, name string) (string, error) {
	f.reads++
	return f.value, f.err
}

func TestResolveEnvironmentKeyWins(t *testing.T) {
	settings := &fakeSettings{value: "db-key"}
	source := NewAPIKeySource("env-key", settings, cache.NewCache(), testLogger())

	key, err := source.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)
	assert.Zero(t, settings.reads)
}

func TestResolveReadsSettingsOnceThenCaches(t *testing.T) {
	settings := &fakeSettings{value: "db-key"}
	source := NewAPIKeySource("", settings, cache.NewCache(), testLogger())

	for i := 0; i < 3; i++ {
		key, err := source.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "db-key", key)
	}
	assert.Equal(t, 1, settings.reads)
}

func TestResolvePicksUpRotatedKeyAfterInvalidate(t *testing.T) {
	settings := &fakeSettings{value: "old-key"}
	source := NewAPIKeySource("", settings, cache.NewCache(), testLogger())

	key, err := source.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "old-key", key)

	// An admin rotates the stored key; the memoized copy still serves
	settings.value = "new-key"
	key, err = source.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-key", key)

	source.Invalidate()
	key, err = source.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-key", key)
}

func TestResolveNoKeyAnywhere(t *testing.T) {
	source := NewAPIKeySource("", &fakeSettings{}, cache.NewCache(), testLogger())

	_, err := source.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
