package acoustic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	cfg   *FieldConfig
	err   error
	loads int
}

func (s *stubSource) LoadFieldConfig(ctx context.Context) (*FieldConfig, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.cfg, nil
}

func TestConfigCache_ServesSnapshotWithinTTL(t *testing.T) {
	source := &stubSource{cfg: &FieldConfig{MainFields: map[string]bool{"email": true}}}
	cache := NewConfigCache(source, time.Minute)

	clock := time.Date(2023, 4, 5, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	first, err := cache.Get(context.Background())
	require.NoError(t, err)
	second, err := cache.Get(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, source.loads)
}

func TestConfigCache_RefreshesAfterTTL(t *testing.T) {
	source := &stubSource{cfg: &FieldConfig{}}
	cache := NewConfigCache(source, time.Minute)

	clock := time.Date(2023, 4, 5, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, source.loads)
}

func TestConfigCache_ServesStaleOnRefreshFailure(t *testing.T) {
	source := &stubSource{cfg: &FieldConfig{MainFields: map[string]bool{"email": true}}}
	cache := NewConfigCache(source, time.Minute)

	clock := time.Date(2023, 4, 5, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	first, err := cache.Get(context.Background())
	require.NoError(t, err)

	source.err = errors.New("db down")
	clock = clock.Add(2 * time.Minute)

	stale, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, stale)
}

func TestConfigCache_FirstLoadFailureSurfaces(t *testing.T) {
	source := &stubSource{err: errors.New("db down")}
	cache := NewConfigCache(source, time.Minute)

	_, err := cache.Get(context.Background())
	assert.Error(t, err)
}
